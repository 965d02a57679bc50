package reader

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"
)

const (
	stx = 0x02
	etx = 0x03
)

// Wiegand implements CardReader for readers that send each tag as ASCII hex
// between STX and ETX: ten data digits (one vendor byte and the four tag
// bytes) optionally followed by two checksum digits, the XOR of the five
// data bytes.
type Wiegand struct {
	port   serial.Port
	device string
}

// NewWiegand opens a Wiegand-style reader. Baud defaults to 9600.
func NewWiegand(device string, baud int) (*Wiegand, error) {
	if baud == 0 {
		baud = 9600
	}

	mode := &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}

	p, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", device, err)
	}
	if err := p.SetReadTimeout(50 * time.Millisecond); err != nil {
		p.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}

	w := &Wiegand{port: p, device: device}
	w.flush()
	return w, nil
}

// WaitForCard implements CardReader.WaitForCard.
func (w *Wiegand) WaitForCard(ctx context.Context) (string, error) {
	if w.port == nil {
		return "", fmt.Errorf("serial %s closed", w.device)
	}

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		body, err := w.readFrame()
		if err != nil {
			return "", err
		}
		if body == "" {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		id, err := parseWiegandFrame(body)
		if err != nil {
			return "", &ProtocolError{Response: []byte(body), Reason: err.Error()}
		}
		return id, nil
	}
}

// readFrame returns the text between STX and ETX, or "" when nothing
// complete arrived before the read timeout.
func (w *Wiegand) readFrame() (string, error) {
	first := make([]byte, 1)
	n, err := w.port.Read(first)
	if err != nil {
		return "", fmt.Errorf("read STX: %w", err)
	}
	if n == 0 {
		return "", nil
	}
	if first[0] != stx {
		w.flush()
		return "", nil
	}

	var body strings.Builder
	buf := make([]byte, 1)
	for {
		n, err := w.port.Read(buf)
		if err != nil {
			return "", fmt.Errorf("read body: %w", err)
		}
		if n == 0 {
			w.flush()
			return "", nil
		}
		if buf[0] == etx {
			return body.String(), nil
		}
		body.WriteByte(buf[0])
	}
}

// parseWiegandFrame checks the optional checksum and returns the four tag
// bytes as a card identifier.
func parseWiegandFrame(body string) (string, error) {
	body = strings.TrimSpace(body)
	if len(body) < 10 {
		body = strings.Repeat("0", 10-len(body)) + body
	}
	if len(body) != 10 && len(body) != 12 {
		return "", fmt.Errorf("frame length %d", len(body))
	}

	raw, err := hex.DecodeString(body)
	if err != nil {
		return "", fmt.Errorf("frame not hex: %w", err)
	}

	if len(raw) == 6 {
		var sum byte
		for _, b := range raw[:5] {
			sum ^= b
		}
		if sum != raw[5] {
			return "", fmt.Errorf("checksum %02X, want %02X", raw[5], sum)
		}
	}
	return NormalizeUID(raw[1:5]), nil
}

// Close implements CardReader.Close.
func (w *Wiegand) Close() error {
	if w.port == nil {
		return nil
	}
	err := w.port.Close()
	w.port = nil
	return err
}

// flush drains whatever is buffered so the next read starts on a frame
// boundary.
func (w *Wiegand) flush() {
	if w.port == nil {
		return
	}
	_ = w.port.SetReadTimeout(10 * time.Millisecond)
	defer func() {
		_ = w.port.SetReadTimeout(50 * time.Millisecond)
	}()

	tmp := make([]byte, 64)
	for {
		n, err := w.port.Read(tmp)
		if err != nil || n == 0 {
			return
		}
	}
}
