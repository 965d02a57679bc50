package reader

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/tarm/serial"
)

// Serial implements CardReader for serial RFID readers using a framed
// protocol: [0x02][0x09][d0 d1 t0 t1 t2 t3][xor][0x03]. The four t bytes
// are the card UID.
type Serial struct {
	port   *serial.Port
	device string
}

// NewSerial opens a serial RFID reader. Baud defaults to 115200.
func NewSerial(device string, baud int) (*Serial, error) {
	if baud == 0 {
		baud = 115200
	}
	c := &serial.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: time.Second,
	}
	port, err := serial.OpenPort(c)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", device, err)
	}

	return &Serial{port: port, device: device}, nil
}

// WaitForCard implements CardReader.WaitForCard.
func (s *Serial) WaitForCard(ctx context.Context) (string, error) {
	if s.port == nil {
		return "", fmt.Errorf("serial %s closed", s.device)
	}

	buff := make([]byte, 9)
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		n, err := s.port.Read(buff)
		if err != nil || n != len(buff) {
			// Timeout or partial frame, try again.
			time.Sleep(100 * time.Millisecond)
			continue
		}

		if uid, ok := parseSerialFrame(buff); ok {
			return NormalizeUID(uid), nil
		}
	}
}

// parseSerialFrame validates framing and checksum and returns the UID.
func parseSerialFrame(buff []byte) ([]byte, bool) {
	if len(buff) != 9 {
		return nil, false
	}
	if !bytes.Equal(buff[0:2], []byte{0x02, 0x09}) {
		return nil, false
	}
	if buff[8] != 0x03 {
		return nil, false
	}

	data := buff[1:7]
	xor := data[0]
	for i := 1; i < len(data); i++ {
		xor ^= data[i]
	}
	if xor != buff[7] {
		return nil, false
	}

	return append([]byte(nil), data[2:6]...), true
}

// Close implements CardReader.Close.
func (s *Serial) Close() error {
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}
