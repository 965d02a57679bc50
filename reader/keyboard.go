package reader

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/kenshaw/evdev"
)

// Keyboard implements CardReader for USB keyboard-wedge readers that type
// the card number followed by Enter. One poller reads the device for the
// reader's whole life so no keystroke is split between calls.
type Keyboard struct {
	device    *evdev.Evdev
	events    <-chan *evdev.EventEnvelope
	stop      context.CancelFunc
	numDigits int  // expected number of digits (0 = any)
	isHex     bool // true for hex input, false for decimal
	format    string
}

// NewKeyboard opens a keyboard reader on the given input device.
// Format is "<n>h" (n hex digits) or "<n>d" (n decimal digits); the
// default is "10h".
func NewKeyboard(device string, format string) (*Keyboard, error) {
	numDigits, isHex, format, err := parseFormat(format)
	if err != nil {
		return nil, err
	}

	dev, err := evdev.OpenFile(device)
	if err != nil {
		return nil, fmt.Errorf("open evdev %s: %w", device, err)
	}

	log.Printf("Opened keyboard device: %s", dev.Name())
	log.Printf("Vendor: 0x%04x, Product: 0x%04x", dev.ID().Vendor, dev.ID().Product)

	return newKeyboard(dev, numDigits, isHex, format), nil
}

func newKeyboard(dev *evdev.Evdev, numDigits int, isHex bool, format string) *Keyboard {
	ctx, stop := context.WithCancel(context.Background())
	return &Keyboard{
		device:    dev,
		events:    dev.Poll(ctx),
		stop:      stop,
		numDigits: numDigits,
		isHex:     isHex,
		format:    format,
	}
}

func parseFormat(format string) (numDigits int, isHex bool, normalized string, err error) {
	if format == "" {
		format = "10h"
	}
	format = strings.ToLower(format)

	digits := format
	isHex = true
	switch {
	case strings.HasSuffix(format, "h"):
		digits = strings.TrimSuffix(format, "h")
	case strings.HasSuffix(format, "d"):
		digits = strings.TrimSuffix(format, "d")
		isHex = false
	}

	numDigits, err = strconv.Atoi(digits)
	if err != nil || numDigits < 0 {
		return 0, false, "", fmt.Errorf("bad keyboard format %q", format)
	}
	return numDigits, isHex, format, nil
}

// WaitForCard implements CardReader.WaitForCard.
func (k *Keyboard) WaitForCard(ctx context.Context) (string, error) {
	if k.device == nil {
		return "", fmt.Errorf("keyboard device closed")
	}

	var strbuf string
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case event, ok := <-k.events:
			if !ok || event == nil {
				return "", fmt.Errorf("keyboard device closed")
			}

			switch event.Type.(type) {
			case evdev.KeyType:
				if event.Value != 1 {
					continue
				}

				if event.Type == evdev.KeyEnter {
					if strbuf == "" {
						continue
					}
					id, err := k.decode(strbuf)
					strbuf = ""
					if err != nil {
						log.Printf("Bad badge: %v", err)
						continue
					}
					return id, nil
				}

				strbuf += evdev.KeyType(event.Code).String()
			}
		}
	}
}

// decode turns the typed digits into a normalized identifier. Decimal
// badges carry a 32-bit number, rendered as its four big-endian bytes.
func (k *Keyboard) decode(digits string) (string, error) {
	if k.numDigits > 0 && len(digits) != k.numDigits {
		return "", fmt.Errorf("expected %d digits, got %d (%q)", k.numDigits, len(digits), digits)
	}
	return decodeDigits(digits, k.isHex)
}

func decodeDigits(digits string, isHex bool) (string, error) {
	if isHex {
		if len(digits)%2 != 0 {
			digits = "0" + digits
		}
		var uid []byte
		for i := 0; i < len(digits); i += 2 {
			b, err := strconv.ParseUint(digits[i:i+2], 16, 8)
			if err != nil {
				return "", fmt.Errorf("bad hex badge %q: %w", digits, err)
			}
			uid = append(uid, byte(b))
		}
		return NormalizeUID(uid), nil
	}

	number, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return "", fmt.Errorf("bad decimal badge %q: %w", digits, err)
	}
	var uid [4]byte
	binary.BigEndian.PutUint32(uid[:], uint32(number&0xffffffff))
	return NormalizeUID(uid[:]), nil
}

// Close implements CardReader.Close. It stops the poller and drains
// anything it was still trying to deliver.
func (k *Keyboard) Close() error {
	if k.device == nil {
		return nil
	}
	k.stop()
	err := k.device.Close()
	k.device = nil

	go func(events <-chan *evdev.EventEnvelope) {
		for range events {
		}
	}(k.events)
	return err
}
