package reader

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrReaderNotFound is returned when no connected reader matches the
// configured family.
var ErrReaderNotFound = errors.New("card reader not found")

// CardReader is the interface for all card reader implementations.
type CardReader interface {
	// WaitForCard blocks until a card is presented or ctx is cancelled,
	// and returns the card's normalized identifier.
	WaitForCard(ctx context.Context) (string, error)

	// Close releases any resources held by the reader. It is safe to call
	// more than once.
	Close() error
}

// Config holds common configuration for reader implementations.
type Config struct {
	Type   string `yaml:"type"`   // "pcsc", "keyboard", "serial", "wiegand", "pipe"
	Device string `yaml:"device"` // e.g. "/dev/ttyUSB0", "/dev/input/event0", "/tmp/swipeclock-cards"
	Baud   int    `yaml:"baud"`   // baud rate for serial devices
	Format string `yaml:"format"` // keyboard digit format, e.g. "10h", "10d"

	// PC/SC reader selection: first reader whose name contains Family.
	Family       string        `yaml:"family"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// New creates a CardReader based on the provided configuration.
func New(cfg Config) (CardReader, error) {
	switch cfg.Type {
	case "pcsc", "":
		return NewPCSC(cfg)
	case "keyboard":
		return NewKeyboard(cfg.Device, cfg.Format)
	case "serial":
		return NewSerial(cfg.Device, cfg.Baud)
	case "wiegand":
		return NewWiegand(cfg.Device, cfg.Baud)
	case "pipe":
		return NewPipe(cfg.Device)
	default:
		return nil, fmt.Errorf("unknown reader type %q", cfg.Type)
	}
}

// NormalizeUID renders raw UID bytes as the canonical card identifier:
// uppercase hex without separators.
func NormalizeUID(uid []byte) string {
	return strings.ToUpper(hex.EncodeToString(uid))
}
