package reader

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ebfe/scard"
)

const (
	defaultFamily       = "ACR122"
	defaultPollInterval = 500 * time.Millisecond

	statusSuccess = 0x9000
)

// getUIDCommand is the PC/SC pseudo-APDU asking the reader for the UID of
// the card in the field.
var getUIDCommand = []byte{0xFF, 0xCA, 0x00, 0x00, 0x00}

// ProtocolError is returned when a card's response is malformed or the
// card rejected the command. The caller should ask for another tap.
type ProtocolError struct {
	StatusWord uint16 // zero when the response was too short to carry one
	Response   []byte
	Reason     string
}

func (e *ProtocolError) Error() string {
	if len(e.Response) < 2 {
		return fmt.Sprintf("card protocol error: %s (%d bytes)", e.Reason, len(e.Response))
	}
	return fmt.Sprintf("card protocol error: %s (status %04X)", e.Reason, e.StatusWord)
}

// pcscContext is the part of a PC/SC context the adapter uses.
type pcscContext interface {
	ListReaders() ([]string, error)
	GetStatusChange(states []scard.ReaderState, timeout time.Duration) error
	Connect(reader string) (pcscCard, error)
	Release() error
}

type pcscCard interface {
	Transmit(cmd []byte) ([]byte, error)
	Disconnect(d scard.Disposition) error
}

type scardContext struct {
	ctx *scard.Context
}

func (s scardContext) ListReaders() ([]string, error) {
	return s.ctx.ListReaders()
}

func (s scardContext) GetStatusChange(states []scard.ReaderState, timeout time.Duration) error {
	return s.ctx.GetStatusChange(states, timeout)
}

func (s scardContext) Connect(reader string) (pcscCard, error) {
	card, err := s.ctx.Connect(reader, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		return nil, err
	}
	return card, nil
}

func (s scardContext) Release() error {
	return s.ctx.Release()
}

// PCSC implements CardReader for contactless readers behind a PC/SC
// service. It owns one PC/SC context for its whole life; create one per
// process and Close it at shutdown.
//
// WaitForCard and Close must not be called concurrently.
type PCSC struct {
	ctx          pcscContext
	reader       string
	poll         time.Duration
	awaitRemoval bool
}

// NewPCSC establishes a PC/SC context and selects the first reader whose
// name contains cfg.Family.
func NewPCSC(cfg Config) (*PCSC, error) {
	sctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("%w: establish pcsc context: %w", ErrReaderNotFound, err)
	}
	return newPCSC(scardContext{ctx: sctx}, cfg)
}

func newPCSC(ctx pcscContext, cfg Config) (*PCSC, error) {
	family := cfg.Family
	if family == "" {
		family = defaultFamily
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}

	name, err := discover(ctx, family)
	if err != nil {
		ctx.Release()
		return nil, err
	}
	log.Printf("Using card reader: %s", name)

	return &PCSC{
		ctx:    ctx,
		reader: name,
		poll:   poll,
	}, nil
}

func discover(ctx pcscContext, family string) (string, error) {
	readers, err := ctx.ListReaders()
	if err != nil {
		return "", fmt.Errorf("%w: list readers: %w", ErrReaderNotFound, err)
	}

	want := strings.ToUpper(family)
	for _, r := range readers {
		if strings.Contains(strings.ToUpper(r), want) {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: no reader matching %q in %q", ErrReaderNotFound, family, readers)
}

// Reader returns the name of the selected reader.
func (p *PCSC) Reader() string {
	return p.reader
}

// WaitForCard implements CardReader.WaitForCard. A card that stays on the
// reader is reported once; the next call waits for it to be lifted first.
func (p *PCSC) WaitForCard(ctx context.Context) (string, error) {
	if p.ctx == nil {
		return "", errors.New("pcsc reader closed")
	}

	if p.awaitRemoval {
		if err := p.waitFor(ctx, false); err != nil {
			return "", err
		}
		p.awaitRemoval = false
	}

	if err := p.waitFor(ctx, true); err != nil {
		return "", err
	}
	p.awaitRemoval = true

	return p.readUID()
}

// waitFor polls the reader until card presence equals present. Each poll
// is bounded so cancellation is noticed within one poll interval.
func (p *PCSC) waitFor(ctx context.Context, present bool) error {
	current := scard.StateUnaware
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		states := []scard.ReaderState{{Reader: p.reader, CurrentState: current}}
		err := p.ctx.GetStatusChange(states, p.poll)
		if errors.Is(err, scard.ErrTimeout) {
			continue
		}
		if err != nil {
			return fmt.Errorf("status change %s: %w", p.reader, err)
		}

		current = states[0].EventState &^ scard.StateChanged
		if current&(scard.StateUnknown|scard.StateUnavailable) != 0 {
			return fmt.Errorf("reader %s unavailable", p.reader)
		}
		if (current&scard.StatePresent != 0) == present {
			return nil
		}
	}
}

// readUID connects to the card, asks for its UID and always disconnects.
func (p *PCSC) readUID() (string, error) {
	card, err := p.ctx.Connect(p.reader)
	if err != nil {
		return "", fmt.Errorf("connect %s: %w", p.reader, err)
	}
	defer func() {
		if err := card.Disconnect(scard.LeaveCard); err != nil {
			log.Printf("Disconnect card: %v", err)
		}
	}()

	resp, err := card.Transmit(getUIDCommand)
	if err != nil {
		return "", fmt.Errorf("transmit get UID: %w", err)
	}
	return ParseUIDResponse(resp)
}

// ParseUIDResponse validates a get-UID response and returns the
// normalized identifier. The last two bytes are the status word and must
// be 90 00.
func ParseUIDResponse(resp []byte) (string, error) {
	if len(resp) < 3 {
		return "", &ProtocolError{Response: resp, Reason: "response too short"}
	}

	sw := binary.BigEndian.Uint16(resp[len(resp)-2:])
	if sw != statusSuccess {
		return "", &ProtocolError{StatusWord: sw, Response: resp, Reason: "card rejected get UID"}
	}
	return NormalizeUID(resp[:len(resp)-2]), nil
}

// Close implements CardReader.Close. It releases the PC/SC context.
func (p *PCSC) Close() error {
	if p == nil || p.ctx == nil {
		return nil
	}
	err := p.ctx.Release()
	p.ctx = nil
	return err
}
