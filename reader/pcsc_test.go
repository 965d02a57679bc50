package reader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ebfe/scard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCard struct {
	resp         []byte
	transmitErr  error
	sent         [][]byte
	disconnected int
}

func (c *fakeCard) Transmit(cmd []byte) ([]byte, error) {
	c.sent = append(c.sent, append([]byte(nil), cmd...))
	if c.transmitErr != nil {
		return nil, c.transmitErr
	}
	return c.resp, nil
}

func (c *fakeCard) Disconnect(d scard.Disposition) error {
	c.disconnected++
	return nil
}

// fakeContext reports the queued reader states one per GetStatusChange
// call and times out once the queue is empty.
type fakeContext struct {
	readers     []string
	listErr     error
	states      []scard.StateFlag
	statusCalls int
	card        *fakeCard
	connectErr  error
	connected   []string
	released    int
}

func (f *fakeContext) ListReaders() ([]string, error) {
	return f.readers, f.listErr
}

func (f *fakeContext) GetStatusChange(states []scard.ReaderState, timeout time.Duration) error {
	f.statusCalls++
	if len(f.states) == 0 {
		time.Sleep(timeout)
		return scard.ErrTimeout
	}
	states[0].EventState = f.states[0] | scard.StateChanged
	f.states = f.states[1:]
	return nil
}

func (f *fakeContext) Connect(reader string) (pcscCard, error) {
	f.connected = append(f.connected, reader)
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	return f.card, nil
}

func (f *fakeContext) Release() error {
	f.released++
	return nil
}

var acr122 = []string{"Yubico YubiKey OTP+FIDO+CCID 00 00", "ACS ACR122U PICC Interface 01 00"}

func newTestPCSC(t *testing.T, fc *fakeContext) *PCSC {
	t.Helper()
	p, err := newPCSC(fc, Config{PollInterval: time.Millisecond})
	require.NoError(t, err)
	return p
}

func TestDiscover(t *testing.T) {
	t.Run("First match wins", func(t *testing.T) {
		fc := &fakeContext{readers: append(acr122, "ACS ACR122U PICC Interface 02 00")}
		p := newTestPCSC(t, fc)
		assert.Equal(t, "ACS ACR122U PICC Interface 01 00", p.Reader())
	})

	t.Run("Case insensitive family", func(t *testing.T) {
		fc := &fakeContext{readers: acr122}
		p, err := newPCSC(fc, Config{Family: "acr122u"})
		require.NoError(t, err)
		assert.Equal(t, acr122[1], p.Reader())
	})

	t.Run("No match", func(t *testing.T) {
		fc := &fakeContext{readers: []string{"Yubico YubiKey"}}
		_, err := newPCSC(fc, Config{})
		assert.ErrorIs(t, err, ErrReaderNotFound)
		assert.Equal(t, 1, fc.released)
	})

	t.Run("Enumeration failure", func(t *testing.T) {
		fc := &fakeContext{listErr: scard.ErrNoReadersAvailable}
		_, err := newPCSC(fc, Config{})
		assert.ErrorIs(t, err, ErrReaderNotFound)
		assert.ErrorIs(t, err, scard.ErrNoReadersAvailable)
		assert.Equal(t, 1, fc.released)
	})
}

func TestWaitForCard(t *testing.T) {
	card := &fakeCard{resp: []byte{0x04, 0xA1, 0xB2, 0xC3, 0x90, 0x00}}
	fc := &fakeContext{
		readers: acr122,
		states:  []scard.StateFlag{scard.StateEmpty, scard.StateEmpty, scard.StatePresent},
		card:    card,
	}
	p := newTestPCSC(t, fc)

	id, err := p.WaitForCard(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "04A1B2C3", id)
	assert.Equal(t, []string{acr122[1]}, fc.connected)
	assert.Equal(t, [][]byte{{0xFF, 0xCA, 0x00, 0x00, 0x00}}, card.sent)
	assert.Equal(t, 1, card.disconnected)
}

func TestWaitForCardErrorsReleaseSession(t *testing.T) {
	transmitErr := errors.New("transmit failed")

	tests := []struct {
		name    string
		card    *fakeCard
		wantSW  uint16
		isProto bool
	}{
		{
			name:    "Rejected status word",
			card:    &fakeCard{resp: []byte{0x04, 0xA1, 0xB2, 0xC3, 0x6A, 0x82}},
			isProto: true,
			wantSW:  0x6A82,
		},
		{
			name:    "Short response",
			card:    &fakeCard{resp: []byte{0x90, 0x00}},
			isProto: true,
		},
		{
			name: "Transmit error",
			card: &fakeCard{transmitErr: transmitErr},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := &fakeContext{readers: acr122, states: []scard.StateFlag{scard.StatePresent}, card: tt.card}
			p := newTestPCSC(t, fc)

			id, err := p.WaitForCard(context.Background())
			require.Error(t, err)
			assert.Empty(t, id)
			assert.Equal(t, 1, tt.card.disconnected)

			var perr *ProtocolError
			if tt.isProto {
				require.ErrorAs(t, err, &perr)
				assert.Equal(t, tt.wantSW, perr.StatusWord)
			} else {
				assert.False(t, errors.As(err, &perr))
				assert.ErrorIs(t, err, transmitErr)
			}
		})
	}
}

func TestWaitForCardConnectError(t *testing.T) {
	connectErr := errors.New("card removed")
	fc := &fakeContext{readers: acr122, states: []scard.StateFlag{scard.StatePresent}, connectErr: connectErr}
	p := newTestPCSC(t, fc)

	_, err := p.WaitForCard(context.Background())
	assert.ErrorIs(t, err, connectErr)
}

func TestWaitForCardRequiresRemoval(t *testing.T) {
	card := &fakeCard{resp: []byte{0x04, 0xA1, 0xB2, 0xC3, 0x90, 0x00}}
	fc := &fakeContext{readers: acr122, states: []scard.StateFlag{scard.StatePresent}, card: card}
	p := newTestPCSC(t, fc)

	_, err := p.WaitForCard(context.Background())
	require.NoError(t, err)

	// The card is still there, then lifted, then presented again.
	fc.states = []scard.StateFlag{scard.StatePresent, scard.StateEmpty, scard.StatePresent}
	fc.statusCalls = 0
	id, err := p.WaitForCard(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "04A1B2C3", id)
	assert.Equal(t, 3, fc.statusCalls)
	assert.Equal(t, 2, card.disconnected)
}

func TestWaitForCardReaderUnplugged(t *testing.T) {
	fc := &fakeContext{readers: acr122, states: []scard.StateFlag{scard.StateUnavailable}}
	p := newTestPCSC(t, fc)

	_, err := p.WaitForCard(context.Background())
	assert.Error(t, err)
	assert.Empty(t, fc.connected)
}

func TestWaitForCardCancelled(t *testing.T) {
	fc := &fakeContext{readers: acr122}
	p := newTestPCSC(t, fc)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.WaitForCard(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, fc.connected)
}

func TestPCSCClose(t *testing.T) {
	fc := &fakeContext{readers: acr122}
	p := newTestPCSC(t, fc)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, 1, fc.released)

	_, err := p.WaitForCard(context.Background())
	assert.Error(t, err)

	var never *PCSC
	assert.NoError(t, never.Close())
	assert.NoError(t, (&PCSC{}).Close())
}

func TestParseUIDResponse(t *testing.T) {
	tests := []struct {
		name     string
		resp     []byte
		expected string
		wantSW   uint16
		wantErr  bool
	}{
		{name: "Four byte UID", resp: []byte{0x04, 0xA1, 0xB2, 0xC3, 0x90, 0x00}, expected: "04A1B2C3"},
		{name: "Seven byte UID", resp: []byte{0x04, 0x5e, 0x1a, 0x02, 0xff, 0x3c, 0x80, 0x90, 0x00}, expected: "045E1A02FF3C80"},
		{name: "Single byte UID", resp: []byte{0x0a, 0x90, 0x00}, expected: "0A"},
		{name: "Wrong status word", resp: []byte{0x04, 0xA1, 0xB2, 0xC3, 0x6A, 0x82}, wantErr: true, wantSW: 0x6A82},
		{name: "Status 63 00", resp: []byte{0x63, 0x00}, wantErr: true},
		{name: "Status only", resp: []byte{0x90, 0x00}, wantErr: true},
		{name: "Empty", resp: nil, wantErr: true},
		{name: "Almost success", resp: []byte{0x04, 0x90, 0x01}, wantErr: true, wantSW: 0x9001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ParseUIDResponse(tt.resp)
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, tt.expected, id)
				return
			}
			var perr *ProtocolError
			require.ErrorAs(t, err, &perr)
			assert.Empty(t, id)
			assert.Equal(t, tt.wantSW, perr.StatusWord)
		})
	}
}

func TestNormalizeUIDDeterministic(t *testing.T) {
	uid := []byte{0xde, 0xad, 0xbe, 0xef}
	first := NormalizeUID(uid)
	assert.Equal(t, "DEADBEEF", first)
	assert.Equal(t, first, NormalizeUID([]byte{0xDE, 0xAD, 0xBE, 0xEF}))
}
