package reader

import (
	"context"
	"encoding/binary"
	"os"
	"testing"
	"time"

	"github.com/kenshaw/evdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// typeBadge writes key-down events for each key, then Enter.
func typeBadge(t *testing.T, w *os.File, keys ...evdev.KeyType) {
	t.Helper()
	for _, k := range append(keys, evdev.KeyEnter) {
		for _, value := range []int32{1, 0} {
			ev := evdev.Event{Type: evdev.EventKey, Code: uint16(k), Value: value}
			require.NoError(t, binary.Write(w, binary.NativeEndian, ev))
		}
	}
}

func TestKeyboardConsecutiveReads(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()

	kbd := newKeyboard(evdev.Open(r), 2, true, "2h")
	defer kbd.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	typeBadge(t, w, evdev.Key1, evdev.Key2)
	id, err := kbd.WaitForCard(ctx)
	require.NoError(t, err)
	assert.Equal(t, "12", id)

	typeBadge(t, w, evdev.Key3, evdev.Key4)
	id, err = kbd.WaitForCard(ctx)
	require.NoError(t, err)
	assert.Equal(t, "34", id)

	// Both badges typed before anyone reads.
	typeBadge(t, w, evdev.Key5, evdev.Key6)
	typeBadge(t, w, evdev.Key7, evdev.Key8)
	id, err = kbd.WaitForCard(ctx)
	require.NoError(t, err)
	assert.Equal(t, "56", id)
	id, err = kbd.WaitForCard(ctx)
	require.NoError(t, err)
	assert.Equal(t, "78", id)
}

func TestKeyboardClose(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()

	kbd := newKeyboard(evdev.Open(r), 0, true, "0h")
	require.NoError(t, kbd.Close())
	require.NoError(t, kbd.Close())

	_, err = kbd.WaitForCard(context.Background())
	assert.Error(t, err)
}
