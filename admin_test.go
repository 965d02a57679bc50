package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swipeclock/registry"
	"swipeclock/store"
)

func TestSplitRegister(t *testing.T) {
	tests := []struct {
		in       string
		card     string
		employee string
		wantErr  bool
	}{
		{in: "04A1B2C3:E1", card: "04A1B2C3", employee: "E1"},
		{in: "04:A1:B2:C3:E1", card: "04:A1:B2:C3", employee: "E1"},
		{in: "04A1B2C3", wantErr: true},
		{in: ":E1", wantErr: true},
		{in: "04A1B2C3:", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			card, employee, err := splitRegister(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.card, card)
			assert.Equal(t, tt.employee, employee)
		})
	}
}

func TestRunAdmin(t *testing.T) {
	app, mem, _ := newTestApp(t, time.Date(2024, 5, 6, 9, 0, 0, 0, testZone))

	require.NoError(t, app.runAdmin(adminFlags{
		Employee: "E2:Grace:Hopper",
		Register: "04:A1:B2:C3:E2",
	}))

	e, err := mem.FindEmployee(app.ctx, "E2")
	require.NoError(t, err)
	assert.Equal(t, "Grace Hopper", e.DisplayName())

	card, err := mem.FindCard(app.ctx, "04A1B2C3")
	require.NoError(t, err)
	assert.Equal(t, "E2", card.EmployeeID)

	require.NoError(t, app.runAdmin(adminFlags{Employee: "E3:Cher"}))
	e, err = mem.FindEmployee(app.ctx, "E3")
	require.NoError(t, err)
	assert.Equal(t, "Cher", e.DisplayName())

	require.NoError(t, app.runAdmin(adminFlags{Deactivate: "04a1b2c3"}))
	card, err = mem.FindCard(app.ctx, "04A1B2C3")
	require.NoError(t, err)
	assert.False(t, card.Active)

	err = app.runAdmin(adminFlags{Register: "04A1B2C3:E1"})
	assert.ErrorIs(t, err, registry.ErrDuplicateCard)

	err = app.runAdmin(adminFlags{Deactivate: "CAFE"})
	assert.ErrorIs(t, err, registry.ErrCardNotRegistered)

	assert.Error(t, app.runAdmin(adminFlags{Employee: "E4"}))
	assert.False(t, adminFlags{}.any())
}

func TestEnroll(t *testing.T) {
	app, mem, _ := newTestApp(t, time.Date(2024, 5, 6, 9, 0, 0, 0, testZone))
	app.reader = &scriptedReader{cancel: app.cancel, reads: []read{{card: "0A0B0C0D"}}}

	require.NoError(t, app.enroll("E1"))

	card, err := mem.FindCard(context.Background(), "0A0B0C0D")
	require.NoError(t, err)
	assert.Equal(t, "E1", card.EmployeeID)
	assert.True(t, card.Active)
}

// closingStore records whether the process closed it.
type closingStore struct {
	*store.Memory
	closed bool
}

func (c *closingStore) Close() error {
	c.closed = true
	return nil
}

func TestRunClosesStoreOnAdminFailure(t *testing.T) {
	backend := &closingStore{Memory: store.NewMemory()}
	orig := openStore
	openStore = func(store.Config) (store.Backend, error) { return backend, nil }
	t.Cleanup(func() { openStore = orig })

	cfg := filepath.Join(t.TempDir(), "swipeclock.cfg")
	require.NoError(t, os.WriteFile(cfg, []byte("client_id: lobby\nstore:\n  driver: memory\n"), 0644))

	assert.Equal(t, 1, run([]string{"-cfg", cfg, "-register", "04A1B2C3:NOBODY"}))
	assert.True(t, backend.closed)

	backend.closed = false
	assert.Equal(t, 0, run([]string{"-cfg", cfg, "-employee", "E1:Ada:Lovelace", "-register", "04A1B2C3:E1"}))
	assert.True(t, backend.closed)

	card, err := backend.FindCard(context.Background(), "04A1B2C3")
	require.NoError(t, err)
	assert.Equal(t, "E1", card.EmployeeID)
}
