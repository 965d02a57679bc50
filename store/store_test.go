package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swipeclock/model"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	sql, err := OpenSQL(Config{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { sql.Close() })

	return map[string]Backend{
		"memory": NewMemory(),
		"sqlite": sql,
	}
}

func TestEmployees(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := b.FindEmployee(ctx, "E1")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, b.UpsertEmployee(ctx, model.Employee{ID: "E1", FirstName: "Ada", LastName: "Byron"}))
			require.NoError(t, b.UpsertEmployee(ctx, model.Employee{ID: "E1", FirstName: "Ada", LastName: "Lovelace"}))

			e, err := b.FindEmployee(ctx, "E1")
			require.NoError(t, err)
			assert.Equal(t, "Ada Lovelace", e.DisplayName())
		})
	}
}

func TestCards(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, b.UpsertEmployee(ctx, model.Employee{ID: "E1"}))

			card := &model.Card{
				ID:             uuid.NewString(),
				CardIdentifier: "04A1B2C3",
				EmployeeID:     "E1",
				Active:         true,
				CreatedAt:      time.Now(),
			}
			require.NoError(t, b.CreateCard(ctx, card))

			dup := *card
			dup.ID = uuid.NewString()
			assert.ErrorIs(t, b.CreateCard(ctx, &dup), ErrDuplicate)

			got, err := b.FindCard(ctx, "04A1B2C3")
			require.NoError(t, err)
			assert.Equal(t, card.ID, got.ID)
			assert.True(t, got.Active)

			require.NoError(t, b.SetCardActive(ctx, "04A1B2C3", false))
			got, err = b.FindCard(ctx, "04A1B2C3")
			require.NoError(t, err)
			assert.False(t, got.Active)

			_, err = b.FindCard(ctx, "DEADBEEF")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, b.SetCardActive(ctx, "DEADBEEF", false), ErrNotFound)
		})
	}
}

func TestAttendance(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)
	checkIn := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	checkOut := time.Date(2024, 5, 6, 18, 0, 0, 0, time.UTC)

	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := b.FindAttendance(ctx, "E1", day)
			assert.ErrorIs(t, err, ErrNotFound)

			rec := &model.AttendanceRecord{
				ID:             uuid.NewString(),
				EmployeeID:     "E1",
				CardIdentifier: "04A1B2C3",
				Date:           day,
				CheckIn:        checkIn,
			}
			require.NoError(t, b.CreateAttendance(ctx, rec))

			second := *rec
			second.ID = uuid.NewString()
			assert.ErrorIs(t, b.CreateAttendance(ctx, &second), ErrDuplicate)

			got, err := b.FindAttendance(ctx, "E1", day)
			require.NoError(t, err)
			assert.Equal(t, rec.ID, got.ID)
			assert.True(t, got.CheckIn.Equal(checkIn))
			assert.Nil(t, got.CheckOut)

			// Another day is a separate record.
			_, err = b.FindAttendance(ctx, "E1", day.AddDate(0, 0, 1))
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, b.SetCheckOut(ctx, rec.ID, checkOut))
			assert.ErrorIs(t, b.SetCheckOut(ctx, rec.ID, checkOut.Add(time.Minute)), ErrConflict)
			assert.ErrorIs(t, b.SetCheckOut(ctx, uuid.NewString(), checkOut), ErrNotFound)

			got, err = b.FindAttendance(ctx, "E1", day)
			require.NoError(t, err)
			require.NotNil(t, got.CheckOut)
			assert.True(t, got.CheckOut.Equal(checkOut))
		})
	}
}

func TestMemoryConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	day := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var created, duplicates int
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.CreateAttendance(ctx, &model.AttendanceRecord{
				ID:         uuid.NewString(),
				EmployeeID: "E1",
				Date:       day,
				CheckIn:    time.Now(),
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				created++
			} else if assert.ErrorIs(t, err, ErrDuplicate) {
				duplicates++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, 15, duplicates)
	assert.Equal(t, 1, m.AttendanceCount())
}

func TestOpen(t *testing.T) {
	b, err := Open(Config{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, b)

	_, err = Open(Config{Driver: "oracle"})
	assert.Error(t, err)

	_, err = Open(Config{})
	assert.Error(t, err, "driver must be explicit")
}
