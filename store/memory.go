package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"swipeclock/model"
)

// Memory is an in-process store. Each method holds the lock for its whole
// body, so every operation is atomic just like a single SQL statement.
type Memory struct {
	mu         sync.Mutex
	employees  map[string]model.Employee
	cards      map[string]model.Card
	attendance map[string]model.AttendanceRecord // by id
	byDay      map[string]string                 // employee|date -> id
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		employees:  make(map[string]model.Employee),
		cards:      make(map[string]model.Card),
		attendance: make(map[string]model.AttendanceRecord),
		byDay:      make(map[string]string),
	}
}

// UpsertEmployee inserts or replaces an employee.
func (m *Memory) UpsertEmployee(ctx context.Context, e model.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[e.ID] = e
	return nil
}

// FindEmployee returns an employee by ID.
func (m *Memory) FindEmployee(ctx context.Context, id string) (model.Employee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.employees[id]
	if !ok {
		return model.Employee{}, fmt.Errorf("employee %s: %w", id, ErrNotFound)
	}
	return e, nil
}

// CreateCard inserts a card, rejecting an identifier already present.
func (m *Memory) CreateCard(ctx context.Context, card *model.Card) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.cards[card.CardIdentifier]; ok {
		return fmt.Errorf("card %s: %w", card.CardIdentifier, ErrDuplicate)
	}
	m.cards[card.CardIdentifier] = *card
	return nil
}

// FindCard returns a card by its identifier.
func (m *Memory) FindCard(ctx context.Context, identifier string) (model.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cards[identifier]
	if !ok {
		return model.Card{}, fmt.Errorf("card %s: %w", identifier, ErrNotFound)
	}
	return c, nil
}

// SetCardActive flips the active flag of a card.
func (m *Memory) SetCardActive(ctx context.Context, identifier string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cards[identifier]
	if !ok {
		return fmt.Errorf("card %s: %w", identifier, ErrNotFound)
	}
	c.Active = active
	m.cards[identifier] = c
	return nil
}

// FindAttendance returns the record for an employee on a calendar date.
func (m *Memory) FindAttendance(ctx context.Context, employeeID string, date time.Time) (model.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byDay[dayKey(employeeID, date)]
	if !ok {
		return model.AttendanceRecord{}, fmt.Errorf("attendance %s on %s: %w", employeeID, model.DateKey(date), ErrNotFound)
	}
	return copyRecord(m.attendance[id]), nil
}

// CreateAttendance inserts a record, rejecting a second one for the same
// employee and date.
func (m *Memory) CreateAttendance(ctx context.Context, rec *model.AttendanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := dayKey(rec.EmployeeID, rec.Date)
	if _, ok := m.byDay[key]; ok {
		return fmt.Errorf("attendance %s: %w", key, ErrDuplicate)
	}
	if _, ok := m.attendance[rec.ID]; ok {
		return fmt.Errorf("attendance id %s: %w", rec.ID, ErrDuplicate)
	}
	m.attendance[rec.ID] = copyRecord(*rec)
	m.byDay[key] = rec.ID
	return nil
}

// SetCheckOut sets the check-out time of a record whose check-out is unset.
func (m *Memory) SetCheckOut(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.attendance[id]
	if !ok {
		return fmt.Errorf("attendance id %s: %w", id, ErrNotFound)
	}
	if rec.CheckOut != nil {
		return fmt.Errorf("attendance id %s: %w", id, ErrConflict)
	}
	rec.CheckOut = &at
	m.attendance[id] = rec
	return nil
}

// AttendanceCount returns the number of stored attendance records.
func (m *Memory) AttendanceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.attendance)
}

// Close implements Backend.Close.
func (m *Memory) Close() error {
	return nil
}

func dayKey(employeeID string, date time.Time) string {
	return employeeID + "|" + model.DateKey(date)
}

func copyRecord(r model.AttendanceRecord) model.AttendanceRecord {
	if r.CheckOut != nil {
		t := *r.CheckOut
		r.CheckOut = &t
	}
	return r
}
