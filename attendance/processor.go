package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"swipeclock/model"
	"swipeclock/registry"
	"swipeclock/store"
)

var (
	// ErrCardInactive is returned for a registered but deactivated card.
	ErrCardInactive = errors.New("card inactive")

	// ErrAlreadyComplete is returned for a swipe after check-out.
	ErrAlreadyComplete = errors.New("attendance already complete for today")

	// ErrSwipeConflict is returned when another reader recorded a swipe for
	// the same employee between our read and our write. Nothing was written
	// by this swipe; tapping again resolves it.
	ErrSwipeConflict = errors.New("concurrent swipe, tap again")
)

// EventType is the attendance transition a swipe produced.
type EventType string

const (
	EventEntry EventType = "ENTRY"
	EventExit  EventType = "EXIT"
)

// Result describes a successful swipe for display.
type Result struct {
	EmployeeName   string    `json:"employee_name"`
	Event          EventType `json:"event"`
	Time           time.Time `json:"time"`
	CardIdentifier string    `json:"card"`
}

// Store is the attendance persistence contract.
type Store interface {
	// FindAttendance returns store.ErrNotFound when there is no record.
	FindAttendance(ctx context.Context, employeeID string, date time.Time) (model.AttendanceRecord, error)

	// CreateAttendance returns store.ErrDuplicate when a record for the
	// same employee and date exists.
	CreateAttendance(ctx context.Context, rec *model.AttendanceRecord) error

	// SetCheckOut only succeeds while check-out is unset. It returns
	// store.ErrNotFound or store.ErrConflict otherwise.
	SetCheckOut(ctx context.Context, id string, at time.Time) error
}

// CardLookup resolves a card identifier to its registry entry.
type CardLookup interface {
	Lookup(ctx context.Context, cardIdentifier string) (registry.Entry, error)
}

// Processor turns one swipe into one attendance transition:
// no record -> checked in -> checked out.
type Processor struct {
	cards CardLookup
	store Store
	loc   *time.Location
	now   func() time.Time
}

// Option configures a Processor.
type Option func(*Processor)

// WithLocation sets the zone calendar days are computed in.
func WithLocation(loc *time.Location) Option {
	return func(p *Processor) {
		p.loc = loc
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		p.now = now
	}
}

// NewProcessor creates a swipe processor. It is the only writer of
// attendance records.
func NewProcessor(cards CardLookup, s Store, opts ...Option) *Processor {
	p := &Processor{
		cards: cards,
		store: s,
		loc:   time.Local,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Swipe records a swipe of the given card.
func (p *Processor) Swipe(ctx context.Context, cardIdentifier string) (Result, error) {
	entry, err := p.cards.Lookup(ctx, cardIdentifier)
	if err != nil {
		return Result{}, err
	}
	if !entry.Card.Active {
		return Result{}, fmt.Errorf("%w: %s", ErrCardInactive, entry.Card.CardIdentifier)
	}

	// The day is derived from this single reading of the clock; nothing
	// read back from the store may move it.
	now := p.now().In(p.loc)
	today := model.CalendarDate(now)

	result := Result{
		EmployeeName:   entry.Employee.DisplayName(),
		Time:           now,
		CardIdentifier: entry.Card.CardIdentifier,
	}

	rec, err := p.store.FindAttendance(ctx, entry.Employee.ID, today)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return p.checkIn(ctx, entry, today, now, result)
	case err != nil:
		return Result{}, fmt.Errorf("find attendance: %w", err)
	case rec.CheckOut == nil:
		return p.checkOut(ctx, rec, now, result)
	default:
		return Result{}, fmt.Errorf("%w: %s on %s", ErrAlreadyComplete, entry.Employee.ID, model.DateKey(today))
	}
}

func (p *Processor) checkIn(ctx context.Context, entry registry.Entry, today, now time.Time, result Result) (Result, error) {
	rec := &model.AttendanceRecord{
		ID:             uuid.NewString(),
		EmployeeID:     entry.Employee.ID,
		CardIdentifier: entry.Card.CardIdentifier,
		Date:           today,
		CheckIn:        now,
	}
	if err := p.store.CreateAttendance(ctx, rec); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return Result{}, fmt.Errorf("%w: check-in for %s", ErrSwipeConflict, entry.Employee.ID)
		}
		return Result{}, fmt.Errorf("create attendance: %w", err)
	}

	result.Event = EventEntry
	return result, nil
}

func (p *Processor) checkOut(ctx context.Context, rec model.AttendanceRecord, now time.Time, result Result) (Result, error) {
	if err := p.store.SetCheckOut(ctx, rec.ID, now); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return Result{}, fmt.Errorf("%w: check-out for %s", ErrSwipeConflict, rec.EmployeeID)
		}
		return Result{}, fmt.Errorf("set check-out: %w", err)
	}

	result.Event = EventExit
	return result, nil
}
