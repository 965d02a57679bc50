package registry

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"swipeclock/model"
	"swipeclock/store"
)

var (
	// ErrCardNotRegistered is returned when no card has the identifier.
	ErrCardNotRegistered = errors.New("card not registered")

	// ErrDuplicateCard is returned when registering an identifier twice.
	ErrDuplicateCard = errors.New("card already registered")

	// ErrUnknownEmployee is returned when registering a card to an
	// employee that does not exist.
	ErrUnknownEmployee = errors.New("unknown employee")

	// ErrInvalidIdentifier is returned for identifiers that are not hex.
	ErrInvalidIdentifier = errors.New("invalid card identifier")
)

// Store is the persistence the registry needs.
type Store interface {
	CreateCard(ctx context.Context, card *model.Card) error
	FindCard(ctx context.Context, identifier string) (model.Card, error)
	SetCardActive(ctx context.Context, identifier string, active bool) error
	FindEmployee(ctx context.Context, id string) (model.Employee, error)
}

// Entry is a card together with its owner's display data.
type Entry struct {
	Card     model.Card
	Employee model.Employee
}

// Registry maps card identifiers to employees. It is the only writer of
// cards.
type Registry struct {
	store Store
	now   func() time.Time
}

// New creates a registry on top of the given store.
func New(s Store) *Registry {
	return &Registry{store: s, now: time.Now}
}

// Register binds a new, active card to an employee. Uniqueness is left to
// the store's unique key so two concurrent registrations cannot both win.
func (r *Registry) Register(ctx context.Context, cardIdentifier, employeeID string) (model.Card, error) {
	id, err := NormalizeIdentifier(cardIdentifier)
	if err != nil {
		return model.Card{}, err
	}

	if _, err := r.store.FindEmployee(ctx, employeeID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Card{}, fmt.Errorf("%w: %s", ErrUnknownEmployee, employeeID)
		}
		return model.Card{}, fmt.Errorf("find employee: %w", err)
	}

	card := model.Card{
		ID:             uuid.NewString(),
		CardIdentifier: id,
		EmployeeID:     employeeID,
		Active:         true,
		CreatedAt:      r.now(),
	}
	if err := r.store.CreateCard(ctx, &card); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return model.Card{}, fmt.Errorf("%w: %s", ErrDuplicateCard, id)
		}
		return model.Card{}, fmt.Errorf("create card: %w", err)
	}
	return card, nil
}

// Lookup returns the card and its owner.
func (r *Registry) Lookup(ctx context.Context, cardIdentifier string) (Entry, error) {
	id, err := NormalizeIdentifier(cardIdentifier)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %s", ErrCardNotRegistered, cardIdentifier)
	}

	card, err := r.store.FindCard(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Entry{}, fmt.Errorf("%w: %s", ErrCardNotRegistered, id)
		}
		return Entry{}, fmt.Errorf("find card: %w", err)
	}

	employee, err := r.store.FindEmployee(ctx, card.EmployeeID)
	if err != nil {
		return Entry{}, fmt.Errorf("find employee %s: %w", card.EmployeeID, err)
	}

	return Entry{Card: card, Employee: employee}, nil
}

// Deactivate marks a card inactive. The row is kept so attendance history
// still references a valid card.
func (r *Registry) Deactivate(ctx context.Context, cardIdentifier string) error {
	id, err := NormalizeIdentifier(cardIdentifier)
	if err != nil {
		return err
	}

	if err := r.store.SetCardActive(ctx, id, false); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrCardNotRegistered, id)
		}
		return fmt.Errorf("deactivate card: %w", err)
	}
	return nil
}

// NormalizeIdentifier converts a typed or printed card identifier such as
// "04:a1:b2:c3" into canonical uppercase hex with no separators.
func NormalizeIdentifier(s string) (string, error) {
	id := strings.Map(func(r rune) rune {
		switch r {
		case ':', '-', ' ', '\t':
			return -1
		}
		return r
	}, s)
	id = strings.ToUpper(id)

	if id == "" || len(id)%2 != 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
	}
	if _, err := hex.DecodeString(id); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
	}
	return id, nil
}
