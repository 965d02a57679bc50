package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"swipeclock/model"
)

// Backend is everything the kiosk needs from persistence: the card
// registry contract, the attendance contract, and employee seeding.
type Backend interface {
	UpsertEmployee(ctx context.Context, e model.Employee) error
	FindEmployee(ctx context.Context, id string) (model.Employee, error)

	CreateCard(ctx context.Context, card *model.Card) error
	FindCard(ctx context.Context, identifier string) (model.Card, error)
	SetCardActive(ctx context.Context, identifier string, active bool) error

	FindAttendance(ctx context.Context, employeeID string, date time.Time) (model.AttendanceRecord, error)
	CreateAttendance(ctx context.Context, rec *model.AttendanceRecord) error
	SetCheckOut(ctx context.Context, id string, at time.Time) error

	Close() error
}

// Config selects and configures a storage backend.
type Config struct {
	Driver   string `yaml:"driver"`    // "memory", "sqlite", "postgres", "mysql"
	DSN      string `yaml:"dsn"`       // driver specific connection string
	LogLevel string `yaml:"log_level"` // "silent", "error", "warn", "info"
}

// Open creates a Backend based on the provided configuration. The driver
// must be named; "memory" keeps nothing across restarts.
func Open(cfg Config) (Backend, error) {
	switch cfg.Driver {
	case "":
		return nil, fmt.Errorf("store driver missing in config file")
	case "memory":
		log.Println("Store is in memory, attendance is lost on exit")
		return NewMemory(), nil
	case "sqlite", "postgres", "mysql":
		return OpenSQL(cfg)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
