package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"swipeclock/model"
)

// SQL is a GORM-backed store. Uniqueness of card identifiers and of
// (employee, date) attendance pairs is enforced by database indexes.
type SQL struct {
	db *gorm.DB
}

// OpenSQL connects to the configured database and migrates the tables
// this subsystem owns.
func OpenSQL(cfg Config) (*SQL, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown sql driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}

	if err := db.AutoMigrate(
		&model.Employee{},
		&model.Card{},
		&model.AttendanceRecord{},
	); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &SQL{db: db}, nil
}

func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "silent", "":
		return logger.Silent
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	default:
		return logger.Info
	}
}

// UpsertEmployee inserts or replaces an employee.
func (s *SQL) UpsertEmployee(ctx context.Context, e model.Employee) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&e).Error
	if err != nil {
		return fmt.Errorf("upsert employee %s: %w", e.ID, err)
	}
	return nil
}

// FindEmployee returns an employee by ID.
func (s *SQL) FindEmployee(ctx context.Context, id string) (model.Employee, error) {
	var e model.Employee
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&e).Error; err != nil {
		return model.Employee{}, fmt.Errorf("employee %s: %w", id, translate(err))
	}
	return e, nil
}

// CreateCard inserts a card. A second card with the same identifier fails
// on the unique index.
func (s *SQL) CreateCard(ctx context.Context, card *model.Card) error {
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(card).Error; err != nil {
		return fmt.Errorf("card %s: %w", card.CardIdentifier, translate(err))
	}
	return nil
}

// FindCard returns a card by its identifier.
func (s *SQL) FindCard(ctx context.Context, identifier string) (model.Card, error) {
	var c model.Card
	if err := s.db.WithContext(ctx).Where("card_identifier = ?", identifier).First(&c).Error; err != nil {
		return model.Card{}, fmt.Errorf("card %s: %w", identifier, translate(err))
	}
	return c, nil
}

// SetCardActive flips the active flag of a card.
func (s *SQL) SetCardActive(ctx context.Context, identifier string, active bool) error {
	res := s.db.WithContext(ctx).
		Model(&model.Card{}).
		Where("card_identifier = ?", identifier).
		Update("active", active)
	if res.Error != nil {
		return fmt.Errorf("card %s: %w", identifier, translate(res.Error))
	}
	if res.RowsAffected == 0 {
		// MySQL reports zero rows when the value is unchanged.
		if _, err := s.FindCard(ctx, identifier); err != nil {
			return err
		}
	}
	return nil
}

// FindAttendance returns the record for an employee on a calendar date.
func (s *SQL) FindAttendance(ctx context.Context, employeeID string, date time.Time) (model.AttendanceRecord, error) {
	var rec model.AttendanceRecord
	err := s.db.WithContext(ctx).
		Where("employee_id = ? AND date = ?", employeeID, date).
		First(&rec).Error
	if err != nil {
		return model.AttendanceRecord{}, fmt.Errorf("attendance %s on %s: %w", employeeID, model.DateKey(date), translate(err))
	}
	return rec, nil
}

// CreateAttendance inserts a record. A second record for the same employee
// and date fails on idx_attendance_employee_date.
func (s *SQL) CreateAttendance(ctx context.Context, rec *model.AttendanceRecord) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("attendance %s on %s: %w", rec.EmployeeID, model.DateKey(rec.Date), translate(err))
	}
	return nil
}

// SetCheckOut sets check_out on a record whose check_out is still NULL, in
// a single conditional UPDATE.
func (s *SQL) SetCheckOut(ctx context.Context, id string, at time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&model.AttendanceRecord{}).
		Where("id = ? AND check_out IS NULL", id).
		Update("check_out", at)
	if res.Error != nil {
		return fmt.Errorf("attendance id %s: %w", id, translate(res.Error))
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var n int64
	if err := s.db.WithContext(ctx).Model(&model.AttendanceRecord{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return fmt.Errorf("attendance id %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("attendance id %s: %w", id, ErrNotFound)
	}
	return fmt.Errorf("attendance id %s: %w", id, ErrConflict)
}

// Close closes the underlying connection pool.
func (s *SQL) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func translate(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	default:
		return err
	}
}
