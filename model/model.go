package model

import (
	"strings"
	"time"
)

// Employee is the subset of the HR employee record the kiosk needs.
// The HR application owns these rows; the kiosk reads them, and the
// -employee flag seeds them for standalone installs.
type Employee struct {
	ID        string `gorm:"primaryKey;column:id;type:varchar(64)" json:"id"`
	FirstName string `gorm:"column:first_name;type:varchar(100)" json:"first_name"`
	LastName  string `gorm:"column:last_name;type:varchar(100)" json:"last_name"`
}

func (Employee) TableName() string {
	return "employees"
}

// DisplayName returns "First Last", collapsing a missing half.
func (e Employee) DisplayName() string {
	return strings.TrimSpace(e.FirstName + " " + e.LastName)
}

// Card binds a physical card identifier to an employee.
type Card struct {
	ID             string    `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	CardIdentifier string    `gorm:"column:card_identifier;type:varchar(64);uniqueIndex;not null" json:"card_identifier"`
	EmployeeID     string    `gorm:"column:employee_id;type:varchar(64);index;not null" json:"employee_id"`
	Active         bool      `gorm:"column:active;not null" json:"active"`
	CreatedAt      time.Time `gorm:"column:created_at;not null;<-:create" json:"created_at"`

	Employee Employee `gorm:"foreignKey:EmployeeID;references:ID" json:"-"`
}

func (Card) TableName() string {
	return "cards"
}

// AttendanceRecord is one employee's attendance for one calendar day.
type AttendanceRecord struct {
	ID             string     `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	EmployeeID     string     `gorm:"column:employee_id;type:varchar(64);not null;uniqueIndex:idx_attendance_employee_date" json:"employee_id"`
	CardIdentifier string     `gorm:"column:card_identifier;type:varchar(64);not null" json:"card_identifier"`
	Date           time.Time  `gorm:"column:date;type:date;not null;uniqueIndex:idx_attendance_employee_date" json:"date"`
	CheckIn        time.Time  `gorm:"column:check_in;not null" json:"check_in"`
	CheckOut       *time.Time `gorm:"column:check_out" json:"check_out,omitempty"`
}

func (AttendanceRecord) TableName() string {
	return "attendance_records"
}

// CalendarDate returns the calendar day t falls on in its own location,
// as midnight UTC. Date columns always hold this form so that equality
// lookups behave the same on every SQL dialect.
func CalendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateKey formats a calendar date the way records are keyed.
func DateKey(d time.Time) string {
	return d.Format("2006-01-02")
}
