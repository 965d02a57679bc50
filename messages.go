package main

import (
	"errors"
	"fmt"

	"swipeclock/attendance"
	"swipeclock/reader"
	"swipeclock/registry"
)

// describeError maps a swipe or registration failure to a short machine
// reason and the message shown to the person at the reader.
func describeError(err error) (reason, message string) {
	var perr *reader.ProtocolError
	switch {
	case errors.As(err, &perr):
		return "read_error", "Card not read, tap again"
	case errors.Is(err, reader.ErrReaderNotFound):
		return "no_reader", "Card reader not connected"
	case errors.Is(err, registry.ErrCardNotRegistered):
		return "unregistered", "Card not registered"
	case errors.Is(err, attendance.ErrCardInactive):
		return "inactive", "Card deactivated, see HR"
	case errors.Is(err, attendance.ErrAlreadyComplete):
		return "complete", "Already checked in and out today"
	case errors.Is(err, attendance.ErrSwipeConflict):
		return "conflict", "Tap again"
	case errors.Is(err, registry.ErrDuplicateCard):
		return "duplicate_card", "Card already registered"
	case errors.Is(err, registry.ErrUnknownEmployee):
		return "unknown_employee", "Unknown employee"
	case errors.Is(err, registry.ErrInvalidIdentifier):
		return "invalid_card", "Invalid card identifier"
	default:
		return "error", "System error, see HR"
	}
}

func swipeMessage(res attendance.Result) string {
	switch res.Event {
	case attendance.EventEntry:
		return fmt.Sprintf("Welcome %s, in at %s", res.EmployeeName, res.Time.Format("15:04"))
	case attendance.EventExit:
		return fmt.Sprintf("Goodbye %s, out at %s", res.EmployeeName, res.Time.Format("15:04"))
	}
	return res.EmployeeName
}
