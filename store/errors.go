package store

import "errors"

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate indicates a unique-key violation on insert.
	ErrDuplicate = errors.New("duplicate key")

	// ErrConflict indicates a conditional update matched no row because
	// another writer got there first.
	ErrConflict = errors.New("concurrent update")
)
