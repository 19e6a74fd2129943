package store

import (
	"errors"
	"strings"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrDuplicate is returned when a write hits a unique constraint that the
	// caller is expected to handle.
	ErrDuplicate = errors.New("duplicate")

	// ErrInvalidTransition is returned when a conditional status update finds
	// the row in a state that does not allow the move.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// isUniqueViolation recognises unique-constraint failures from both drivers.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(liteErr.Error(), "UNIQUE")
		}
	}
	return false
}
