package store

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned by lookups of an unknown remote id.
	ErrNotFound = errors.New("record not found")

	// ErrStorageUnavailable marks failures of the database itself (cannot
	// open, locked past the busy timeout, I/O error, closed). Callers decide
	// whether to retry; the store never does.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidRecord rejects a batch containing a record without a remote id.
	ErrInvalidRecord = errors.New("invalid record")
)

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

// classify wraps err with op, tagging it ErrStorageUnavailable when the
// database could not serve the request at all.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if isUnavailable(err) {
		return unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUnavailable(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrCantOpen, sqlite3.ErrIoErr,
			sqlite3.ErrReadonly, sqlite3.ErrCorrupt, sqlite3.ErrFull, sqlite3.ErrNotADB:
			return true
		}
		return false
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	// database/sql does not export its closed-pool error.
	return strings.Contains(err.Error(), "sql: database is closed")
}
