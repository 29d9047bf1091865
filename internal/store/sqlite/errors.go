package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/p2panda-go/bamboo-node/internal/store"
)

// wrapDBError wraps a database error with operation context, converting
// sql.ErrNoRows to store.ErrNotFound for consistent error handling across
// the Store interface.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, store.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isUniqueConstraint reports whether err looks like a SQLite UNIQUE or
// PRIMARY KEY constraint violation. ncruces/go-sqlite3 surfaces these as
// *sqlite3.Error with a message containing "constraint"; matching on the
// message is the same approach the driver's own examples use since the
// error does not implement a typed Code() the way cgo drivers do.
func isUniqueConstraint(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToUpper(err.Error())
	return strings.Contains(msg, "UNIQUE CONSTRAINT") || strings.Contains(msg, "PRIMARY KEY CONSTRAINT")
}
