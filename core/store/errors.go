package store

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound reports a lookup that matched no record.
	ErrNotFound = errors.New("record not found")
	// ErrConflict reports a uniqueness violation (username, template name).
	ErrConflict = errors.New("record already exists")
)

// wrapWriteError converts engine-specific unique-violation errors into
// ErrConflict so handlers can map them to a 409 instead of a 500.
func wrapWriteError(err error) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}
