package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"

	"github.com/raphaelgruber/contentgraph/internal/store"
)

// Sentinel errors for database operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrAlreadyExists indicates a record with the same ID or unique key already exists.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrTransactionConflict indicates a SurrealDB transaction conflict.
	// This occurs when multiple concurrent operations attempt to modify the same records.
	ErrTransactionConflict = errors.New("transaction conflict")
)

// versionConflictMarker is thrown by the head compare-and-swap.
const versionConflictMarker = "version conflict"

// wrapQueryError inspects a SurrealDB error and wraps it with the appropriate
// sentinel error if it's a known query error type. Returns the original error
// if it's not a QueryError or doesn't match known patterns.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}

	// Extract QueryError if present - this is a database-level error
	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) {
		msg := queryErr.Message
		if strings.Contains(msg, versionConflictMarker) {
			return fmt.Errorf("%w: %s", store.ErrVersionConflict, msg)
		}
		if strings.Contains(msg, "already exists") || strings.Contains(msg, "already contains") {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, msg)
		}
		if strings.Contains(msg, "Transaction conflict") {
			return fmt.Errorf("%w: %s", ErrTransactionConflict, msg)
		}
	}

	return err
}

// wrapWriteConflict additionally treats unique-key and transaction conflicts
// as version conflicts; used by version inserts where both mean another
// writer won the race.
func wrapWriteConflict(err error) error {
	err = wrapQueryError(err)
	if errors.Is(err, ErrAlreadyExists) || errors.Is(err, ErrTransactionConflict) {
		return fmt.Errorf("%w: %w", store.ErrVersionConflict, err)
	}
	return err
}
