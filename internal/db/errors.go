package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/raphaelgruber/kbstudio/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// ErrTransactionConflict indicates a SurrealDB transaction conflict.
// This occurs when concurrent statements modify the same records; the
// store retries these internally.
var ErrTransactionConflict = errors.New("transaction conflict")

// wrapQueryError inspects a SurrealDB error and wraps it with the matching
// sentinel: models.ErrConflict for duplicate record IDs or unique index
// violations, ErrTransactionConflict for write conflicts. Returns the
// original error otherwise.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}

	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) {
		msg := queryErr.Message
		if strings.Contains(msg, "already exists") || strings.Contains(msg, "already contains") {
			return fmt.Errorf("%w: %s", models.ErrConflict, msg)
		}
		if strings.Contains(msg, "Transaction conflict") || strings.Contains(msg, "transaction conflict") {
			return fmt.Errorf("%w: %s", ErrTransactionConflict, msg)
		}
	}

	return err
}
