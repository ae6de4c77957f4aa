package postgres

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"chronolog/internal/core/apperror"
)

// SQLSTATE codes the history store maps.
const (
	sqlStateUniqueViolation = "23505"
	sqlStateCheckViolation  = "23514" // also raised when no partition matches
	sqlStateGuard           = "CH001"
)

const guardMarker = "immutable_violation:"

func pgCode(err error) (string, *pgconn.PgError) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr
	}
	return "", nil
}

// GuardError converts a guard trigger failure into IMMUTABLE_VIOLATION.
// Other errors are returned unchanged.
func GuardError(err error) error {
	code, pgErr := pgCode(err)
	if code != sqlStateGuard {
		return err
	}
	operation, partition := "UNKNOWN", "unknown"
	if rest, ok := strings.CutPrefix(pgErr.Message, guardMarker); ok {
		operation, partition, _ = strings.Cut(rest, ":")
	}
	return apperror.NewImmutableViolation(operation, partition).WithCause(err)
}
