package sqlite

import (
	"strings"

	"chronolog/internal/core/apperror"
)

// guardMarker prefixes the RAISE message of partition guard triggers:
// "immutable_violation:<OPERATION>:<partition>".
const guardMarker = "immutable_violation:"

// GuardError converts a guard trigger failure into IMMUTABLE_VIOLATION.
// Other errors are returned unchanged.
func GuardError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	i := strings.Index(msg, guardMarker)
	if i < 0 {
		return err
	}
	operation, rest, _ := strings.Cut(msg[i+len(guardMarker):], ":")
	partition := "unknown"
	if fields := strings.Fields(rest); len(fields) > 0 {
		partition = strings.TrimRight(fields[0], `)"'`)
	}
	return apperror.NewImmutableViolation(operation, partition).WithCause(err)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isMissingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}
