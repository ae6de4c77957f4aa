// Package id provides time-ordered 128-bit identifiers used both as entity
// identity and as history revision keys. Identifiers render in the canonical
// 8-4-4-4-12 hex form regardless of the layout that produced them.
package id

import (
	"bytes"

	"github.com/google/uuid"
)

// ID is a type alias for UUID, used across all tracked entities and history records.
type ID = uuid.UUID

var defaultGenerator = NewGenerator(LayoutCoarse)

// New generates an identifier with the process-wide coarse generator.
// It panics if the secure random source fails; use a Generator directly
// where that failure must be handled as an error.
func New() ID {
	v, err := defaultGenerator.Generate()
	if err != nil {
		panic(err)
	}
	return v
}

// Parse converts string to ID with validation.
func Parse(s string) (ID, error) {
	return uuid.Parse(s)
}

// MustParse converts string to ID, panics on error.
// Use only for constants and tests.
func MustParse(s string) ID {
	return uuid.MustParse(s)
}

// Nil returns the all-zero sentinel meaning "no entity".
func Nil() ID {
	return uuid.Nil
}

// IsNil checks if ID is the zero sentinel.
func IsNil(v ID) bool {
	return v == uuid.Nil
}

// Compare orders identifiers bytewise, which for both layouts is creation order
// down to the timestamp resolution.
func Compare(a, b ID) int {
	return bytes.Compare(a[:], b[:])
}
