// Package tx provides unit-of-work abstractions.
// This package defines interfaces that decouple history capture from specific
// database implementations: domain code depends on Manager and Correlator,
// the storage backends implement them.
package tx

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"chronolog/internal/core/apperror"
)

// Manager defines the contract for transaction management.
// Implementations handle BEGIN, COMMIT, ROLLBACK, and nested transaction support.
type Manager interface {
	// RunInTransaction executes fn within a unit of work.
	// If fn returns an error, every write made through ctx is rolled back,
	// history records included. If fn succeeds, the unit of work is committed.
	//
	// Nested calls reuse the existing transaction from context.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// ID identifies a unit of work for history correlation.
type ID int64

// Correlator derives the grouping id shared by every history record written
// inside one unit of work.
type Correlator interface {
	// TransactionID returns the id of the unit of work bound to ctx.
	// Returns NO_TRANSACTION when ctx carries no unit of work.
	TransactionID(ctx context.Context) (ID, error)
}

// Strategy selects how a correlator resolves the unit-of-work id.
type Strategy string

const (
	// StrategyCurrent uses the unit of work's own identifier, assigning it
	// eagerly so it is stable for the full duration.
	StrategyCurrent Strategy = "current"

	// StrategySnapshotXmin uses the identifier only if already assigned and
	// otherwise falls back to the oldest active unit of work visible in the
	// current snapshot. Coarser: overlapping units may share an id.
	StrategySnapshotXmin Strategy = "snapshot_xmin"
)

// ParseStrategy validates a strategy name from configuration.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyCurrent, StrategySnapshotXmin:
		return Strategy(s), nil
	case "":
		return StrategyCurrent, nil
	default:
		return "", fmt.Errorf("unknown correlation strategy %q", s)
	}
}

// NewLocalID mints a unit-of-work id for hosts that have no native
// transaction identifier. Values are positive 63-bit random numbers.
func NewLocalID() (ID, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, apperror.NewEntropyUnavailable(err)
	}
	v := binary.BigEndian.Uint64(buf[:]) & (1<<63 - 1)
	if v == 0 {
		v = 1
	}
	return ID(v), nil
}
