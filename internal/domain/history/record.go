// Package history implements change capture for tracked tables: the delta
// computer, the mutation hook, the append-only store contract with its
// immutability guard, and point-in-time reconstruction.
package history

import (
	"fmt"
	"sort"
	"time"

	"chronolog/internal/core/entity"
	"chronolog/internal/core/id"
	"chronolog/internal/core/tx"
)

// Operation is the kind of mutation a history record describes.
type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// ParseOperation validates an operation name read from storage.
func ParseOperation(s string) (Operation, error) {
	switch Operation(s) {
	case OpInsert, OpUpdate, OpDelete:
		return Operation(s), nil
	default:
		return "", fmt.Errorf("unknown history operation %q", s)
	}
}

// Record is one immutable history entry.
//
// Delta semantics by operation:
//   - INSERT: empty
//   - UPDATE: changed fields mapped to their pre-change values
//   - DELETE: the full pre-delete row
type Record struct {
	TransactionID tx.ID          `json:"transaction_id"`
	Table         string         `json:"table_name"`
	EntityID      id.ID          `json:"entity_id"`
	RevisionID    id.ID          `json:"revision_id"`
	Actor         string         `json:"actor"`
	Timestamp     time.Time      `json:"timestamp"`
	Operation     Operation      `json:"operation"`
	Delta         *entity.Record `json:"delta"`

	// Digest is the content hash computed at capture time.
	Digest []byte `json:"digest,omitempty"`
}

// Clone returns a deep copy so stores can hand out records without sharing state.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Delta = r.Delta.Clone()
	if c.Delta == nil {
		c.Delta = entity.NewRecord()
	}
	c.Digest = append([]byte(nil), r.Digest...)
	return &c
}

// SortByRevision orders records ascending by revision id.
func SortByRevision(records []*Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return id.Compare(records[i].RevisionID, records[j].RevisionID) < 0
	})
}

// SortForTransaction orders records by (entity_id, revision_id), the order of
// the transaction index.
func SortForTransaction(records []*Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if c := id.Compare(records[i].EntityID, records[j].EntityID); c != 0 {
			return c < 0
		}
		return id.Compare(records[i].RevisionID, records[j].RevisionID) < 0
	})
}
