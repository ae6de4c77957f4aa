package history

import (
	"context"

	"chronolog/internal/core/apperror"
	"chronolog/internal/core/entity"
	"chronolog/internal/core/id"
	"chronolog/internal/core/tx"
)

// Store is the append-only history log, partitioned by table.
// Writes must join the unit of work bound to ctx so that an abort discards
// the appended records together with the entity mutation.
type Store interface {
	PartitionProvisioner

	// Append adds a record. Fails with DUPLICATE_REVISION if
	// (table, entity_id, revision_id) already exists.
	Append(ctx context.Context, rec *Record) error

	// QueryByEntity returns the entity's records ascending by revision.
	// Unknown entities yield an empty slice; unknown tables TABLE_NOT_REGISTERED.
	QueryByEntity(ctx context.Context, table string, entityID id.ID) ([]*Record, error)

	// QueryByTransaction returns every record sharing txID across all
	// partitions, ordered by (entity_id, revision_id).
	QueryByTransaction(ctx context.Context, txID tx.ID) ([]*Record, error)
}

// RowStore holds the live rows of tracked tables.
type RowStore interface {
	// Get returns the live row or NOT_FOUND.
	Get(ctx context.Context, t Table, entityID id.ID) (*entity.Record, error)

	Insert(ctx context.Context, t Table, row *entity.Record) error

	// Update replaces the row identified by entityID with row.
	Update(ctx context.Context, t Table, entityID id.ID, row *entity.Record) error

	Delete(ctx context.Context, t Table, entityID id.ID) error
}

// Guard operations named in IMMUTABLE_VIOLATION errors.
const (
	GuardUpdate   = "UPDATE"
	GuardDelete   = "DELETE"
	GuardTruncate = "TRUNCATE"
)

// GuardedStore exposes a Store together with the modifying operations a
// history log refuses. Update, Delete and Clear always fail with
// IMMUTABLE_VIOLATION; there is no override. Corrections are made by
// appending a compensating record.
type GuardedStore struct {
	Store
	recorder Recorder
}

// NewGuardedStore attaches the immutability guard to store.
func NewGuardedStore(store Store, recorder Recorder) *GuardedStore {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &GuardedStore{Store: store, recorder: recorder}
}

// Update rejects any modification of an existing record.
func (g *GuardedStore) Update(ctx context.Context, rec *Record) error {
	var table string
	if rec != nil {
		table = rec.Table
	}
	return g.reject(table, GuardUpdate)
}

// Delete rejects removal of a single record.
func (g *GuardedStore) Delete(ctx context.Context, table string, entityID, revisionID id.ID) error {
	return g.reject(table, GuardDelete)
}

// Clear rejects bulk removal of a partition.
func (g *GuardedStore) Clear(ctx context.Context, table string) error {
	return g.reject(table, GuardTruncate)
}

func (g *GuardedStore) reject(table, operation string) error {
	g.recorder.Rejected(table, apperror.CodeImmutableViolation)
	return apperror.NewImmutableViolation(operation, PartitionName(table))
}
