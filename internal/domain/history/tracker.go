package history

import (
	"context"
	"fmt"

	"chronolog/internal/core/apperror"
	"chronolog/internal/core/entity"
	"chronolog/internal/core/id"
	"chronolog/internal/core/tx"
)

// Tracker is the data-access layer for tracked tables. Every write runs in
// one unit of work with its history capture: both commit or neither does.
type Tracker struct {
	txManager tx.Manager
	registry  *Registry
	rows      RowStore
	store     *GuardedStore
	hook      *Hook
	ids       id.Generator
}

// TrackerConfig configures the tracker.
type TrackerConfig struct {
	TxManager  tx.Manager
	Rows       RowStore
	Store      Store
	Correlator tx.Correlator
	Generator  id.Generator // Entity and revision ids
	Recorder   Recorder
}

// NewTracker wires registry, hook and guarded store around the given backends.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.Generator == nil {
		cfg.Generator = id.NewGenerator(id.LayoutCoarse)
	}
	if cfg.Recorder == nil {
		cfg.Recorder = NopRecorder{}
	}

	registry := NewRegistry(cfg.Store)
	return &Tracker{
		txManager: cfg.TxManager,
		registry:  registry,
		rows:      cfg.Rows,
		store:     NewGuardedStore(cfg.Store, cfg.Recorder),
		hook: NewHook(HookConfig{
			Registry:   registry,
			Store:      cfg.Store,
			Correlator: cfg.Correlator,
			Generator:  cfg.Generator,
			Recorder:   cfg.Recorder,
		}),
		ids: cfg.Generator,
	}
}

// Registry returns the table registry.
func (t *Tracker) Registry() *Registry {
	return t.registry
}

// Store returns the guarded history store.
func (t *Tracker) Store() *GuardedStore {
	return t.store
}

// Hook returns the mutation hook for callers that manage rows themselves.
func (t *Tracker) Hook() *Hook {
	return t.hook
}

// Register starts tracking a table. idField defaults to "<table>_id".
func (t *Tracker) Register(ctx context.Context, table, idField string) (Table, error) {
	return t.registry.Register(ctx, table, idField)
}

// Insert stores a new row and records an INSERT. An identifier is minted when
// the identity field is absent or nil. Returns the row as the host stored it.
func (t *Tracker) Insert(ctx context.Context, table string, row *entity.Record) (*entity.Record, *Record, error) {
	tbl, err := t.registry.Lookup(table)
	if err != nil {
		return nil, nil, err
	}
	stored, err := t.withIdentity(tbl, row)
	if err != nil {
		return nil, nil, err
	}

	var rec *Record
	err = t.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := t.rows.Insert(ctx, tbl, stored); err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
		entityID, err := tbl.EntityID(stored)
		if err != nil {
			return err
		}
		if stored, err = t.reload(ctx, tbl, entityID, stored); err != nil {
			return err
		}
		rec, err = t.hook.Capture(ctx, table, OpInsert, nil, stored)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return stored, rec, nil
}

// Update merges row into the live row identified by entityID and records an
// UPDATE. Fields absent from row keep their values. The delta compares the
// row as read before the write with the row as read after it, so values the
// host coerces (a BOOLEAN kept as an integer) do not show up as changes.
// Returns the row as the host stored it.
func (t *Tracker) Update(ctx context.Context, table string, entityID id.ID, row *entity.Record) (*entity.Record, *Record, error) {
	tbl, err := t.lookupEntity(table, entityID)
	if err != nil {
		return nil, nil, err
	}

	var (
		merged *entity.Record
		rec    *Record
	)
	err = t.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		old, err := t.rows.Get(ctx, tbl, entityID)
		if err != nil {
			return err
		}
		merged = old.Clone()
		for _, f := range row.Fields() {
			merged.Set(f.Name, f.Value)
		}
		if err := t.rows.Update(ctx, tbl, entityID, merged); err != nil {
			return fmt.Errorf("update %s: %w", table, err)
		}
		if merged, err = t.reload(ctx, tbl, entityID, merged); err != nil {
			return err
		}
		rec, err = t.hook.Capture(ctx, table, OpUpdate, old, merged)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return merged, rec, nil
}

// Delete removes the live row and records a DELETE holding its full state.
func (t *Tracker) Delete(ctx context.Context, table string, entityID id.ID) (*Record, error) {
	tbl, err := t.lookupEntity(table, entityID)
	if err != nil {
		return nil, err
	}

	var rec *Record
	err = t.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		old, err := t.rows.Get(ctx, tbl, entityID)
		if err != nil {
			return err
		}
		if err := t.rows.Delete(ctx, tbl, entityID); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
		rec, err = t.hook.Capture(ctx, table, OpDelete, old, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Get returns the live row.
func (t *Tracker) Get(ctx context.Context, table string, entityID id.ID) (*entity.Record, error) {
	tbl, err := t.lookupEntity(table, entityID)
	if err != nil {
		return nil, err
	}
	return t.rows.Get(ctx, tbl, entityID)
}

// History returns the entity's records ascending by revision.
func (t *Tracker) History(ctx context.Context, table string, entityID id.ID) ([]*Record, error) {
	if _, err := t.registry.Lookup(table); err != nil {
		return nil, err
	}
	return t.store.QueryByEntity(ctx, table, entityID)
}

// Transaction returns every record written by one unit of work.
func (t *Tracker) Transaction(ctx context.Context, txID tx.ID) ([]*Record, error) {
	return t.store.QueryByTransaction(ctx, txID)
}

// StateAt reconstructs the entity as it was right after revision.
// Returns (nil, nil) if the entity did not exist at that point.
func (t *Tracker) StateAt(ctx context.Context, table string, entityID, revision id.ID) (*entity.Record, error) {
	tbl, err := t.lookupEntity(table, entityID)
	if err != nil {
		return nil, err
	}

	var state *entity.Record
	err = t.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		records, err := t.store.QueryByEntity(ctx, table, entityID)
		if err != nil {
			return err
		}
		current, err := t.rows.Get(ctx, tbl, entityID)
		if err != nil && !apperror.IsNotFound(err) {
			return err
		}
		state, err = Reconstruct(current, records, revision)
		return err
	})
	return state, err
}

func (t *Tracker) lookupEntity(table string, entityID id.ID) (Table, error) {
	tbl, err := t.registry.Lookup(table)
	if err != nil {
		return Table{}, err
	}
	if id.IsNil(entityID) {
		return Table{}, apperror.NewValidation("entity id is nil").WithDetail("table", table)
	}
	return tbl, nil
}

// reload reads back the row just written. A row whose identity no longer
// matches entityID is returned as written so the hook rejects it.
func (t *Tracker) reload(ctx context.Context, tbl Table, entityID id.ID, written *entity.Record) (*entity.Record, error) {
	if got, err := tbl.EntityID(written); err != nil || got != entityID {
		return written, nil
	}
	return t.rows.Get(ctx, tbl, entityID)
}

// withIdentity returns a copy of row whose identity field leads the field
// order and holds a valid identifier.
func (t *Tracker) withIdentity(tbl Table, row *entity.Record) (*entity.Record, error) {
	var entityID id.ID
	if v, ok := row.Get(tbl.IDField); ok && v != nil {
		parsed, err := toID(v)
		if err != nil {
			return nil, apperror.NewValidation("identity field is not an identifier").
				WithDetail("table", tbl.Name).
				WithDetail("field", tbl.IDField)
		}
		entityID = parsed
	}
	if id.IsNil(entityID) {
		minted, err := t.ids.Generate()
		if err != nil {
			return nil, err
		}
		entityID = minted
	}

	out := entity.NewRecord(entity.Field{Name: tbl.IDField, Value: entityID})
	for _, f := range row.Fields() {
		if f.Name != tbl.IDField {
			out.Set(f.Name, f.Value)
		}
	}
	return out, nil
}
