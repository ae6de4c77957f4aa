package sqlite

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chronolog/internal/core/apperror"
	appctx "chronolog/internal/core/context"
	"chronolog/internal/core/entity"
	"chronolog/internal/core/id"
	"chronolog/internal/domain/history"
	"chronolog/internal/infrastructure/storage/deltacodec"
)

type testHost struct {
	db      *DB
	txm     *TxManager
	store   *HistoryStore
	tracker *history.Tracker
}

func setupTestHost(t *testing.T, threshold int) (*testHost, context.Context) {
	t.Helper()
	ctx := appctx.WithActor(context.Background(), "bob@example.com")

	db, err := Open(ctx, MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.ExecContext(ctx, `
		CREATE TABLE person (
			person_id TEXT PRIMARY KEY,
			first_name TEXT,
			last_name TEXT,
			notes TEXT
		);
		CREATE TABLE account (
			id TEXT PRIMARY KEY,
			balance INTEGER NOT NULL
		);
	`)
	require.NoError(t, err)

	codec, err := deltacodec.New(threshold)
	require.NoError(t, err)

	h := &testHost{db: db, txm: NewTxManager(db)}
	h.store = NewHistoryStore(h.txm, codec)
	h.tracker = h.newTracker()

	_, err = h.tracker.Register(ctx, "person", "")
	require.NoError(t, err)
	_, err = h.tracker.Register(ctx, "account", "id")
	require.NoError(t, err)

	return h, ctx
}

func (h *testHost) newTracker() *history.Tracker {
	return history.NewTracker(history.TrackerConfig{
		TxManager:  h.txm,
		Rows:       NewRowStore(h.txm),
		Store:      h.store,
		Correlator: h.txm,
	})
}

func TestSQLite_Lifecycle(t *testing.T) {
	h, ctx := setupTestHost(t, 0)

	row, ins, err := h.tracker.Insert(ctx, "person", entity.NewRecord().
		Set("first_name", "bob").
		Set("last_name", "smith"))
	require.NoError(t, err)
	pid := ins.EntityID
	v, _ := row.Get("person_id")
	assert.Equal(t, pid.String(), v)
	assert.Equal(t, []string{"person_id", "first_name", "last_name", "notes"}, row.Names())

	_, upd, err := h.tracker.Update(ctx, "person", pid, entity.NewRecord().Set("first_name", "robert"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"first_name": "bob"}, upd.Delta.Map())

	del, err := h.tracker.Delete(ctx, "person", pid)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"person_id":  pid.String(),
		"first_name": "robert",
		"last_name":  "smith",
		"notes":      nil,
	}, del.Delta.Map())

	records, err := h.store.QueryByEntity(ctx, "person", pid)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, ins.RevisionID, records[0].RevisionID)
	assert.Equal(t, upd.RevisionID, records[1].RevisionID)
	assert.Equal(t, del.RevisionID, records[2].RevisionID)
	assert.Equal(t, ins.Timestamp, records[0].Timestamp)
	assert.Equal(t, []string{"person_id", "first_name", "last_name", "notes"}, records[2].Delta.Names())

	state, err := h.tracker.StateAt(ctx, "person", pid, upd.RevisionID)
	require.NoError(t, err)
	name, _ := state.Get("first_name")
	assert.Equal(t, "robert", name)
}

func TestSQLite_UpdateDeltaUsesStoredValues(t *testing.T) {
	h, ctx := setupTestHost(t, 0)
	_, err := h.db.ExecContext(ctx, `CREATE TABLE flag (flag_id TEXT PRIMARY KEY, active BOOLEAN, name TEXT)`)
	require.NoError(t, err)
	_, err = h.tracker.Register(ctx, "flag", "")
	require.NoError(t, err)

	row, _, err := h.tracker.Insert(ctx, "flag", entity.NewRecord().Set("active", true).Set("name", "a"))
	require.NoError(t, err)
	active, _ := row.Get("active")
	assert.Equal(t, int64(1), active)

	raw, _ := row.Get("flag_id")
	fid, err := id.Parse(raw.(string))
	require.NoError(t, err)

	row, upd, err := h.tracker.Update(ctx, "flag", fid, entity.NewRecord().Set("active", true).Set("name", "b"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "a"}, upd.Delta.Map())
	active, _ = row.Get("active")
	assert.Equal(t, int64(1), active)

	records, err := h.store.QueryByEntity(ctx, "flag", fid)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, upd.Digest, records[1].Digest)
}

type period struct {
	Months       int32 `json:"months"`
	Days         int32 `json:"days"`
	Microseconds int64 `json:"microseconds"`
}

func TestSQLite_StructDeltaVerifies(t *testing.T) {
	h, ctx := setupTestHost(t, 0)
	_, ins, err := h.tracker.Insert(ctx, "person", entity.NewRecord().Set("first_name", "bob"))
	require.NoError(t, err)

	rec := ins.Clone()
	rec.RevisionID = id.New()
	rec.Operation = history.OpUpdate
	rec.Delta = entity.NewRecord().
		Set("notice", period{Months: 1, Days: 2, Microseconds: 3}).
		Set("quota", uint64(1<<63+5))
	rec.Digest, err = history.ComputeDigest(rec)
	require.NoError(t, err)

	err = h.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		return h.store.Append(ctx, rec)
	})
	require.NoError(t, err)

	records, err := h.store.QueryByEntity(ctx, "person", ins.EntityID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, rec.Digest, records[1].Digest)
	notice, _ := records[1].Delta.Get("notice")
	assert.Equal(t, map[string]any{"months": int64(1), "days": int64(2), "microseconds": int64(3)}, notice)
}

func TestSQLite_TransactionSpansPartitions(t *testing.T) {
	h, ctx := setupTestHost(t, 0)

	var recs []*history.Record
	err := h.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		_, r1, err := h.tracker.Insert(ctx, "person", entity.NewRecord().Set("first_name", "bob"))
		if err != nil {
			return err
		}
		_, r2, err := h.tracker.Insert(ctx, "account", entity.NewRecord().Set("balance", 10))
		if err != nil {
			return err
		}
		recs = append(recs, r1, r2)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, recs[0].TransactionID, recs[1].TransactionID)

	grouped, err := h.store.QueryByTransaction(ctx, recs[0].TransactionID)
	require.NoError(t, err)
	require.Len(t, grouped, 2)
	tables := []string{grouped[0].Table, grouped[1].Table}
	assert.ElementsMatch(t, []string{"person", "account"}, tables)
	assert.Negative(t, id.Compare(grouped[0].EntityID, grouped[1].EntityID))
}

func TestSQLite_AbortLeavesNoTrace(t *testing.T) {
	h, ctx := setupTestHost(t, 0)

	_, _, err := h.tracker.Insert(context.Background(), "person", entity.NewRecord().Set("first_name", "bob"))
	require.True(t, apperror.IsCode(err, apperror.CodeMissingActor))

	var n int
	require.NoError(t, h.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM person").Scan(&n))
	assert.Zero(t, n)
	require.NoError(t, h.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM history_person").Scan(&n))
	assert.Zero(t, n)
}

func TestSQLite_GuardTriggers(t *testing.T) {
	h, ctx := setupTestHost(t, 0)
	_, rec, err := h.tracker.Insert(ctx, "person", entity.NewRecord().Set("first_name", "bob"))
	require.NoError(t, err)

	tests := []struct {
		name      string
		stmt      string
		operation string
	}{
		{"update", "UPDATE history_person SET actor = 'mallory'", "UPDATE"},
		{"delete one", "DELETE FROM history_person WHERE revision_id = x'" + hexOf(rec.RevisionID) + "'", "DELETE"},
		{"delete all", "DELETE FROM history_person", "DELETE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.db.ExecContext(ctx, tt.stmt)
			require.Error(t, err)

			appErr, ok := apperror.AsAppError(GuardError(err))
			require.True(t, ok, "raw error: %v", err)
			assert.Equal(t, apperror.CodeImmutableViolation, appErr.Code)
			assert.Equal(t, tt.operation, appErr.Details["operation"])
			assert.Equal(t, "history_person", appErr.Details["partition"])
		})
	}

	records, err := h.store.QueryByEntity(ctx, "person", rec.EntityID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "bob@example.com", records[0].Actor)
}

func hexOf(v id.ID) string {
	return strings.ReplaceAll(v.String(), "-", "")
}

func TestSQLite_DuplicateRevision(t *testing.T) {
	h, ctx := setupTestHost(t, 0)
	_, rec, err := h.tracker.Insert(ctx, "person", entity.NewRecord().Set("first_name", "bob"))
	require.NoError(t, err)

	err = h.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		return h.store.Append(ctx, rec)
	})
	assert.True(t, apperror.IsCode(err, apperror.CodeDuplicateRevision))
	assert.True(t, apperror.IsFatal(err))
}

func TestSQLite_CompressedDeltaRoundTrip(t *testing.T) {
	h, ctx := setupTestHost(t, 32)
	notes := strings.Repeat("a long note ", 50)

	_, ins, err := h.tracker.Insert(ctx, "person", entity.NewRecord().Set("first_name", "bob").Set("notes", notes))
	require.NoError(t, err)
	del, err := h.tracker.Delete(ctx, "person", ins.EntityID)
	require.NoError(t, err)

	var algo string
	require.NoError(t, h.db.QueryRowContext(ctx,
		"SELECT delta_algo FROM history_person WHERE operation = 'DELETE'").Scan(&algo))
	assert.Equal(t, string(deltacodec.AlgoZstd), algo)

	records, err := h.store.QueryByEntity(ctx, "person", ins.EntityID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	got, _ := records[1].Delta.Get("notes")
	assert.Equal(t, notes, got)
	assert.Equal(t, del.Digest, records[1].Digest)
}

func TestSQLite_TamperDetected(t *testing.T) {
	h, ctx := setupTestHost(t, 0)
	_, rec, err := h.tracker.Insert(ctx, "person", entity.NewRecord().Set("first_name", "bob"))
	require.NoError(t, err)

	// Drop the guard the way an operator with raw access could.
	_, err = h.db.ExecContext(ctx, `DROP TRIGGER "history_person_no_update"`)
	require.NoError(t, err)
	_, err = h.db.ExecContext(ctx, "UPDATE history_person SET actor = 'mallory'")
	require.NoError(t, err)

	_, err = h.store.QueryByEntity(ctx, "person", rec.EntityID)
	assert.True(t, apperror.IsCode(err, apperror.CodeTamperDetected))
}

func TestSQLite_RegistryPersists(t *testing.T) {
	h, ctx := setupTestHost(t, 0)

	fresh := h.newTracker()
	_, ok := fresh.Registry().Get("person")
	require.False(t, ok)

	require.NoError(t, fresh.Registry().Load(ctx))
	tbl, ok := fresh.Registry().Get("account")
	require.True(t, ok)
	assert.Equal(t, "id", tbl.IDField)
	assert.Equal(t, "history_account", tbl.Partition)

	// Catalog rejects a conflicting identity field even for a fresh registry.
	_, err := h.newTracker().Register(ctx, "account", "account_id")
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))
}

func TestSQLite_UnknownTableAndEntity(t *testing.T) {
	h, ctx := setupTestHost(t, 0)

	_, err := h.store.QueryByEntity(ctx, "order", id.New())
	assert.True(t, apperror.IsCode(err, apperror.CodeNotRegistered))

	records, err := h.store.QueryByEntity(ctx, "person", id.New())
	require.NoError(t, err)
	assert.Empty(t, records)

	records, err = h.store.QueryByTransaction(ctx, 42)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestGuardError(t *testing.T) {
	plain := errors.New("disk I/O error")
	assert.Same(t, plain, GuardError(plain))
	assert.Nil(t, GuardError(nil))

	err := GuardError(errors.New("SQL logic error: immutable_violation:DELETE:history_order (1)"))
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, "DELETE", appErr.Details["operation"])
	assert.Equal(t, "history_order", appErr.Details["partition"])
}

func TestPartitionDDL(t *testing.T) {
	stmts := PartitionDDL(history.Table{Name: "person", IDField: "person_id", Partition: "history_person"})
	require.Len(t, stmts, 5)
	assert.Contains(t, stmts[0], `CREATE TABLE IF NOT EXISTS "history_person"`)
	assert.Contains(t, stmts[0], "PRIMARY KEY (table_name, entity_id, revision_id)")
	assert.Contains(t, stmts[1], "(entity_id, revision_id)")
	assert.Contains(t, stmts[2], "(transaction_id, entity_id, revision_id)")
	assert.Contains(t, stmts[3], "RAISE(ABORT, 'immutable_violation:UPDATE:history_person')")
	assert.Contains(t, stmts[4], "BEFORE DELETE ON")
}
