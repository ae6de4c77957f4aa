package history_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chronolog/internal/core/apperror"
	appctx "chronolog/internal/core/context"
	"chronolog/internal/core/entity"
	"chronolog/internal/core/id"
	"chronolog/internal/domain/history"
	"chronolog/internal/infrastructure/storage/memory"
)

type fixture struct {
	tracker *history.Tracker
	txm     *memory.TxManager
	store   *memory.HistoryStore
	rows    *memory.RowStore
}

func setupTracker(t *testing.T) (*fixture, context.Context) {
	t.Helper()
	txm := memory.NewTxManager()
	store := memory.NewHistoryStore()
	rows := memory.NewRowStore()

	tracker := history.NewTracker(history.TrackerConfig{
		TxManager:  txm,
		Rows:       rows,
		Store:      store,
		Correlator: txm,
	})
	ctx := appctx.WithActor(context.Background(), "bob@example.com")
	_, err := tracker.Register(ctx, "person", "")
	require.NoError(t, err)

	return &fixture{tracker: tracker, txm: txm, store: store, rows: rows}, ctx
}

func bob() *entity.Record {
	return entity.NewRecord().Set("first_name", "bob").Set("last_name", "smith")
}

func TestTracker_Lifecycle(t *testing.T) {
	f, ctx := setupTracker(t)

	row, ins, err := f.tracker.Insert(ctx, "person", bob())
	require.NoError(t, err)
	pid, err := id.Parse(mustString(t, row, "person_id"))
	require.NoError(t, err)
	assert.Equal(t, history.OpInsert, ins.Operation)
	assert.Equal(t, 0, ins.Delta.Len())
	assert.Equal(t, "bob@example.com", ins.Actor)
	assert.Equal(t, pid, ins.EntityID)

	_, upd, err := f.tracker.Update(ctx, "person", pid, entity.NewRecord().Set("first_name", "robert"))
	require.NoError(t, err)
	assert.Equal(t, history.OpUpdate, upd.Operation)
	assert.Equal(t, map[string]any{"first_name": "bob"}, upd.Delta.Map())

	del, err := f.tracker.Delete(ctx, "person", pid)
	require.NoError(t, err)
	assert.Equal(t, history.OpDelete, del.Operation)
	assert.Equal(t, map[string]any{"person_id": pid, "first_name": "robert", "last_name": "smith"}, del.Delta.Map())

	records, err := f.tracker.History(ctx, "person", pid)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []history.Operation{history.OpInsert, history.OpUpdate, history.OpDelete},
		[]history.Operation{records[0].Operation, records[1].Operation, records[2].Operation})
	for i := 1; i < len(records); i++ {
		assert.Negative(t, id.Compare(records[i-1].RevisionID, records[i].RevisionID))
	}

	_, err = f.tracker.Get(ctx, "person", pid)
	assert.True(t, apperror.IsNotFound(err))

	state, err := f.tracker.StateAt(ctx, "person", pid, ins.RevisionID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"person_id": pid, "first_name": "bob", "last_name": "smith"}, state.Map())

	state, err = f.tracker.StateAt(ctx, "person", pid, del.RevisionID)
	require.NoError(t, err)
	assert.Nil(t, state)
}

func mustString(t *testing.T, row *entity.Record, field string) string {
	t.Helper()
	v, ok := row.Get(field)
	require.True(t, ok)
	switch x := v.(type) {
	case id.ID:
		return x.String()
	case string:
		return x
	}
	t.Fatalf("unexpected %T", v)
	return ""
}

func TestTracker_MissingActorAbortsMutation(t *testing.T) {
	f, ctx := setupTracker(t)
	row, _, err := f.tracker.Insert(ctx, "person", bob())
	require.NoError(t, err)
	pid, _ := id.Parse(mustString(t, row, "person_id"))

	anonymous := context.Background()

	_, _, err = f.tracker.Insert(anonymous, "person", bob())
	assert.True(t, apperror.IsCode(err, apperror.CodeMissingActor))

	_, _, err = f.tracker.Update(anonymous, "person", pid, entity.NewRecord().Set("first_name", "robert"))
	assert.True(t, apperror.IsCode(err, apperror.CodeMissingActor))

	_, err = f.tracker.Delete(appctx.WithActor(anonymous, "   "), "person", pid)
	assert.True(t, apperror.IsCode(err, apperror.CodeMissingActor))

	live, err := f.tracker.Get(ctx, "person", pid)
	require.NoError(t, err)
	assert.Equal(t, "bob", mustString(t, live, "first_name"))

	records, err := f.tracker.History(ctx, "person", pid)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestTracker_IdentityChangeRejected(t *testing.T) {
	f, ctx := setupTracker(t)
	row, _, err := f.tracker.Insert(ctx, "person", bob())
	require.NoError(t, err)
	pid, _ := id.Parse(mustString(t, row, "person_id"))

	_, _, err = f.tracker.Update(ctx, "person", pid,
		entity.NewRecord().Set("person_id", id.New()).Set("first_name", "robert"))
	assert.True(t, apperror.IsCode(err, apperror.CodeIdentityMismatch))

	live, err := f.tracker.Get(ctx, "person", pid)
	require.NoError(t, err)
	assert.Equal(t, pid.String(), mustString(t, live, "person_id"))
	assert.Equal(t, "bob", mustString(t, live, "first_name"))

	records, err := f.tracker.History(ctx, "person", pid)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestTracker_UnitOfWorkSharesTransactionID(t *testing.T) {
	f, ctx := setupTracker(t)
	_, err := f.tracker.Register(ctx, "account", "id")
	require.NoError(t, err)

	var recs []*history.Record
	err = f.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		_, r1, err := f.tracker.Insert(ctx, "person", bob())
		if err != nil {
			return err
		}
		_, r2, err := f.tracker.Insert(ctx, "account", entity.NewRecord().Set("balance", 10))
		if err != nil {
			return err
		}
		recs = append(recs, r1, r2)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, recs[0].TransactionID, recs[1].TransactionID)

	grouped, err := f.tracker.Transaction(ctx, recs[0].TransactionID)
	require.NoError(t, err)
	assert.Len(t, grouped, 2)

	_, other, err := f.tracker.Insert(ctx, "person", bob())
	require.NoError(t, err)
	assert.NotEqual(t, recs[0].TransactionID, other.TransactionID)
}

func TestTracker_AbortRollsBackHistory(t *testing.T) {
	f, ctx := setupTracker(t)
	boom := errors.New("boom")

	var inserted *history.Record
	err := f.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		_, rec, err := f.tracker.Insert(ctx, "person", bob())
		require.NoError(t, err)
		inserted = rec
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = f.tracker.Get(ctx, "person", inserted.EntityID)
	assert.True(t, apperror.IsNotFound(err))
	records, err := f.tracker.History(ctx, "person", inserted.EntityID)
	require.NoError(t, err)
	assert.Empty(t, records)
	grouped, err := f.tracker.Transaction(ctx, inserted.TransactionID)
	require.NoError(t, err)
	assert.Empty(t, grouped)
}

func TestTracker_NoChangeUpdateStillRecorded(t *testing.T) {
	f, ctx := setupTracker(t)
	row, _, err := f.tracker.Insert(ctx, "person", bob())
	require.NoError(t, err)
	pid, _ := id.Parse(mustString(t, row, "person_id"))

	_, rec, err := f.tracker.Update(ctx, "person", pid, entity.NewRecord().Set("first_name", "bob"))
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Delta.Len())
}

func TestTracker_Errors(t *testing.T) {
	f, ctx := setupTracker(t)

	_, _, err := f.tracker.Insert(ctx, "order", bob())
	assert.True(t, apperror.IsCode(err, apperror.CodeNotRegistered))

	_, err = f.tracker.History(ctx, "order", id.New())
	assert.True(t, apperror.IsCode(err, apperror.CodeNotRegistered))

	_, err = f.tracker.Delete(ctx, "person", id.Nil())
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))

	_, err = f.tracker.Delete(ctx, "person", id.New())
	assert.True(t, apperror.IsNotFound(err))

	records, err := f.tracker.History(ctx, "person", id.New())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestHook_RequiresUnitOfWork(t *testing.T) {
	f, ctx := setupTracker(t)

	_, err := f.tracker.Hook().Capture(ctx, "person", history.OpInsert, nil,
		entity.NewRecord().Set("person_id", id.New()))
	assert.True(t, apperror.IsCode(err, apperror.CodeNoTransaction))
}

func TestHook_RejectsMismatchedImages(t *testing.T) {
	f, ctx := setupTracker(t)
	row := entity.NewRecord().Set("person_id", id.New())

	err := f.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		_, err := f.tracker.Hook().Capture(ctx, "person", history.OpDelete, nil, row)
		return err
	})
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))
}

func TestTracker_GuardedStore(t *testing.T) {
	f, ctx := setupTracker(t)
	_, rec, err := f.tracker.Insert(ctx, "person", bob())
	require.NoError(t, err)

	err = f.tracker.Store().Delete(ctx, "person", rec.EntityID, rec.RevisionID)
	assert.True(t, apperror.IsCode(err, apperror.CodeImmutableViolation))

	records, err := f.tracker.History(ctx, "person", rec.EntityID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
