package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chronolog/internal/core/apperror"
	"chronolog/internal/core/entity"
	"chronolog/internal/core/id"
)

func TestReconstruct(t *testing.T) {
	gen := id.NewGenerator(id.LayoutCoarse)
	rev := func() id.ID {
		v, err := gen.Generate()
		require.NoError(t, err)
		return v
	}
	pid := id.New()

	insert := &Record{RevisionID: rev(), Operation: OpInsert, Delta: entity.NewRecord()}
	update := &Record{RevisionID: rev(), Operation: OpUpdate, Delta: entity.NewRecord().Set("first_name", "bob")}
	del := &Record{RevisionID: rev(), Operation: OpDelete, Delta: entity.NewRecord().
		Set("person_id", pid).Set("first_name", "robert").Set("last_name", "smith")}
	reinsert := &Record{RevisionID: rev(), Operation: OpInsert, Delta: entity.NewRecord()}

	current := entity.NewRecord().Set("person_id", pid).Set("first_name", "rob").Set("last_name", "smith")
	// Shuffled on purpose: Reconstruct orders by revision itself.
	records := []*Record{del, insert, reinsert, update}

	t.Run("after insert", func(t *testing.T) {
		got, err := Reconstruct(current, records, insert.RevisionID)
		require.NoError(t, err)
		assert.Equal(t, []string{"person_id", "first_name", "last_name"}, got.Names())
		assert.Equal(t, map[string]any{"person_id": pid, "first_name": "bob", "last_name": "smith"}, got.Map())
	})

	t.Run("after update", func(t *testing.T) {
		got, err := Reconstruct(current, records, update.RevisionID)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"person_id": pid, "first_name": "robert", "last_name": "smith"}, got.Map())
	})

	t.Run("after delete", func(t *testing.T) {
		got, err := Reconstruct(current, records, del.RevisionID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("latest is the live row", func(t *testing.T) {
		got, err := Reconstruct(current, records, reinsert.RevisionID)
		require.NoError(t, err)
		assert.Equal(t, current.Map(), got.Map())
	})

	t.Run("unknown revision", func(t *testing.T) {
		_, err := Reconstruct(current, records, rev())
		assert.True(t, apperror.IsNotFound(err))
	})

	t.Run("does not modify the live row", func(t *testing.T) {
		_, err := Reconstruct(current, records, update.RevisionID)
		require.NoError(t, err)
		v, _ := current.Get("first_name")
		assert.Equal(t, "rob", v)
	})
}

func TestReconstruct_DeletedEntity(t *testing.T) {
	gen := id.NewGenerator(id.LayoutCompact)
	r1, _ := gen.Generate()
	r2, _ := gen.Generate()
	r3, _ := gen.Generate()

	records := []*Record{
		{RevisionID: r1, Operation: OpInsert, Delta: entity.NewRecord()},
		{RevisionID: r2, Operation: OpUpdate, Delta: entity.NewRecord().Set("qty", 1)},
		{RevisionID: r3, Operation: OpDelete, Delta: entity.NewRecord().Set("qty", 2)},
	}

	got, err := Reconstruct(nil, records, r1)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"qty": int64(1)}, got.Map())
}

func TestReconstruct_AddedFieldComesBackNil(t *testing.T) {
	gen := id.NewGenerator(id.LayoutCoarse)
	r1, _ := gen.Generate()
	r2, _ := gen.Generate()

	before := entity.NewRecord().Set("name", "bob")
	after := entity.NewRecord().Set("name", "bob").Set("nickname", "bobby")
	records := []*Record{
		{RevisionID: r1, Operation: OpInsert, Delta: entity.NewRecord()},
		{RevisionID: r2, Operation: OpUpdate, Delta: Diff(before, after)},
	}

	got, err := Reconstruct(after, records, r1)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "bob", "nickname": nil}, got.Map())
}
