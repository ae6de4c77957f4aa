package entity

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_PreservesInsertionOrder(t *testing.T) {
	r := NewRecord().
		Set("person_id", "p-1").
		Set("first_name", "bob").
		Set("last_name", "smith")

	r.Set("first_name", "robert")

	assert.Equal(t, []string{"person_id", "first_name", "last_name"}, r.Names())
	v, ok := r.Get("first_name")
	require.True(t, ok)
	assert.Equal(t, "robert", v)

	r.Delete("person_id")
	assert.Equal(t, []string{"first_name", "last_name"}, r.Names())
	assert.Equal(t, 2, r.Len())
}

func TestRecord_NormalizesValues(t *testing.T) {
	name := "bob"
	var missing *string
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))

	r := NewRecord(
		Field{Name: "age", Value: 42},
		Field{Name: "ratio", Value: float32(0.5)},
		Field{Name: "name", Value: &name},
		Field{Name: "nick", Value: missing},
		Field{Name: "at", Value: ts},
	)

	age, _ := r.Get("age")
	assert.Equal(t, int64(42), age)
	ratio, _ := r.Get("ratio")
	assert.Equal(t, float64(0.5), ratio)
	n, _ := r.Get("name")
	assert.Equal(t, "bob", n)
	nick, ok := r.Get("nick")
	assert.True(t, ok)
	assert.Nil(t, nick)
	at, _ := r.Get("at")
	assert.Equal(t, time.UTC, at.(time.Time).Location())
}

func TestRecord_JSONKeepsOrder(t *testing.T) {
	r := NewRecord().Set("z", 1).Set("a", "x").Set("m", nil)

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Equal(t, `{"z":1,"a":"x","m":null}`, string(data))

	var back Record
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, []string{"z", "a", "m"}, back.Names())
	z, _ := back.Get("z")
	assert.Equal(t, int64(1), z)
	assert.True(t, back.Has("m"))
}

func TestRecord_UnmarshalRejectsNonObject(t *testing.T) {
	var r Record
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &r))
}

func TestRecord_NilIsEmpty(t *testing.T) {
	var r *Record
	assert.Equal(t, 0, r.Len())
	assert.False(t, r.Has("x"))
	assert.Empty(t, r.Map())
	assert.Nil(t, r.Clone())
}

func TestEqual(t *testing.T) {
	ts := time.Now()

	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"nil vs nil", nil, nil, true},
		{"nil vs empty string", nil, "", false},
		{"nil vs zero", nil, 0, false},
		{"empty string vs empty string", "", "", true},
		{"nil bytes vs empty bytes", []byte(nil), []byte{}, false},
		{"bytes equal", []byte("ab"), []byte("ab"), true},
		{"int widths", int32(7), int64(7), true},
		{"int vs float", 7, 7.0, true},
		{"different strings", "bob", "robert", false},
		{"decimal scale", decimal.RequireFromString("1.50"), decimal.RequireFromString("1.5"), true},
		{"decimal differs", decimal.RequireFromString("1.5"), decimal.RequireFromString("1.6"), false},
		{"time zones", ts, ts.In(time.FixedZone("Y", 7200)), true},
		{"string vs number", "7", 7, false},
		{"nested maps", map[string]any{"a": 1}, map[string]any{"a": int64(1)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
		})
	}
}
