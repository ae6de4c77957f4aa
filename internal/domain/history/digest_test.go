package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chronolog/internal/core/apperror"
	"chronolog/internal/core/entity"
	"chronolog/internal/core/id"
)

func sampleRecord() *Record {
	return &Record{
		TransactionID: 7,
		Table:         "person",
		EntityID:      id.MustParse("0190a6f2-7b3c-7def-8123-456789abcdef"),
		RevisionID:    id.MustParse("0190a6f2-7b3d-7def-8123-456789abcdef"),
		Actor:         "bob@example.com",
		Timestamp:     time.Date(2024, 7, 1, 12, 0, 0, 123456000, time.UTC),
		Operation:     OpUpdate,
		Delta:         entity.NewRecord().Set("first_name", "bob"),
	}
}

func TestDigest_DetectsChanges(t *testing.T) {
	rec := sampleRecord()
	sum, err := ComputeDigest(rec)
	require.NoError(t, err)
	assert.Len(t, sum, DigestSize)
	rec.Digest = sum
	require.NoError(t, Verify(rec))

	mutations := map[string]func(r *Record){
		"actor":       func(r *Record) { r.Actor = "mallory" },
		"operation":   func(r *Record) { r.Operation = OpDelete },
		"delta value": func(r *Record) { r.Delta.Set("first_name", "robert") },
		"transaction": func(r *Record) { r.TransactionID = 8 },
		"timestamp":   func(r *Record) { r.Timestamp = r.Timestamp.Add(time.Microsecond) },
		"table shift": func(r *Record) { r.Table = "perso"; r.Actor = "nbob@example.com" },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			c := rec.Clone()
			mutate(c)
			assert.True(t, apperror.IsCode(Verify(c), apperror.CodeTamperDetected))
		})
	}
}

func TestDigest_StableAcrossJSONRoundTrip(t *testing.T) {
	rec := sampleRecord()
	rec.Delta.Set("qty", 3).Set("at", rec.Timestamp)
	sum, err := ComputeDigest(rec)
	require.NoError(t, err)

	data, err := rec.Delta.MarshalJSON()
	require.NoError(t, err)
	var back entity.Record
	require.NoError(t, back.UnmarshalJSON(data))

	rec.Delta = &back
	again, err := ComputeDigest(rec)
	require.NoError(t, err)
	assert.Equal(t, sum, again)
}

// interval declares its fields out of alphabetical order, so a decoded copy
// (a map) re-encodes with different key order.
type interval struct {
	Months       int32 `json:"months"`
	Days         int32 `json:"days"`
	Microseconds int64 `json:"microseconds"`
}

func TestDigest_VerifiesStoredBytes(t *testing.T) {
	tests := []struct {
		name  string
		value any
	}{
		{"struct value", interval{Months: 1, Days: 2, Microseconds: 3}},
		{"uint64 above int64", uint64(1<<63 + 5)},
		{"plain string", "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := sampleRecord()
			rec.Delta = entity.NewRecord().Set("f", tt.value)
			sum, err := ComputeDigest(rec)
			require.NoError(t, err)
			rec.Digest = sum

			stored, err := MarshalDelta(rec.Delta)
			require.NoError(t, err)

			var decoded entity.Record
			require.NoError(t, decoded.UnmarshalJSON(stored))
			read := rec.Clone()
			read.Delta = &decoded

			assert.NoError(t, VerifyEncoded(read, stored))

			tampered := append([]byte{}, stored...)
			tampered[len(tampered)-2] ^= 1
			assert.True(t, apperror.IsCode(VerifyEncoded(read, tampered), apperror.CodeTamperDetected))
		})
	}
}

func TestMarshalDelta_NilIsEmptyObject(t *testing.T) {
	data, err := MarshalDelta(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}
