package history

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"

	"chronolog/internal/core/apperror"
	"chronolog/internal/core/entity"
)

// DigestSize is the length in bytes of a record digest.
const DigestSize = blake2b.Size256

// MarshalDelta returns the bytes a digest covers. Stores must persist exactly
// these bytes: decoding and re-encoding a delta does not reproduce them for
// every value type (struct fields come back as sorted map keys, large
// unsigned integers as floats).
func MarshalDelta(delta *entity.Record) ([]byte, error) {
	if delta == nil {
		delta = entity.NewRecord()
	}
	data, err := json.Marshal(delta)
	if err != nil {
		return nil, fmt.Errorf("marshal delta: %w", err)
	}
	return data, nil
}

// ComputeDigest hashes the canonical fields of rec with BLAKE2b-256.
// Timestamps are taken at microsecond precision, matching what stores keep.
func ComputeDigest(rec *Record) ([]byte, error) {
	delta, err := MarshalDelta(rec.Delta)
	if err != nil {
		return nil, err
	}
	return digestOf(rec, delta)
}

func digestOf(rec *Record, delta []byte) ([]byte, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}

	var num [8]byte
	binary.BigEndian.PutUint64(num[:], uint64(rec.TransactionID))
	h.Write(num[:])
	writeString(h, rec.Table)
	h.Write(rec.EntityID[:])
	h.Write(rec.RevisionID[:])
	writeString(h, rec.Actor)
	binary.BigEndian.PutUint64(num[:], uint64(rec.Timestamp.UnixMicro()))
	h.Write(num[:])
	writeString(h, string(rec.Operation))
	writeString(h, string(delta))

	return h.Sum(nil), nil
}

// Verify recomputes the digest of a record whose delta still holds the values
// it was captured with (in-process stores).
func Verify(rec *Record) error {
	delta, err := MarshalDelta(rec.Delta)
	if err != nil {
		return apperror.NewInternal(err)
	}
	return VerifyEncoded(rec, delta)
}

// VerifyEncoded checks rec against the delta bytes exactly as they were
// stored, before any decoding. SQL stores verify this way.
func VerifyEncoded(rec *Record, delta []byte) error {
	sum, err := digestOf(rec, delta)
	if err != nil {
		return apperror.NewInternal(err)
	}
	if !bytes.Equal(sum, rec.Digest) {
		return apperror.NewTamperDetected(rec.Table, rec.EntityID.String(), rec.RevisionID.String())
	}
	return nil
}

// writeString writes a length-prefixed string so adjacent fields cannot collide.
func writeString(w io.Writer, s string) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(s)))
	w.Write(n[:])
	w.Write([]byte(s))
}
