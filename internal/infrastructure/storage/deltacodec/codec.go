// Package deltacodec serializes history deltas for SQL stores. Deltas are
// stored as JSON; payloads above a size threshold are zstd-compressed and the
// algorithm is recorded next to the bytes.
package deltacodec

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"chronolog/internal/core/entity"
)

// Algo specifies the compression algorithm used.
type Algo string

const (
	AlgoNone Algo = "none"
	AlgoZstd Algo = "zstd"
)

// DefaultThreshold is the JSON size above which deltas are compressed.
const DefaultThreshold = 10 * 1024

// Codec encodes and decodes deltas. Safe for concurrent use.
type Codec struct {
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	threshold int
}

// New creates a codec. threshold <= 0 selects DefaultThreshold.
func New(threshold int) (*Codec, error) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &Codec{encoder: encoder, decoder: decoder, threshold: threshold}, nil
}

// Threshold returns the compression threshold in bytes.
func (c *Codec) Threshold() int {
	return c.threshold
}

// Encode returns the stored form of delta and the algorithm applied.
func (c *Codec) Encode(delta *entity.Record) ([]byte, Algo, error) {
	if delta == nil {
		delta = entity.NewRecord()
	}
	data, err := json.Marshal(delta)
	if err != nil {
		return nil, "", fmt.Errorf("marshal delta: %w", err)
	}
	stored, algo := c.Compress(data)
	return stored, algo, nil
}

// Compress returns the stored form of already-encoded delta JSON.
func (c *Codec) Compress(data []byte) ([]byte, Algo) {
	if len(data) > c.threshold {
		return c.encoder.EncodeAll(data, nil), AlgoZstd
	}
	return data, AlgoNone
}

// Decompress returns the delta JSON exactly as it was passed to Compress.
func (c *Codec) Decompress(data []byte, algo Algo) ([]byte, error) {
	switch algo {
	case AlgoNone, "":
		return data, nil
	case AlgoZstd:
		decompressed, err := c.decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress delta: %w", err)
		}
		return decompressed, nil
	default:
		return nil, fmt.Errorf("unknown compression algo %q", algo)
	}
}

// Decode reverses Encode.
func (c *Codec) Decode(data []byte, algo Algo) (*entity.Record, error) {
	raw, err := c.Decompress(data, algo)
	if err != nil {
		return nil, err
	}
	return Unmarshal(raw)
}

// Unmarshal parses delta JSON. Empty input is an empty delta.
func Unmarshal(raw []byte) (*entity.Record, error) {
	delta := entity.NewRecord()
	if len(raw) == 0 {
		return delta, nil
	}
	if err := json.Unmarshal(raw, delta); err != nil {
		return nil, fmt.Errorf("unmarshal delta: %w", err)
	}
	return delta, nil
}
