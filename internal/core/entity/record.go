// Package entity provides the row representation shared by tracked tables and
// history records: an ordered mapping of field name to typed value.
package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Field is a single named value inside a Record.
type Field struct {
	Name  string
	Value any
}

// Record is an ordered mapping of field name to value.
// Field order is insertion order; overwriting a field keeps its position.
//
// Values are normalized on Set: signed and unsigned integers become int64,
// float32 becomes float64, time.Time is converted to UTC, and non-nil pointers
// are dereferenced. A nil Record behaves as an empty one for reads.
type Record struct {
	names  []string
	values map[string]any
}

// NewRecord creates a record from fields in order.
func NewRecord(fields ...Field) *Record {
	r := &Record{values: make(map[string]any, len(fields))}
	for _, f := range fields {
		r.Set(f.Name, f.Value)
	}
	return r
}

// FromMap builds a record from a map. Field order is unspecified.
func FromMap(m map[string]any) *Record {
	r := &Record{values: make(map[string]any, len(m))}
	for k, v := range m {
		r.Set(k, v)
	}
	return r
}

// Set stores a value and returns the record for chaining.
func (r *Record) Set(name string, value any) *Record {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, exists := r.values[name]; !exists {
		r.names = append(r.names, name)
	}
	r.values[name] = Normalize(value)
	return r
}

// Get returns the value of a field and whether it is present.
func (r *Record) Get(name string) (any, bool) {
	if r == nil {
		return nil, false
	}
	v, ok := r.values[name]
	return v, ok
}

// Has reports whether the field is present (even if its value is nil).
func (r *Record) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Delete removes a field.
func (r *Record) Delete(name string) {
	if r == nil {
		return
	}
	if _, ok := r.values[name]; !ok {
		return
	}
	delete(r.values, name)
	for i, n := range r.names {
		if n == name {
			r.names = append(r.names[:i], r.names[i+1:]...)
			break
		}
	}
}

// Len returns the number of fields.
func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.names)
}

// Names returns field names in order.
func (r *Record) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Fields returns all fields in order.
func (r *Record) Fields() []Field {
	if r == nil {
		return nil
	}
	out := make([]Field, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, Field{Name: n, Value: r.values[n]})
	}
	return out
}

// Map returns an unordered copy of the record.
func (r *Record) Map() map[string]any {
	out := make(map[string]any, r.Len())
	if r == nil {
		return out
	}
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// Clone returns a shallow copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	return NewRecord(r.Fields()...)
}

// MarshalJSON encodes the record as a JSON object preserving field order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.Fields() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal field %s: %w", f.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object preserving key order.
// Numbers decode to int64 when integral, float64 otherwise.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("record must be a JSON object")
	}

	r.names = nil
	r.values = make(map[string]any)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected key token %v", tok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("decode field %s: %w", name, err)
		}
		r.Set(name, value)
	}
	_, err = dec.Token()
	return err
}

// Normalize converts a value to the canonical representation stored in records.
func Normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		if x <= 1<<63-1 {
			return int64(x)
		}
		return x
	case float32:
		return float64(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case []byte:
		if x == nil {
			return nil
		}
		return x
	case time.Time:
		return x.UTC()
	case *string:
		return derefOrNil(x)
	case *int64:
		return derefOrNil(x)
	case *int:
		return derefOrNil(x)
	case *bool:
		return derefOrNil(x)
	case *float64:
		return derefOrNil(x)
	case *time.Time:
		return derefOrNil(x)
	case *decimal.Decimal:
		return derefOrNil(x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = Normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = Normalize(item)
		}
		return out
	default:
		return v
	}
}

func derefOrNil[T any](p *T) any {
	if p == nil {
		return nil
	}
	return Normalize(*p)
}
