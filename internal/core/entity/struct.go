package entity

import (
	"reflect"
	"sync"
)

// Columns extracts all column names from struct "db" tags in declaration order.
// Embedded structs are flattened in place.
//
// Usage:
//
//	cols := entity.Columns[Person]()
//	// Returns: ["person_id", "first_name", "last_name"]
func Columns[T any]() []string {
	var zero T
	meta := metadataFor(reflect.TypeOf(zero))
	cols := make([]string, 0, len(meta.fields))
	for _, f := range meta.fields {
		cols = append(cols, f.dbTag)
	}
	return cols
}

// fieldInfo contains pre-computed metadata about a struct field.
type fieldInfo struct {
	index []int  // Field index path (embedded structs resolved)
	dbTag string // Database column name
}

// typeMetadata contains cached reflection metadata for a type.
type typeMetadata struct {
	fields []fieldInfo
}

// typeCache holds metadata per reflect.Type, computed once per type.
var typeCache sync.Map // map[reflect.Type]*typeMetadata

func metadataFor(t reflect.Type) *typeMetadata {
	if t == nil {
		return &typeMetadata{}
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if cached, ok := typeCache.Load(t); ok {
		return cached.(*typeMetadata)
	}

	meta := &typeMetadata{}
	if t.Kind() == reflect.Struct {
		collectFields(t, nil, meta)
	}
	typeCache.Store(t, meta)
	return meta
}

func collectFields(t reflect.Type, prefix []int, meta *typeMetadata) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		path := append(append([]int{}, prefix...), i)

		if field.Anonymous {
			ft := field.Type
			if ft.Kind() == reflect.Ptr {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				collectFields(ft, path, meta)
			}
			continue
		}

		tag := field.Tag.Get("db")
		if tag == "" || tag == "-" {
			continue
		}
		meta.fields = append(meta.fields, fieldInfo{index: path, dbTag: tag})
	}
}

// FromStruct converts a struct (or pointer to struct) to a Record using "db" tags.
// Fields without a tag or tagged "-" are skipped. Returns nil for non-structs
// and nil pointers.
func FromStruct(v any) *Record {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}

	meta := metadataFor(rv.Type())
	rec := &Record{values: make(map[string]any, len(meta.fields))}
	for _, fi := range meta.fields {
		fv, ok := fieldByIndex(rv, fi.index)
		if !ok {
			rec.Set(fi.dbTag, nil)
			continue
		}
		rec.Set(fi.dbTag, fv.Interface())
	}
	return rec
}

// fieldByIndex walks an index path, stopping at nil embedded pointers.
func fieldByIndex(v reflect.Value, index []int) (reflect.Value, bool) {
	for i, x := range index {
		if i > 0 && v.Kind() == reflect.Ptr {
			if v.IsNil() {
				return reflect.Value{}, false
			}
			v = v.Elem()
		}
		v = v.Field(x)
	}
	return v, true
}
