package history

import "chronolog/internal/core/entity"

// Diff computes the minimal mapping needed to reverse one mutation step.
//
//   - old == nil, new != nil (insert): empty
//   - both present (update): fields whose value changed, mapped to the old value
//   - old != nil, new == nil (delete): the full old row
//
// A field present on one side only counts as null on the other, so it is
// reported whenever the present value is non-null. The result is never nil.
func Diff(old, new *entity.Record) *entity.Record {
	delta := entity.NewRecord()

	switch {
	case old == nil:
		return delta
	case new == nil:
		return old.Clone()
	}

	for _, f := range old.Fields() {
		nv, _ := new.Get(f.Name)
		if !entity.Equal(f.Value, nv) {
			delta.Set(f.Name, f.Value)
		}
	}
	for _, f := range new.Fields() {
		if old.Has(f.Name) {
			continue
		}
		if f.Value != nil {
			delta.Set(f.Name, nil)
		}
	}
	return delta
}
