package history

import (
	"fmt"

	"chronolog/internal/core/apperror"
	"chronolog/internal/core/entity"
	"chronolog/internal/core/id"
)

// Reconstruct returns the state of an entity immediately after revision at.
//
// INSERT records carry no data, so the walk starts from the live row
// (current, nil when the row no longer exists) and undoes every newer record
// in descending revision order:
//   - UPDATE restores the pre-change values in its delta
//   - DELETE restores the full pre-delete row
//   - INSERT means the entity did not exist before it
//
// A delta maps a field that did not exist before the update to nil, the same
// as a field that held null, so such a field comes back as nil rather than
// absent.
//
// Returns (nil, nil) when the entity did not exist at that revision.
func Reconstruct(current *entity.Record, records []*Record, at id.ID) (*entity.Record, error) {
	sorted := make([]*Record, len(records))
	copy(sorted, records)
	SortByRevision(sorted)

	pos := -1
	for i, r := range sorted {
		if r.RevisionID == at {
			pos = i
			break
		}
	}
	if pos < 0 {
		return nil, apperror.NewNotFound("revision", at.String())
	}

	state := current.Clone()
	for i := len(sorted) - 1; i > pos; i-- {
		r := sorted[i]
		switch r.Operation {
		case OpInsert:
			state = nil
		case OpDelete:
			state = r.Delta.Clone()
		case OpUpdate:
			if state == nil {
				return nil, apperror.NewInternal(
					fmt.Errorf("update %s has no row to apply to", r.RevisionID))
			}
			for _, f := range r.Delta.Fields() {
				state.Set(f.Name, f.Value)
			}
		}
	}
	return state, nil
}
