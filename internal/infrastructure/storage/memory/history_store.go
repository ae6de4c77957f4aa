package memory

import (
	"context"
	"sort"
	"sync"

	"chronolog/internal/core/apperror"
	"chronolog/internal/core/id"
	"chronolog/internal/core/tx"
	"chronolog/internal/domain/history"
)

var _ history.Store = (*HistoryStore)(nil)

type recordKey struct {
	table    string
	entity   id.ID
	revision id.ID
}

// HistoryStore keeps history records in memory.
type HistoryStore struct {
	mu         sync.RWMutex
	partitions map[string]history.Table
	byEntity   map[string]map[id.ID][]*history.Record
	byTx       map[tx.ID][]*history.Record
	keys       map[recordKey]struct{}
}

// NewHistoryStore creates an empty store.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{
		partitions: make(map[string]history.Table),
		byEntity:   make(map[string]map[id.ID][]*history.Record),
		byTx:       make(map[tx.ID][]*history.Record),
		keys:       make(map[recordKey]struct{}),
	}
}

// Provision creates the partition for t.
func (s *HistoryStore) Provision(ctx context.Context, t history.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.partitions[t.Name]; ok {
		return nil
	}
	s.partitions[t.Name] = t
	s.byEntity[t.Name] = make(map[id.ID][]*history.Record)
	return nil
}

// Partitions lists provisioned tables.
func (s *HistoryStore) Partitions(ctx context.Context) ([]history.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]history.Table, 0, len(s.partitions))
	for _, t := range s.partitions {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Append adds a record. The append is undone if the unit of work aborts.
func (s *HistoryStore) Append(ctx context.Context, rec *history.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entities, ok := s.byEntity[rec.Table]
	if !ok {
		return apperror.NewNotRegistered(rec.Table)
	}
	key := recordKey{table: rec.Table, entity: rec.EntityID, revision: rec.RevisionID}
	if _, dup := s.keys[key]; dup {
		return apperror.NewDuplicateRevision(rec.Table, rec.EntityID.String(), rec.RevisionID.String())
	}

	stored := rec.Clone()
	s.keys[key] = struct{}{}
	entities[rec.EntityID] = append(entities[rec.EntityID], stored)
	s.byTx[rec.TransactionID] = append(s.byTx[rec.TransactionID], stored)

	onRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.keys, key)
		s.byEntity[rec.Table][rec.EntityID] = without(s.byEntity[rec.Table][rec.EntityID], stored)
		s.byTx[rec.TransactionID] = without(s.byTx[rec.TransactionID], stored)
	})
	return nil
}

// QueryByEntity returns the entity's records ascending by revision.
func (s *HistoryStore) QueryByEntity(ctx context.Context, table string, entityID id.ID) ([]*history.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entities, ok := s.byEntity[table]
	if !ok {
		return nil, apperror.NewNotRegistered(table)
	}
	out, err := cloneVerified(entities[entityID])
	if err != nil {
		return nil, err
	}
	history.SortByRevision(out)
	return out, nil
}

// QueryByTransaction returns all records of one unit of work.
func (s *HistoryStore) QueryByTransaction(ctx context.Context, txID tx.ID) ([]*history.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out, err := cloneVerified(s.byTx[txID])
	if err != nil {
		return nil, err
	}
	history.SortForTransaction(out)
	return out, nil
}

func cloneVerified(records []*history.Record) ([]*history.Record, error) {
	out := make([]*history.Record, 0, len(records))
	for _, r := range records {
		if err := history.Verify(r); err != nil {
			return nil, err
		}
		out = append(out, r.Clone())
	}
	return out, nil
}

func without(list []*history.Record, target *history.Record) []*history.Record {
	out := list[:0]
	for _, r := range list {
		if r != target {
			out = append(out, r)
		}
	}
	return out
}
