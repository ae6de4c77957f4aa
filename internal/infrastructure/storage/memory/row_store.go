package memory

import (
	"context"
	"sync"

	"chronolog/internal/core/apperror"
	"chronolog/internal/core/entity"
	"chronolog/internal/core/id"
	"chronolog/internal/domain/history"
)

var _ history.RowStore = (*RowStore)(nil)

// RowStore keeps live rows of tracked tables in memory.
type RowStore struct {
	mu     sync.RWMutex
	tables map[string]map[id.ID]*entity.Record
}

// NewRowStore creates an empty row store.
func NewRowStore() *RowStore {
	return &RowStore{tables: make(map[string]map[id.ID]*entity.Record)}
}

func (s *RowStore) Get(ctx context.Context, t history.Table, entityID id.ID) (*entity.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.tables[t.Name][entityID]
	if !ok {
		return nil, apperror.NewNotFound(t.Name, entityID.String())
	}
	return row.Clone(), nil
}

func (s *RowStore) Insert(ctx context.Context, t history.Table, row *entity.Record) error {
	entityID, err := t.EntityID(row)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.tables[t.Name]
	if rows == nil {
		rows = make(map[id.ID]*entity.Record)
		s.tables[t.Name] = rows
	}
	if _, exists := rows[entityID]; exists {
		return apperror.NewValidation("row already exists").
			WithDetail("table", t.Name).
			WithDetail("id", entityID.String())
	}
	rows[entityID] = row.Clone()

	onRollback(ctx, func() { s.restore(t.Name, entityID, nil) })
	return nil
}

func (s *RowStore) Update(ctx context.Context, t history.Table, entityID id.ID, row *entity.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.tables[t.Name][entityID]
	if !ok {
		return apperror.NewNotFound(t.Name, entityID.String())
	}
	s.tables[t.Name][entityID] = row.Clone()

	onRollback(ctx, func() { s.restore(t.Name, entityID, prev) })
	return nil
}

func (s *RowStore) Delete(ctx context.Context, t history.Table, entityID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.tables[t.Name][entityID]
	if !ok {
		return apperror.NewNotFound(t.Name, entityID.String())
	}
	delete(s.tables[t.Name], entityID)

	onRollback(ctx, func() { s.restore(t.Name, entityID, prev) })
	return nil
}

// restore puts back prev, or removes the row when prev is nil.
func (s *RowStore) restore(table string, entityID id.ID, prev *entity.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev == nil {
		delete(s.tables[table], entityID)
		return
	}
	s.tables[table][entityID] = prev
}
