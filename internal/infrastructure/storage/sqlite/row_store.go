package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/squirrel"

	"chronolog/internal/core/apperror"
	"chronolog/internal/core/entity"
	"chronolog/internal/core/id"
	"chronolog/internal/domain/history"
)

var _ history.RowStore = (*RowStore)(nil)

// RowStore reads and writes live rows of tracked tables. The tables belong to
// the host application; the identity column holds canonical identifier text.
type RowStore struct {
	txm *TxManager
}

// NewRowStore creates a row store.
func NewRowStore(txm *TxManager) *RowStore {
	return &RowStore{txm: txm}
}

func (s *RowStore) Get(ctx context.Context, t history.Table, entityID id.ID) (*entity.Record, error) {
	query, args, err := squirrel.Select("*").
		From(quote(t.Name)).
		Where(squirrel.Eq{quote(t.IDField): entityID.String()}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.txm.GetQuerier(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", t.Name, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("get %s: %w", t.Name, err)
		}
		return nil, apperror.NewNotFound(t.Name, entityID.String())
	}
	return scanRecord(rows)
}

func (s *RowStore) Insert(ctx context.Context, t history.Table, row *entity.Record) error {
	cols, vals := columnsAndValues(row)
	query, args, err := squirrel.Insert(quote(t.Name)).
		Columns(cols...).
		Values(vals...).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := s.txm.GetQuerier(ctx).ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return apperror.NewValidation("row already exists").WithDetail("table", t.Name).WithCause(err)
		}
		return apperror.NewDatabase(err)
	}
	return nil
}

func (s *RowStore) Update(ctx context.Context, t history.Table, entityID id.ID, row *entity.Record) error {
	q := squirrel.Update(quote(t.Name)).
		Where(squirrel.Eq{quote(t.IDField): entityID.String()})
	for _, f := range row.Fields() {
		q = q.Set(quote(f.Name), sqlValue(f.Value))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	res, err := s.txm.GetQuerier(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return apperror.NewDatabase(err)
	}
	return requireAffected(res, t, entityID)
}

func (s *RowStore) Delete(ctx context.Context, t history.Table, entityID id.ID) error {
	query, args, err := squirrel.Delete(quote(t.Name)).
		Where(squirrel.Eq{quote(t.IDField): entityID.String()}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}

	res, err := s.txm.GetQuerier(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return apperror.NewDatabase(err)
	}
	return requireAffected(res, t, entityID)
}

func requireAffected(res sql.Result, t history.Table, entityID id.ID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperror.NewDatabase(err)
	}
	if n == 0 {
		return apperror.NewNotFound(t.Name, entityID.String())
	}
	return nil
}

func columnsAndValues(row *entity.Record) ([]string, []any) {
	fields := row.Fields()
	cols := make([]string, 0, len(fields))
	vals := make([]any, 0, len(fields))
	for _, f := range fields {
		cols = append(cols, quote(f.Name))
		vals = append(vals, sqlValue(f.Value))
	}
	return cols, vals
}

// sqlValue stores identifiers as canonical text.
func sqlValue(v any) any {
	if x, ok := v.(id.ID); ok {
		return x.String()
	}
	return v
}

// scanRecord reads the current row in column order.
func scanRecord(rows *sql.Rows) (*entity.Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}

	rec := entity.NewRecord()
	for i, c := range cols {
		rec.Set(c, values[i])
	}
	return rec, nil
}
