package postgres

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"chronolog/internal/core/apperror"
	"chronolog/internal/core/entity"
	"chronolog/internal/core/id"
	"chronolog/internal/domain/history"
)

var _ history.RowStore = (*RowStore)(nil)

// RowStore provides CRUD over live rows of tracked tables. The tables belong
// to the host application; the identity column is expected to be UUID.
type RowStore struct {
	txm *TxManager
}

// NewRowStore creates a row store.
func NewRowStore(txm *TxManager) *RowStore {
	return &RowStore{txm: txm}
}

// Get reads the live row. Inside a transaction the row is locked until commit,
// which serializes concurrent mutations of the same entity.
func (s *RowStore) Get(ctx context.Context, t history.Table, entityID id.ID) (*entity.Record, error) {
	sql, args, err := getQuery(t, entityID, s.txm.GetTx(ctx) != nil).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.txm.GetQuerier(ctx).Query(ctx, sql, args...)
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

	values, err := rows.Values()
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", t.Name, err)
	}
	rec := entity.NewRecord()
	for i, fd := range rows.FieldDescriptions() {
		rec.Set(fd.Name, fromPg(values[i]))
	}
	return rec, nil
}

func getQuery(t history.Table, entityID id.ID, lock bool) squirrel.SelectBuilder {
	q := Builder().
		Select("*").
		From(quoteIdent(t.Name)).
		Where(squirrel.Eq{quoteIdent(t.IDField): entityID}).
		Limit(1)
	if lock {
		q = q.Suffix("FOR UPDATE")
	}
	return q
}

func (s *RowStore) Insert(ctx context.Context, t history.Table, row *entity.Record) error {
	q := Builder().Insert(quoteIdent(t.Name))
	cols := make([]string, 0, row.Len())
	vals := make([]any, 0, row.Len())
	for _, f := range row.Fields() {
		cols = append(cols, quoteIdent(f.Name))
		vals = append(vals, f.Value)
	}
	sql, args, err := q.Columns(cols...).Values(vals...).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := s.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		if code, _ := pgCode(err); code == sqlStateUniqueViolation {
			return apperror.NewValidation("row already exists").WithDetail("table", t.Name).WithCause(err)
		}
		return apperror.NewDatabase(err)
	}
	return nil
}

func (s *RowStore) Update(ctx context.Context, t history.Table, entityID id.ID, row *entity.Record) error {
	sql, args, err := updateQuery(t, entityID, row).ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := s.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return apperror.NewDatabase(err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound(t.Name, entityID.String())
	}
	return nil
}

func updateQuery(t history.Table, entityID id.ID, row *entity.Record) squirrel.UpdateBuilder {
	q := Builder().
		Update(quoteIdent(t.Name)).
		Where(squirrel.Eq{quoteIdent(t.IDField): entityID})
	for _, f := range row.Fields() {
		q = q.Set(quoteIdent(f.Name), f.Value)
	}
	return q
}

func (s *RowStore) Delete(ctx context.Context, t history.Table, entityID id.ID) error {
	sql, args, err := Builder().
		Delete(quoteIdent(t.Name)).
		Where(squirrel.Eq{quoteIdent(t.IDField): entityID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}

	tag, err := s.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return apperror.NewDatabase(err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound(t.Name, entityID.String())
	}
	return nil
}

// fromPg converts driver values to record values: UUIDs become identifiers
// and NUMERIC becomes decimal.
func fromPg(v any) any {
	switch x := v.(type) {
	case [16]byte:
		return id.ID(x)
	case pgtype.Numeric:
		if !x.Valid {
			return nil
		}
		dv, err := x.Value()
		if err != nil {
			return x
		}
		s, ok := dv.(string)
		if !ok {
			return x
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return s
		}
		return d
	default:
		return v
	}
}
