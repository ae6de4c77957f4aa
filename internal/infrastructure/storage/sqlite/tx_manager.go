package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"chronolog/internal/core/apperror"
	"chronolog/internal/core/tx"
	"chronolog/pkg/logger"
)

var tracer = otel.Tracer("chronolog/sqlite")

var (
	_ tx.Manager    = (*TxManager)(nil)
	_ tx.Correlator = (*TxManager)(nil)
)

// TxManager manages SQLite transactions. SQLite has no transaction
// identifier of its own, so one is minted at BEGIN and kept for the
// full duration of the unit of work.
type TxManager struct {
	db *DB
}

// NewTxManager creates a new transaction manager.
func NewTxManager(db *DB) *TxManager {
	return &TxManager{db: db}
}

// txKey is the context key for active transaction.
type txKey struct{}

// Tx wraps sql.Tx with its unit-of-work id.
type Tx struct {
	*sql.Tx
	ID tx.ID
}

// RunInTransaction executes fn within a transaction.
// If a transaction already exists in ctx, it is reused.
func (m *TxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.GetTx(ctx) != nil {
		return fn(ctx)
	}

	txID, err := tx.NewLocalID()
	if err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "transaction",
		trace.WithAttributes(attribute.Int64("tx.id", int64(txID))))
	defer span.End()

	sqlTx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txCtx := context.WithValue(ctx, txKey{}, &Tx{Tx: sqlTx, ID: txID})
	if err := fn(txCtx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			logger.Error(ctx, "rollback failed", "error", rbErr, "original_error", err)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// TransactionID returns the id minted when the transaction began.
func (m *TxManager) TransactionID(ctx context.Context) (tx.ID, error) {
	t := m.GetTx(ctx)
	if t == nil {
		return 0, apperror.NewNoTransaction()
	}
	return t.ID, nil
}

// GetTx returns the current transaction from context, or nil if none.
func (m *TxManager) GetTx(ctx context.Context) *Tx {
	if t, ok := ctx.Value(txKey{}).(*Tx); ok {
		return t
	}
	return nil
}

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// GetQuerier returns the transaction in ctx, or the database handle.
func (m *TxManager) GetQuerier(ctx context.Context) Querier {
	if t := m.GetTx(ctx); t != nil {
		return t.Tx
	}
	return m.db.DB
}
