package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"chronolog/internal/core/tx"
	"chronolog/pkg/logger"
)

var tracer = otel.Tracer("chronolog/postgres")

var _ tx.Manager = (*TxManager)(nil)

// TxManager runs units of work as READ COMMITTED transactions on the pool.
//
// A call made while a unit of work is already in ctx joins it: row writes and
// history appends share one transaction, and a failure anywhere inside rolls
// back the whole unit.
type TxManager struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewTxManager creates a transaction manager. A positive statementTimeout is
// applied to every statement of the unit of work.
func NewTxManager(pool *Pool, statementTimeout time.Duration) *TxManager {
	return &TxManager{pool: pool.Pool, timeout: statementTimeout}
}

// txKey is the context key for active transaction.
type txKey struct{}

// RunInTransaction executes fn within a transaction, joining the one in ctx
// if there is one.
func (m *TxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.GetTx(ctx) != nil {
		return fn(ctx)
	}

	ctx, span := tracer.Start(ctx, "transaction",
		trace.WithAttributes(attribute.String("tx.isolation", string(pgx.ReadCommitted))))
	defer span.End()

	pgTx, err := m.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if m.timeout > 0 {
		if _, err := pgTx.Exec(ctx, statementTimeoutSQL(m.timeout)); err != nil {
			m.rollback(ctx, pgTx, err)
			return fmt.Errorf("set statement_timeout: %w", err)
		}
	}

	if err := fn(context.WithValue(ctx, txKey{}, pgTx)); err != nil {
		m.rollback(ctx, pgTx, err)
		return err
	}

	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// rollback runs on a fresh context so a cancelled caller still releases the connection.
func (m *TxManager) rollback(ctx context.Context, pgTx pgx.Tx, cause error) {
	if err := pgTx.Rollback(context.Background()); err != nil {
		logger.Error(ctx, "rollback failed", "error", err, "original_error", cause)
	}
}

func statementTimeoutSQL(d time.Duration) string {
	return fmt.Sprintf("SET LOCAL statement_timeout = %d", d.Milliseconds())
}

// GetTx returns the current transaction from context, or nil if none.
func (m *TxManager) GetTx(ctx context.Context) pgx.Tx {
	if t, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return t
	}
	return nil
}

// Querier is satisfied by both the pool and a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// GetQuerier returns the transaction in ctx, or the pool.
func (m *TxManager) GetQuerier(ctx context.Context) Querier {
	if t := m.GetTx(ctx); t != nil {
		return t
	}
	return m.pool
}
