// Package memory provides an in-process host for tracked tables: a unit of
// work with a rollback journal, a history store and a row store. Units of
// work are serialized, which gives every one of them a consistent view.
package memory

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"chronolog/internal/core/apperror"
	"chronolog/internal/core/tx"
	"chronolog/pkg/logger"
)

var tracer = otel.Tracer("chronolog/memory")

var (
	_ tx.Manager    = (*TxManager)(nil)
	_ tx.Correlator = (*TxManager)(nil)
)

// TxManager runs units of work one at a time.
type TxManager struct {
	mu sync.Mutex
}

// NewTxManager creates a transaction manager.
func NewTxManager() *TxManager {
	return &TxManager{}
}

// unit is the active unit of work.
type unit struct {
	id   tx.ID
	undo []func()
}

type unitKey struct{}

// RunInTransaction executes fn within a unit of work. If fn fails, every
// journaled write is undone in reverse order. Nested calls reuse the unit.
func (m *TxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if getUnit(ctx) != nil {
		return fn(ctx)
	}

	txID, err := tx.NewLocalID()
	if err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "transaction",
		trace.WithAttributes(attribute.Int64("tx.id", int64(txID))))
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	u := &unit{id: txID}
	if err := fn(context.WithValue(ctx, unitKey{}, u)); err != nil {
		for i := len(u.undo) - 1; i >= 0; i-- {
			u.undo[i]()
		}
		logger.Debug(ctx, "unit of work rolled back", "transaction_id", txID, "writes", len(u.undo))
		return err
	}
	return nil
}

// TransactionID returns the id minted when the unit of work began.
func (m *TxManager) TransactionID(ctx context.Context) (tx.ID, error) {
	u := getUnit(ctx)
	if u == nil {
		return 0, apperror.NewNoTransaction()
	}
	return u.id, nil
}

func getUnit(ctx context.Context) *unit {
	u, _ := ctx.Value(unitKey{}).(*unit)
	return u
}

// onRollback journals an undo step for the unit of work in ctx.
// Writes made outside a unit of work are applied immediately and permanently.
func onRollback(ctx context.Context, undo func()) {
	if u := getUnit(ctx); u != nil {
		u.undo = append(u.undo, undo)
	}
}
