package postgres

import (
	"context"
	"fmt"

	"chronolog/internal/core/apperror"
	"chronolog/internal/core/tx"
)

var _ tx.Correlator = (*Correlator)(nil)

// Correlation queries per strategy. xid8 has no direct cast to bigint.
const (
	currentXactSQL  = "SELECT pg_current_xact_id()::text::bigint"
	snapshotXminSQL = "SELECT COALESCE(pg_current_xact_id_if_assigned(), pg_snapshot_xmin(pg_current_snapshot()))::text::bigint"
)

// Correlator resolves the transaction id of the unit of work in ctx.
type Correlator struct {
	txm      *TxManager
	strategy tx.Strategy
}

// NewCorrelator creates a correlator for the given strategy.
func NewCorrelator(txm *TxManager, strategy tx.Strategy) *Correlator {
	return &Correlator{txm: txm, strategy: strategy}
}

// TransactionID returns the transaction id under the configured strategy.
//
// StrategyCurrent forces xid assignment, so the id is stable for the whole
// transaction. StrategySnapshotXmin avoids forcing assignment; before the
// first write it reports the oldest transaction still active in the snapshot,
// which concurrent transactions may share.
func (c *Correlator) TransactionID(ctx context.Context) (tx.ID, error) {
	t := c.txm.GetTx(ctx)
	if t == nil {
		return 0, apperror.NewNoTransaction()
	}

	var v int64
	if err := t.QueryRow(ctx, c.Query()).Scan(&v); err != nil {
		return 0, apperror.NewDatabase(fmt.Errorf("resolve transaction id: %w", err))
	}
	return tx.ID(v), nil
}

// Query returns the SQL the correlator runs.
func (c *Correlator) Query() string {
	if c.strategy == tx.StrategySnapshotXmin {
		return snapshotXminSQL
	}
	return currentXactSQL
}
