package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/google/uuid"

	"chronolog/internal/core/apperror"
	"chronolog/internal/core/entity"
	"chronolog/internal/core/id"
	"chronolog/internal/core/tx"
	"chronolog/internal/domain/history"
	"chronolog/internal/infrastructure/storage/deltacodec"
)

var _ history.Store = (*HistoryStore)(nil)

// historyRow is the stored shape of a history record.
type historyRow struct {
	TransactionID int64  `db:"transaction_id"`
	TableName     string `db:"table_name"`
	EntityID      []byte `db:"entity_id"`
	RevisionID    []byte `db:"revision_id"`
	Actor         string `db:"actor"`
	Timestamp     int64  `db:"ts"` // unix microseconds
	Operation     string `db:"operation"`
	Delta         []byte `db:"delta"`
	DeltaAlgo     string `db:"delta_algo"`
	Digest        []byte `db:"digest"`
}

var historyColumns = entity.Columns[historyRow]()

// HistoryStore keeps history partitions in SQLite.
type HistoryStore struct {
	txm   *TxManager
	codec *deltacodec.Codec
}

// NewHistoryStore creates a history store. Writes join the transaction in ctx.
func NewHistoryStore(txm *TxManager, codec *deltacodec.Codec) *HistoryStore {
	return &HistoryStore{txm: txm, codec: codec}
}

// Provision creates the partition table, its indexes and guard triggers, and
// records it in the catalog.
func (s *HistoryStore) Provision(ctx context.Context, t history.Table) error {
	return s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		q := s.txm.GetQuerier(ctx)

		var existing string
		err := q.QueryRowContext(ctx,
			"SELECT id_field FROM history_partitions WHERE table_name = ?", t.Name).Scan(&existing)
		switch {
		case err == nil && existing != t.IDField:
			return apperror.NewValidation("table already registered with a different identity field").
				WithDetail("table", t.Name).
				WithDetail("id_field", existing)
		case err != nil && !sqlscan.NotFound(err):
			return fmt.Errorf("read partition catalog: %w", err)
		}

		for _, stmt := range PartitionDDL(t) {
			if _, err := q.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("provision %s: %w", t.Partition, err)
			}
		}

		sql, args, err := squirrel.Insert("history_partitions").
			Columns("table_name", "id_field", "partition_name", "created_at").
			Values(t.Name, t.IDField, t.Partition, time.Now().UnixMicro()).
			Suffix("ON CONFLICT (table_name) DO NOTHING").
			ToSql()
		if err != nil {
			return fmt.Errorf("build insert: %w", err)
		}
		if _, err := q.ExecContext(ctx, sql, args...); err != nil {
			return fmt.Errorf("register partition %s: %w", t.Partition, err)
		}
		return nil
	})
}

// PartitionDDL renders the statements that create one history partition.
func PartitionDDL(t history.Table) []string {
	p := quote(t.Partition)
	trigger := func(op string) string {
		return fmt.Sprintf(
			"CREATE TRIGGER IF NOT EXISTS %s BEFORE %s ON %s\nBEGIN\n\tSELECT RAISE(ABORT, '%s%s:%s');\nEND",
			quote(t.Partition+"_no_"+strings.ToLower(op)), op, p, guardMarker, op, t.Partition)
	}

	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	transaction_id INTEGER NOT NULL,
	table_name TEXT NOT NULL CHECK (table_name = '%s'),
	entity_id BLOB NOT NULL,
	revision_id BLOB NOT NULL,
	actor TEXT NOT NULL CHECK (actor <> ''),
	ts INTEGER NOT NULL,
	operation TEXT NOT NULL CHECK (operation IN ('INSERT', 'UPDATE', 'DELETE')),
	delta BLOB NOT NULL,
	delta_algo TEXT NOT NULL,
	digest BLOB NOT NULL,
	PRIMARY KEY (table_name, entity_id, revision_id)
) WITHOUT ROWID`, p, t.Name),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (entity_id, revision_id)", quote(t.Partition+"_entity_idx"), p),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (transaction_id, entity_id, revision_id)", quote(t.Partition+"_tx_idx"), p),
		trigger(history.GuardUpdate),
		trigger(history.GuardDelete),
	}
}

// Partitions lists the catalog.
func (s *HistoryStore) Partitions(ctx context.Context) ([]history.Table, error) {
	var rows []struct {
		TableName     string `db:"table_name"`
		IDField       string `db:"id_field"`
		PartitionName string `db:"partition_name"`
	}
	err := sqlscan.Select(ctx, s.txm.GetQuerier(ctx), &rows,
		"SELECT table_name, id_field, partition_name FROM history_partitions ORDER BY table_name")
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}

	out := make([]history.Table, 0, len(rows))
	for _, r := range rows {
		out = append(out, history.Table{Name: r.TableName, IDField: r.IDField, Partition: r.PartitionName})
	}
	return out, nil
}

// Append inserts a record into its table's partition.
func (s *HistoryStore) Append(ctx context.Context, rec *history.Record) error {
	raw, err := history.MarshalDelta(rec.Delta)
	if err != nil {
		return apperror.NewInternal(err)
	}
	delta, algo := s.codec.Compress(raw)

	sql, args, err := squirrel.Insert(quote(history.PartitionName(rec.Table))).
		Columns(historyColumns...).
		Values(
			int64(rec.TransactionID),
			rec.Table,
			rec.EntityID[:],
			rec.RevisionID[:],
			rec.Actor,
			rec.Timestamp.UnixMicro(),
			string(rec.Operation),
			delta,
			string(algo),
			rec.Digest,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := s.txm.GetQuerier(ctx).ExecContext(ctx, sql, args...); err != nil {
		switch {
		case isUniqueViolation(err):
			return apperror.NewDuplicateRevision(rec.Table, rec.EntityID.String(), rec.RevisionID.String()).WithCause(err)
		case isMissingTable(err):
			return apperror.NewNotRegistered(rec.Table)
		}
		return apperror.NewDatabase(GuardError(err))
	}
	return nil
}

// QueryByEntity returns the entity's records ascending by revision.
func (s *HistoryStore) QueryByEntity(ctx context.Context, table string, entityID id.ID) ([]*history.Record, error) {
	if err := s.requirePartition(ctx, table); err != nil {
		return nil, err
	}

	sql, args, err := squirrel.Select(historyColumns...).
		From(quote(history.PartitionName(table))).
		Where(squirrel.Eq{"entity_id": entityID[:]}).
		OrderBy("revision_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return s.selectRecords(ctx, sql, args)
}

// QueryByTransaction searches every partition for records of one unit of work.
func (s *HistoryStore) QueryByTransaction(ctx context.Context, txID tx.ID) ([]*history.Record, error) {
	partitions, err := s.Partitions(ctx)
	if err != nil {
		return nil, err
	}
	if len(partitions) == 0 {
		return []*history.Record{}, nil
	}

	parts := make([]string, 0, len(partitions))
	var args []any
	for _, p := range partitions {
		sql, a, err := squirrel.Select(historyColumns...).
			From(quote(p.Partition)).
			Where(squirrel.Eq{"transaction_id": int64(txID)}).
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("build query: %w", err)
		}
		parts = append(parts, sql)
		args = append(args, a...)
	}

	sql := strings.Join(parts, " UNION ALL ") + " ORDER BY entity_id, revision_id"
	return s.selectRecords(ctx, sql, args)
}

func (s *HistoryStore) requirePartition(ctx context.Context, table string) error {
	var n int
	err := s.txm.GetQuerier(ctx).QueryRowContext(ctx,
		"SELECT COUNT(*) FROM history_partitions WHERE table_name = ?", table).Scan(&n)
	if err != nil {
		return fmt.Errorf("read partition catalog: %w", err)
	}
	if n == 0 {
		return apperror.NewNotRegistered(table)
	}
	return nil
}

func (s *HistoryStore) selectRecords(ctx context.Context, sql string, args []any) ([]*history.Record, error) {
	var rows []historyRow
	if err := sqlscan.Select(ctx, s.txm.GetQuerier(ctx), &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	out := make([]*history.Record, 0, len(rows))
	for _, r := range rows {
		rec, raw, err := r.toRecord(s.codec)
		if err != nil {
			return nil, err
		}
		if err := history.VerifyEncoded(rec, raw); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// toRecord also returns the decompressed delta bytes the digest covers.
func (r historyRow) toRecord(codec *deltacodec.Codec) (*history.Record, []byte, error) {
	entityID, err := uuid.FromBytes(r.EntityID)
	if err != nil {
		return nil, nil, fmt.Errorf("decode entity_id: %w", err)
	}
	revisionID, err := uuid.FromBytes(r.RevisionID)
	if err != nil {
		return nil, nil, fmt.Errorf("decode revision_id: %w", err)
	}
	op, err := history.ParseOperation(r.Operation)
	if err != nil {
		return nil, nil, err
	}
	raw, err := codec.Decompress(r.Delta, deltacodec.Algo(r.DeltaAlgo))
	if err != nil {
		return nil, nil, err
	}
	delta, err := deltacodec.Unmarshal(raw)
	if err != nil {
		return nil, nil, err
	}

	return &history.Record{
		TransactionID: tx.ID(r.TransactionID),
		Table:         r.TableName,
		EntityID:      entityID,
		RevisionID:    revisionID,
		Actor:         r.Actor,
		Timestamp:     time.UnixMicro(r.Timestamp).UTC(),
		Operation:     op,
		Delta:         delta,
		Digest:        r.Digest,
	}, raw, nil
}
