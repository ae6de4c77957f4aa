package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"chronolog/internal/core/apperror"
	"chronolog/internal/core/entity"
	"chronolog/internal/core/id"
	"chronolog/internal/core/tx"
	"chronolog/internal/domain/history"
	"chronolog/internal/infrastructure/storage/deltacodec"
)

var _ history.Store = (*HistoryStore)(nil)

// historyTable is the partitioned parent.
const historyTable = "audit_history"

// historyRow is the stored shape of a history record.
type historyRow struct {
	TransactionID int64     `db:"transaction_id"`
	TableName     string    `db:"table_name"`
	EntityID      id.ID     `db:"entity_id"`
	RevisionID    id.ID     `db:"revision_id"`
	Actor         string    `db:"actor"`
	Timestamp     time.Time `db:"ts"`
	Operation     string    `db:"operation"`
	Delta         []byte    `db:"delta"`
	DeltaAlgo     string    `db:"delta_algo"`
	Digest        []byte    `db:"digest"`
}

var historyColumns = entity.Columns[historyRow]()

type partitionRow struct {
	TableName     string `db:"table_name"`
	IDField       string `db:"id_field"`
	PartitionName string `db:"partition_name"`
}

// HistoryStore keeps history in the audit_history partitions.
type HistoryStore struct {
	txm   *TxManager
	codec *deltacodec.Codec
}

// NewHistoryStore creates a history store. Writes join the transaction in ctx.
func NewHistoryStore(txm *TxManager, codec *deltacodec.Codec) *HistoryStore {
	return &HistoryStore{txm: txm, codec: codec}
}

// Builder returns a new squirrel builder with PostgreSQL placeholder format.
func Builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// Provision attaches the partition for t, installs its guard triggers and
// records it in the catalog.
func (s *HistoryStore) Provision(ctx context.Context, t history.Table) error {
	return s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		q := s.txm.GetQuerier(ctx)

		// Serialize concurrent registrations of the same table.
		if _, err := q.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", t.Name); err != nil {
			return fmt.Errorf("lock partition catalog: %w", err)
		}

		var existing []partitionRow
		if err := pgxscan.Select(ctx, q, &existing,
			"SELECT table_name, id_field, partition_name FROM history_partitions WHERE table_name = $1", t.Name); err != nil {
			return fmt.Errorf("read partition catalog: %w", err)
		}
		if len(existing) > 0 && existing[0].IDField != t.IDField {
			return apperror.NewValidation("table already registered with a different identity field").
				WithDetail("table", t.Name).
				WithDetail("id_field", existing[0].IDField)
		}

		for _, stmt := range PartitionDDL(t) {
			if _, err := q.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("provision %s: %w", t.Partition, err)
			}
		}

		sql, args, err := Builder().
			Insert("history_partitions").
			Columns("table_name", "id_field", "partition_name").
			Values(t.Name, t.IDField, t.Partition).
			Suffix("ON CONFLICT (table_name) DO NOTHING").
			ToSql()
		if err != nil {
			return fmt.Errorf("build insert: %w", err)
		}
		if _, err := q.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("register partition %s: %w", t.Partition, err)
		}
		return nil
	})
}

// Partitions lists the catalog.
func (s *HistoryStore) Partitions(ctx context.Context) ([]history.Table, error) {
	var rows []partitionRow
	if err := pgxscan.Select(ctx, s.txm.GetQuerier(ctx), &rows,
		"SELECT table_name, id_field, partition_name FROM history_partitions ORDER BY table_name"); err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}

	out := make([]history.Table, 0, len(rows))
	for _, r := range rows {
		out = append(out, history.Table{Name: r.TableName, IDField: r.IDField, Partition: r.PartitionName})
	}
	return out, nil
}

// Append inserts a record through the parent table, which routes it to the
// table's partition.
func (s *HistoryStore) Append(ctx context.Context, rec *history.Record) error {
	sql, args, err := s.appendQuery(rec)
	if err != nil {
		return err
	}

	if _, err := s.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		switch code, _ := pgCode(err); code {
		case sqlStateUniqueViolation:
			return apperror.NewDuplicateRevision(rec.Table, rec.EntityID.String(), rec.RevisionID.String()).WithCause(err)
		case sqlStateCheckViolation:
			return apperror.NewNotRegistered(rec.Table).WithCause(err)
		}
		return apperror.NewDatabase(GuardError(err))
	}
	return nil
}

func (s *HistoryStore) appendQuery(rec *history.Record) (string, []any, error) {
	raw, err := history.MarshalDelta(rec.Delta)
	if err != nil {
		return "", nil, apperror.NewInternal(err)
	}
	delta, algo := s.codec.Compress(raw)

	sql, args, err := Builder().
		Insert(historyTable).
		Columns(historyColumns...).
		Values(
			int64(rec.TransactionID),
			rec.Table,
			rec.EntityID,
			rec.RevisionID,
			rec.Actor,
			rec.Timestamp,
			string(rec.Operation),
			delta,
			string(algo),
			rec.Digest,
		).
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build insert: %w", err)
	}
	return sql, args, nil
}

// QueryByEntity reads the table's partition ascending by revision.
func (s *HistoryStore) QueryByEntity(ctx context.Context, table string, entityID id.ID) ([]*history.Record, error) {
	if err := s.requirePartition(ctx, table); err != nil {
		return nil, err
	}

	sql, args, err := entityQuery(table, entityID).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return s.selectRecords(ctx, sql, args)
}

func entityQuery(table string, entityID id.ID) squirrel.SelectBuilder {
	return Builder().
		Select(historyColumns...).
		From(quoteIdent(history.PartitionName(table))).
		Where(squirrel.Eq{"entity_id": entityID}).
		OrderBy("revision_id")
}

// QueryByTransaction scans the parent table, which covers every partition.
func (s *HistoryStore) QueryByTransaction(ctx context.Context, txID tx.ID) ([]*history.Record, error) {
	sql, args, err := transactionQuery(txID).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return s.selectRecords(ctx, sql, args)
}

func transactionQuery(txID tx.ID) squirrel.SelectBuilder {
	return Builder().
		Select(historyColumns...).
		From(historyTable).
		Where(squirrel.Eq{"transaction_id": int64(txID)}).
		OrderBy("entity_id", "revision_id")
}

func (s *HistoryStore) requirePartition(ctx context.Context, table string) error {
	var exists bool
	err := s.txm.GetQuerier(ctx).QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM history_partitions WHERE table_name = $1)", table).Scan(&exists)
	if err != nil {
		return fmt.Errorf("read partition catalog: %w", err)
	}
	if !exists {
		return apperror.NewNotRegistered(table)
	}
	return nil
}

func (s *HistoryStore) selectRecords(ctx context.Context, sql string, args []any) ([]*history.Record, error) {
	var rows []historyRow
	if err := pgxscan.Select(ctx, s.txm.GetQuerier(ctx), &rows, sql, args...); err != nil {
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
		EntityID:      r.EntityID,
		RevisionID:    r.RevisionID,
		Actor:         r.Actor,
		Timestamp:     r.Timestamp.UTC(),
		Operation:     op,
		Delta:         delta,
		Digest:        r.Digest,
	}, raw, nil
}
