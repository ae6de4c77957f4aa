package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"chronolog/internal/domain/history"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema creates the catalog, the partitioned parent table and the
// guard function. Safe to run on every start.
func EnsureSchema(ctx context.Context, txm *TxManager) error {
	return txm.RunInTransaction(ctx, func(ctx context.Context) error {
		if _, err := txm.GetQuerier(ctx).Exec(ctx, schemaSQL); err != nil {
			return fmt.Errorf("ensure history schema: %w", err)
		}
		return nil
	})
}

// PartitionDDL renders the statements that attach one history partition.
// Indexes come from the partitioned parent. Trigger names are scoped to their
// table, so fixed names keep long partition names within the identifier limit.
// Names reaching here have been validated by history.NewTable.
func PartitionDDL(t history.Table) []string {
	p := quoteIdent(t.Partition)
	stmts := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s PARTITION OF audit_history FOR VALUES IN (%s)",
			p, quoteLiteral(t.Name)),
	}
	for _, trg := range []struct{ name, timing string }{
		{"history_no_modify", "BEFORE UPDATE OR DELETE ON %s FOR EACH ROW"},
		{"history_no_truncate", "BEFORE TRUNCATE ON %s FOR EACH STATEMENT"},
	} {
		name := quoteIdent(trg.name)
		stmts = append(stmts,
			fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", name, p),
			fmt.Sprintf("CREATE TRIGGER %s "+trg.timing+" EXECUTE FUNCTION chronolog_history_guard()", name, p),
		)
	}
	return stmts
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
