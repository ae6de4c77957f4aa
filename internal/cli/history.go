package cli

import (
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"chronolog/internal/core/apperror"
	"chronolog/internal/core/id"
	"chronolog/internal/core/tx"
)

func newHistoryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <table> <entity-id>",
		Short: "List the history of one entity",
		Long: `List every history record of an entity in revision order.

Examples:
  chronolog history person 0190f5a2-7c1e-7000-8000-000000000001
  chronolog history person 0190f5a2-7c1e-7000-8000-000000000001 --format json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityID, err := parseID("entity id", args[1])
			if err != nil {
				return err
			}

			cfg, ctx, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			b, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer b.close(ctx)

			records, err := b.tracker.History(ctx, args[0], entityID)
			if err != nil {
				return err
			}
			return printRecords(opts, cmd, toRecordViews(records))
		},
	}
}

func newTxCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tx <transaction-id>",
		Short: "List every change made by one transaction",
		Long: `List the history records sharing a transaction id across all tracked
tables, ordered by table and revision.

Examples:
  chronolog tx 48213`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return apperror.NewValidation("invalid transaction id: " + args[0])
			}

			cfg, ctx, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			b, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer b.close(ctx)

			records, err := b.tracker.Transaction(ctx, tx.ID(n))
			if err != nil {
				return err
			}
			return printRecords(opts, cmd, toRecordViews(records))
		},
	}
}

func printRecords(opts *RootOptions, cmd *cobra.Command, views []RecordView) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Success(views, func(w io.Writer) error {
		return writeRecords(w, views)
	})
}

func parseID(what, s string) (id.ID, error) {
	v, err := id.Parse(s)
	if err != nil {
		return id.Nil(), apperror.NewValidation("invalid " + what + ": " + s)
	}
	return v, nil
}
