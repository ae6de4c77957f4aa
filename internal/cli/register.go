package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// RegisterOptions holds flags for the register command.
type RegisterOptions struct {
	*RootOptions
	IDField string
}

func newRegisterCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RegisterOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "register <table>",
		Short: "Start tracking a table",
		Long: `Register a table for history tracking and provision its history
partition with guard triggers. Registering again with the same identity
field is a no-op.

Examples:
  chronolog register person
  chronolog register account --id-field id`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegister(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.IDField, "id-field", "", "identity field (default <table>_id)")

	return cmd
}

func runRegister(opts *RegisterOptions, cmd *cobra.Command, table string) error {
	cfg, ctx, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close(ctx)

	t, err := b.tracker.Register(ctx, table, opts.IDField)
	if err != nil {
		return err
	}

	view := toTableView(t)
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Success(view, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "Registered %s (id field %s, partition %s)\n", view.Table, view.IDField, view.Partition)
		return err
	})
}
