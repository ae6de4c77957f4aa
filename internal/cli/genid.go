package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"chronolog/internal/core/id"
)

// GenIDOptions holds flags for the genid command.
type GenIDOptions struct {
	*RootOptions
	Count  int
	Layout string
}

func newGenIDCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GenIDOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "genid",
		Short: "Generate time-ordered identifiers",
		Long: `Generate identifiers with the configured layout.

Identifiers from one invocation are strictly increasing.

Examples:
  chronolog genid
  chronolog genid -n 5 --layout compact`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenID(opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Count, "count", "n", 1, "number of identifiers")
	cmd.Flags().StringVar(&opts.Layout, "layout", "", "identifier layout (coarse|compact); defaults to generator.layout")

	return cmd
}

func runGenID(opts *GenIDOptions, cmd *cobra.Command) error {
	if opts.Count < 1 {
		return NewExitError(ExitCommandError, fmt.Sprintf("count must be positive, got %d", opts.Count))
	}

	layoutName := opts.Layout
	if layoutName == "" {
		cfg, _, err := opts.loadConfig(cmd)
		if err != nil {
			return err
		}
		layoutName = cfg.Generator.Layout
	}
	layout, err := id.ParseLayout(layoutName)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid layout", err)
	}

	gen := id.NewGenerator(layout)
	ids := make([]string, 0, opts.Count)
	for i := 0; i < opts.Count; i++ {
		v, err := gen.Generate()
		if err != nil {
			return err
		}
		ids = append(ids, v.String())
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Success(ids, func(w io.Writer) error {
		for _, s := range ids {
			if _, err := fmt.Fprintln(w, s); err != nil {
				return err
			}
		}
		return nil
	})
}
