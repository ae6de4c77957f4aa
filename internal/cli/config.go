package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"chronolog/internal/config"
)

func newConfigCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(newConfigInitCommand(opts))
	return cmd
}

func newConfigInitCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default " + config.FileName,
		Long: `Write the default configuration to path (default ./` + config.FileName + `).
An existing file is never overwritten.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.FileName
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.Write(path, config.Default()); err != nil {
				return WrapExitError(ExitCommandError, "failed to write config", err)
			}

			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			return out.Success(map[string]string{"path": path}, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "Wrote %s\n", path)
				return err
			})
		},
	}
}
