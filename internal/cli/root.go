// Package cli implements the chronolog operator commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"chronolog/internal/config"
	appctx "chronolog/internal/core/context"
	"chronolog/pkg/logger"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{FormatText, FormatJSON}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string
	Verbose    bool
}

// NewRootCommand creates the root command for the chronolog CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chronolog",
		Short: "Append-only row history for tracked tables",
		Long: `chronolog records every insert, update and delete on tracked tables as an
immutable history record and answers who changed what, when, and in which
transaction.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file or directory containing "+config.FileName)
	cmd.PersistentFlags().StringVar(&opts.Format, "format", FormatText, "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging to stderr")

	cmd.AddCommand(
		newGenIDCommand(opts),
		newRegisterCommand(opts),
		newHistoryCommand(opts),
		newTxCommand(opts),
		newStateCommand(opts),
		newConfigCommand(opts),
	)

	return cmd
}

// Execute runs the CLI with args and returns the process exit code.
// Errors are reported on stderr, or on stdout as a JSON envelope in json format.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts := &RootOptions{}
	cmd := newRootCommand(opts)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}

	out := &OutputFormatter{Format: opts.Format, Writer: stdout}
	if opts.Format != FormatJSON {
		out.Writer = stderr
	}
	code, details := describeError(err)
	_ = out.Error(code, err.Error(), details)
	return GetExitCode(err)
}

// loadConfig reads configuration and attaches a logger and a fresh run to the command context.
func (o *RootOptions) loadConfig(cmd *cobra.Command) (config.Config, context.Context, error) {
	ctx := cmd.Context()
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, ctx, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	logCfg := cfg.Log.Logger()
	if o.Verbose {
		logCfg.Level = "debug"
	}
	l, err := logger.New(logCfg)
	if err != nil {
		return config.Config{}, ctx, WrapExitError(ExitCommandError, "failed to build logger", err)
	}
	ctx = appctx.WithRun(ctx, appctx.NewRun(ctx, cmd.CommandPath()))
	return cfg, logger.WithLogger(ctx, l), nil
}
