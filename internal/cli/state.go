package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"chronolog/internal/core/entity"
)

// StateResult is the output of the state command. Row is nil when the
// entity did not exist at the revision.
type StateResult struct {
	Table      string         `json:"table"`
	EntityID   string         `json:"entity_id"`
	RevisionID string         `json:"revision_id"`
	Exists     bool           `json:"exists"`
	Row        *entity.Record `json:"row"`
}

func newStateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "state <table> <entity-id> <revision-id>",
		Short: "Reconstruct an entity as of a revision",
		Long: `Reconstruct the row of an entity as it was right after the given
revision was written, starting from the live row and undoing every later
change.

Examples:
  chronolog state person 0190f5a2-7c1e-7000-8000-000000000001 0190f5a3-0000-7000-8000-0000000000aa`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityID, err := parseID("entity id", args[1])
			if err != nil {
				return err
			}
			revision, err := parseID("revision id", args[2])
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

			row, err := b.tracker.StateAt(ctx, args[0], entityID, revision)
			if err != nil {
				return err
			}

			result := StateResult{
				Table:      args[0],
				EntityID:   entityID.String(),
				RevisionID: revision.String(),
				Exists:     row != nil,
				Row:        row,
			}
			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			return out.Success(result, func(w io.Writer) error {
				if !result.Exists {
					_, err := fmt.Fprintf(w, "%s %s did not exist at revision %s\n", result.Table, result.EntityID, result.RevisionID)
					return err
				}
				for _, f := range row.Fields() {
					if _, err := fmt.Fprintf(w, "%s: %v\n", f.Name, f.Value); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}
