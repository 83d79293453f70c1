// Package discard provides the discard command.
package discard

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentstation/ratify/internal/cmd/application"
	"github.com/agentstation/ratify/internal/cmd/cmdutil"
	"github.com/agentstation/ratify/internal/cmd/table"
)

// NewCommand creates the discard command.
func NewCommand(app application.Application) *cobra.Command {
	return &cobra.Command{
		Use:     "discard <id>...",
		GroupID: "core",
		Short:   "Discard proposals without touching canonical state",
		Long: `Discard resolves proposals without applying them. Proposals that
were blocked by a discarded proposal are unblocked.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := app.Engine()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				res, err := engine.Discard(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return cmdutil.Print(cmd, app, table.Proposal{Proposal: res.Proposal})
			}

			res := engine.BatchDiscard(cmd.Context(), args)
			if err := cmdutil.Print(cmd, app, table.Batch(*res)); err != nil {
				return err
			}
			if res.Failed > 0 {
				return fmt.Errorf("%d of %d proposals failed", res.Failed, len(args))
			}
			return nil
		},
	}
}
