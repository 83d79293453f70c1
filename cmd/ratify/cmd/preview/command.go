// Package preview provides the preview command.
package preview

import (
	"github.com/spf13/cobra"

	"github.com/agentstation/ratify/internal/cmd/application"
	"github.com/agentstation/ratify/internal/cmd/cmdutil"
	"github.com/agentstation/ratify/internal/cmd/table"
)

// NewCommand creates the preview command.
func NewCommand(app application.Application) *cobra.Command {
	return &cobra.Command{
		Use:     "preview <id>",
		GroupID: "core",
		Short:   "Preview what applying a proposal would change",
		Long: `Preview marks a proposal previewed and shows, per change, the field
diff against the entity's live canonical state. Canonical state is never
written.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := app.Engine()
			if err != nil {
				return err
			}
			res, err := engine.Preview(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return cmdutil.Print(cmd, app, table.Preview(*res))
		},
	}
}
