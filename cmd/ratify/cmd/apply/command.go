// Package apply provides the apply command.
package apply

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentstation/ratify/internal/cmd/application"
	"github.com/agentstation/ratify/internal/cmd/cmdutil"
	"github.com/agentstation/ratify/internal/cmd/table"
	"github.com/agentstation/ratify/pkg/errors"
)

// NewCommand creates the apply command.
func NewCommand(app application.Application) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "apply [id...]",
		GroupID: "core",
		Short:   "Apply proposals to canonical state",
		Long: `Apply commits every change of a proposal atomically and records its
evidence in the ledger. Stale proposals, and proposals blocked by an
earlier conflicting proposal, are refused.

With several ids, or with --eligible, proposals are applied in order and
each one succeeds or fails on its own. The command exits non-zero when any
proposal failed for a reason other than being stale, conflicting or
already resolved.`,
		Example: `  ratify apply 3f9c...
  ratify apply a1 a2 a3
  ratify apply --eligible -p acme`,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := app.Engine()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			ids := args
			if cmdutil.MustGetBool(cmd, "eligible") {
				if len(args) > 0 {
					return errors.NewValidationError("id", args, "cannot be combined with --eligible")
				}
				project, err := cmdutil.Project(cmd)
				if err != nil {
					return err
				}
				eligible, err := engine.Eligible(ctx, project)
				if err != nil {
					return err
				}
				ids = make([]string, len(eligible))
				for i, p := range eligible {
					ids[i] = p.ID
				}
			} else {
				switch len(args) {
				case 0:
					return errors.NewValidationError("id", nil, "at least one proposal id or --eligible is required")
				case 1:
					res, err := engine.Apply(ctx, args[0])
					if err != nil {
						return err
					}
					return cmdutil.Print(cmd, app, table.Applied(*res))
				}
			}

			res := engine.BatchApply(ctx, ids)
			if err := cmdutil.Print(cmd, app, table.Batch(*res)); err != nil {
				return err
			}
			if res.Failed > 0 {
				return fmt.Errorf("%d of %d proposals failed", res.Failed, len(ids))
			}
			return nil
		},
	}
	cmd.Flags().Bool("eligible", false, "Apply every eligible proposal of --project")
	cmd.Flags().StringP(cmdutil.ProjectFlag, "p", "", "Project ID (with --eligible)")
	return cmd
}
