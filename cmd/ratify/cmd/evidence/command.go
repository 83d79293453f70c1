// Package evidence provides the evidence command.
package evidence

import (
	"github.com/spf13/cobra"

	"github.com/agentstation/ratify/internal/cmd/application"
	"github.com/agentstation/ratify/internal/cmd/cmdutil"
	"github.com/agentstation/ratify/internal/cmd/table"
	"github.com/agentstation/ratify/internal/ledger"
	"github.com/agentstation/ratify/pkg/entity"
)

// NewCommand creates the evidence command.
func NewCommand(app application.Application) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "evidence",
		GroupID: "core",
		Short:   "Query the evidence ledger",
		Long: `Evidence lists the ledger entries recorded when proposals were
applied, one per change, with the source excerpts that justified it.`,
		Example: `  ratify evidence -p acme
  ratify evidence -p acme --proposal 3f9c...
  ratify evidence -p acme --entity feature/f-12`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			project, err := cmdutil.Project(cmd)
			if err != nil {
				return err
			}
			q := ledger.Query{
				ProjectID:  project,
				ProposalID: cmdutil.MustGetString(cmd, "proposal"),
			}
			if s := cmdutil.MustGetString(cmd, "entity"); s != "" {
				ref, err := entity.ParseRef(s)
				if err != nil {
					return err
				}
				q.Ref = &ref
			}

			engine, err := app.Engine()
			if err != nil {
				return err
			}
			entries, err := engine.Evidence(cmd.Context(), q)
			if err != nil {
				return err
			}
			return cmdutil.Print(cmd, app, table.Evidence(entries))
		},
	}
	cmdutil.AddProjectFlag(cmd)
	cmd.Flags().String("proposal", "", "Only entries of this proposal")
	cmd.Flags().String("entity", "", "Only entries for this entity (kind/id)")
	return cmd
}
