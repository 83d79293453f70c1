// Package submit provides the submit command.
package submit

import (
	"github.com/spf13/cobra"

	"github.com/agentstation/ratify/internal/cmd/application"
	"github.com/agentstation/ratify/internal/cmd/cmdutil"
	"github.com/agentstation/ratify/internal/cmd/table"
	"github.com/agentstation/ratify/internal/payload"
	"github.com/agentstation/ratify/pkg/errors"
	"github.com/agentstation/ratify/pkg/proposal"
)

// NewCommand creates the submit command.
func NewCommand(app application.Application) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "submit <file|->",
		GroupID: "core",
		Short:   "Submit a proposal for review",
		Long: `Submit reads a proposal document (YAML or JSON) and queues it as a
pending proposal. Staleness, conflicts and contradictions are computed
against the project's canonical state before it is stored.

Use "-" to read the proposal from stdin.`,
		Example: `  ratify submit proposal.yaml
  generate-proposal | ratify submit - --project acme`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := read(cmd, args[0])
			if err != nil {
				return err
			}
			if project := cmdutil.MustGetString(cmd, cmdutil.ProjectFlag); project != "" {
				if p.ProjectID != "" && p.ProjectID != project {
					return errors.NewValidationError("project_id", p.ProjectID, "does not match --project "+project)
				}
				p.ProjectID = project
			}

			engine, err := app.Engine()
			if err != nil {
				return err
			}
			res, err := engine.Submit(cmd.Context(), p)
			if err != nil {
				return err
			}
			return cmdutil.Print(cmd, app, table.Proposal{Proposal: res.Proposal})
		},
	}
	cmd.Flags().StringP(cmdutil.ProjectFlag, "p", "", "Project ID (defaults to the payload's project_id)")
	return cmd
}

func read(cmd *cobra.Command, path string) (*proposal.Proposal, error) {
	if path == "-" {
		return payload.ReadProposal(cmd.InOrStdin(), "", "stdin")
	}
	return payload.LoadProposal(path)
}
