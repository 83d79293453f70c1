// Package entities provides commands over canonical entity state.
package entities

import (
	"github.com/spf13/cobra"

	"github.com/agentstation/ratify/internal/cmd/application"
	"github.com/agentstation/ratify/internal/cmd/cmdutil"
	"github.com/agentstation/ratify/internal/cmd/table"
	"github.com/agentstation/ratify/internal/payload"
	"github.com/agentstation/ratify/pkg/entity"
	"github.com/agentstation/ratify/pkg/errors"
)

// NewCommand creates the entities command and its subcommands.
func NewCommand(app application.Application) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "entities",
		Aliases: []string{"entity", "e"},
		GroupID: "core",
		Short:   "Inspect and edit canonical entities",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newListCommand(app))
	cmd.AddCommand(newShowCommand(app))
	cmd.AddCommand(newEditCommand(app))
	return cmd
}

func newListCommand(app application.Application) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List a project's canonical entities",
		Example: `  ratify entities list -p acme
  ratify entities list -p acme --kind feature`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			project, err := cmdutil.Project(cmd)
			if err != nil {
				return err
			}
			kind := entity.Kind(cmdutil.MustGetString(cmd, "kind"))
			if kind != "" && !kind.Valid() {
				return errors.NewValidationError("kind", kind, "unknown entity kind")
			}

			engine, err := app.Engine()
			if err != nil {
				return err
			}
			recs, err := engine.Entities(cmd.Context(), project, kind)
			if err != nil {
				return err
			}
			return cmdutil.Print(cmd, app, table.Entities(recs))
		},
	}
	cmdutil.AddProjectFlag(cmd)
	cmd.Flags().StringP("kind", "k", "", "Filter by kind: feature, requirement, persona, risk, decision")
	return cmd
}

func newShowCommand(app application.Application) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "show <kind/id>",
		Short:   "Show one canonical entity",
		Example: `  ratify entities show feature/f-12 -p acme`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := cmdutil.Project(cmd)
			if err != nil {
				return err
			}
			ref, err := entity.ParseRef(args[0])
			if err != nil {
				return err
			}
			engine, err := app.Engine()
			if err != nil {
				return err
			}
			rec, err := engine.Entity(cmd.Context(), project, ref)
			if err != nil {
				return err
			}
			return cmdutil.Print(cmd, app, table.Entity{Record: rec})
		},
	}
	cmdutil.AddProjectFlag(cmd)
	return cmd
}

func newEditCommand(app application.Application) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit <file|->",
		Short: "Write canonical state directly",
		Long: `Edit applies a create, update or delete document to canonical state
outside any proposal, the way a human editor would. Open proposals that
captured the edited entity become stale. No evidence is recorded.

The document names project_id, operation, entity_type, entity_id (for
update and delete) and data (for create and update).`,
		Example: `  ratify entities edit rename.yaml
  echo '{"operation":"delete","entity_type":"risk","entity_id":"r-1"}' | ratify entities edit - -p acme`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				e   *payload.Edit
				err error
			)
			if args[0] == "-" {
				e, err = payload.ReadEdit(cmd.InOrStdin(), "", "stdin")
			} else {
				e, err = payload.LoadEdit(args[0])
			}
			if err != nil {
				return err
			}
			if project := cmdutil.MustGetString(cmd, cmdutil.ProjectFlag); project != "" {
				if e.ProjectID != "" && e.ProjectID != project {
					return errors.NewValidationError("project_id", e.ProjectID, "does not match --project "+project)
				}
				e.ProjectID = project
			}
			if e.ProjectID == "" {
				return errors.NewValidationError("project_id", nil, "is required")
			}
			m, err := e.Mutation()
			if err != nil {
				return err
			}

			engine, err := app.Engine()
			if err != nil {
				return err
			}
			res, err := engine.Edit(cmd.Context(), e.ProjectID, m)
			if err != nil {
				return err
			}
			return cmdutil.Print(cmd, app, table.Edit(*res))
		},
	}
	cmd.Flags().StringP(cmdutil.ProjectFlag, "p", "", "Project ID (defaults to the document's project_id)")
	return cmd
}
