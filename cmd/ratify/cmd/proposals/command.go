// Package proposals provides commands that inspect the proposal queue.
package proposals

import (
	"github.com/spf13/cobra"

	"github.com/agentstation/ratify/internal/cmd/application"
	"github.com/agentstation/ratify/internal/cmd/cmdutil"
	"github.com/agentstation/ratify/internal/cmd/table"
	"github.com/agentstation/ratify/pkg/proposal"
)

// NewCommand creates the proposals command and its subcommands.
func NewCommand(app application.Application) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "proposals",
		Aliases: []string{"proposal", "p"},
		GroupID: "core",
		Short:   "Inspect proposals",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newListCommand(app))
	cmd.AddCommand(newShowCommand(app))
	cmd.AddCommand(newEligibleCommand(app))
	cmd.AddCommand(newContradictionsCommand(app))
	return cmd
}

func newListCommand(app application.Application) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List a project's proposals in queue order",
		Example: `  ratify proposals list -p acme
  ratify proposals list -p acme --status pending,previewed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			project, err := cmdutil.Project(cmd)
			if err != nil {
				return err
			}
			var statuses []proposal.Status
			for _, s := range cmdutil.MustGetStringSlice(cmd, "status") {
				st, err := proposal.ParseStatus(s)
				if err != nil {
					return err
				}
				statuses = append(statuses, st)
			}

			engine, err := app.Engine()
			if err != nil {
				return err
			}
			ps, err := engine.List(cmd.Context(), project, statuses...)
			if err != nil {
				return err
			}
			return cmdutil.Print(cmd, app, table.Summaries(ps))
		},
	}
	cmdutil.AddProjectFlag(cmd)
	cmd.Flags().StringSlice("status", nil, "Filter by status: pending, previewed, applied, discarded")
	return cmd
}

func newShowCommand(app application.Application) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a proposal with its changes and contradictions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := app.Engine()
			if err != nil {
				return err
			}
			p, err := engine.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return cmdutil.Print(cmd, app, table.Proposal{Proposal: p})
		},
	}
}

func newEligibleCommand(app application.Application) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eligible",
		Short: "List open proposals that would pass apply gating",
		Long: `Eligible lists the open proposals of a project that are neither stale
nor blocked by an earlier conflicting proposal, in queue order.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			project, err := cmdutil.Project(cmd)
			if err != nil {
				return err
			}
			engine, err := app.Engine()
			if err != nil {
				return err
			}
			ps, err := engine.Eligible(cmd.Context(), project)
			if err != nil {
				return err
			}
			return cmdutil.Print(cmd, app, table.Summaries(ps))
		},
	}
	cmdutil.AddProjectFlag(cmd)
	return cmd
}

func newContradictionsCommand(app application.Application) *cobra.Command {
	return &cobra.Command{
		Use:     "contradictions <id>",
		Aliases: []string{"detect"},
		Short:   "Detect a proposal's contradictions against live state",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := app.Engine()
			if err != nil {
				return err
			}
			cs, err := engine.Detect(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return cmdutil.Print(cmd, app, table.Contradictions(cs))
		},
	}
}
