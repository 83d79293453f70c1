package app

import (
	"github.com/spf13/cobra"

	"github.com/agentstation/ratify/cmd/ratify/cmd/apply"
	"github.com/agentstation/ratify/cmd/ratify/cmd/discard"
	"github.com/agentstation/ratify/cmd/ratify/cmd/entities"
	"github.com/agentstation/ratify/cmd/ratify/cmd/evidence"
	"github.com/agentstation/ratify/cmd/ratify/cmd/preview"
	"github.com/agentstation/ratify/cmd/ratify/cmd/proposals"
	"github.com/agentstation/ratify/cmd/ratify/cmd/serve"
	"github.com/agentstation/ratify/cmd/ratify/cmd/submit"
	"github.com/agentstation/ratify/cmd/ratify/cmd/version"
)

// registerCommands registers all subcommands with the root command.
func (a *App) registerCommands(rootCmd *cobra.Command) {
	// Core commands
	rootCmd.AddCommand(submit.NewCommand(a))
	rootCmd.AddCommand(proposals.NewCommand(a))
	rootCmd.AddCommand(preview.NewCommand(a))
	rootCmd.AddCommand(apply.NewCommand(a))
	rootCmd.AddCommand(discard.NewCommand(a))
	rootCmd.AddCommand(entities.NewCommand(a))
	rootCmd.AddCommand(evidence.NewCommand(a))

	// Server commands
	rootCmd.AddCommand(serve.NewCommand(a))

	// Utility commands
	rootCmd.AddCommand(version.NewCommand(a))
}
