package app

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

// Execute runs the ratify CLI application with the given arguments.
func (a *App) Execute(ctx context.Context, args []string) error {
	rootCmd := a.createRootCommand()
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

// createRootCommand creates the root cobra command with all subcommands.
func (a *App) createRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "ratify",
		Short:   "Reconcile generated proposals against canonical project knowledge",
		Version: a.version,
		Long: `Ratify queues machine-generated proposals (bundles of create, update
and delete changes backed by source evidence) and reconciles them against a
project's canonical knowledge: features, requirements, personas, risks and
decisions.

Proposals are kept current as canonical state moves. They become stale when
an entity they captured changes, conflict when they touch the same entity as
an earlier open proposal, and carry the contradictions detected against live
state. Applying a proposal commits all of its changes or none of them and
records one evidence ledger entry per change.`,
		PersistentPreRunE: a.setupCommand,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	rootCmd.AddGroup(&cobra.Group{ID: "core", Title: "Core Commands:"})
	rootCmd.AddGroup(&cobra.Group{ID: "server", Title: "Server Commands:"})

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default is ./.ratify.yaml or $HOME/.ratify.yaml)")
	flags.BoolP("verbose", "v", false, "verbose output (shortcut for --log-level=debug)")
	flags.BoolP("quiet", "q", false, "minimal output (shortcut for --log-level=warn)")
	flags.Bool("no-color", false, "disable colored output")
	flags.StringP("format", "o", "", "output format: table, json, yaml (default: table on a terminal, json otherwise)")
	flags.String("log-level", "", "log level: trace, debug, info, warn, error (overrides -v/-q)")
	flags.String("database", "", `SQLite database path, or ":memory:" (default "ratify.db")`)

	rootCmd.SetVersionTemplate("ratify {{.Version}}\n")

	a.registerCommands(rootCmd)
	return rootCmd
}

// setupCommand is called before any command runs. An explicit --config
// reloads configuration from that file before flags are applied.
func (a *App) setupCommand(cmd *cobra.Command, _ []string) error {
	if path := mustGetString(cmd, "config"); path != "" {
		config, err := LoadConfig(path)
		if err != nil {
			return err
		}
		a.config = config
	}

	a.config.UpdateFromFlags(
		mustGetBool(cmd, "verbose"),
		mustGetBool(cmd, "quiet"),
		mustGetBool(cmd, "no-color"),
		mustGetString(cmd, "format"),
		mustGetString(cmd, "log-level"),
		mustGetString(cmd, "database"),
	)

	logger := NewLogger(a.config)
	a.logger = &logger
	a.logger.Debug().
		Str("config_file", a.config.ConfigFile).
		Str("database", a.config.Database).
		Msg("Configuration loaded")
	return nil
}

// ExitOnError prints err and exits with status 1.
func ExitOnError(err error) {
	if err != nil {
		_, _ = os.Stderr.WriteString("Error: " + err.Error() + "\n")
		os.Exit(1)
	}
}

// mustGetBool retrieves a boolean flag value or panics if the flag doesn't exist.
// This should only be used for flags defined in this package.
func mustGetBool(cmd *cobra.Command, name string) bool {
	val, err := cmd.Flags().GetBool(name)
	if err != nil {
		panic("programming error: failed to get flag " + name + ": " + err.Error())
	}
	return val
}

// mustGetString retrieves a string flag value or panics if the flag doesn't exist.
// This should only be used for flags defined in this package.
func mustGetString(cmd *cobra.Command, name string) string {
	val, err := cmd.Flags().GetString(name)
	if err != nil {
		panic("programming error: failed to get flag " + name + ": " + err.Error())
	}
	return val
}
