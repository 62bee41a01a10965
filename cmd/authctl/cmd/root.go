// Package cmd implements the authctl commands.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"socialauth/internal/config"
	"socialauth/internal/platform/logging"
)

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "authctl",
		Short: "Operate the social login service",
		Long: `authctl inspects tokens and accounts and manages the database schema.

Configuration is read from the same environment variables as the API server.`,
		SilenceUsage: true,
	}
	root.AddCommand(newMigrateCmd(), newTokenCmd(), newAccountsCmd())
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logging.New(cfg.LogLevel, cfg.LogFormat), nil
}
