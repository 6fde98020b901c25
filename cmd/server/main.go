package main

import (
	"os"

	"marketplace-chat/internal/config"
	"marketplace-chat/internal/database/migrate"
	"marketplace-chat/pkg/logger"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "marketplace-chat",
		Short:         "Realtime chat and notification server for the job marketplace",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(newServeCmd(), newMigrateCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the WebSocket gateway and internal API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back the database schema",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(migrate.Up), string(migrate.Down)},
		RunE: func(cmd *cobra.Command, args []string) error {
			direction, err := migrate.ParseDirection(args[0])
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				logger.Error("%v", err)
				return err
			}
			logger.GlobalLogger.SetLevel(cfg.LogLevel)

			if err := migrate.Run(cfg.Database.URL, direction); err != nil {
				logger.Error("Migration %s failed: %v", direction, err)
				return err
			}
			logger.Info("Migration %s complete", direction)
			return nil
		},
	}
}
