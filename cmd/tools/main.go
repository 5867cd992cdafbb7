package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"climatelog/internal/config"
	"climatelog/internal/logging"
)

const appName = "tools"

var version = "dev"

var (
	cfg    config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "climatelog-tools",
	Short:         "Maintenance commands for the climatelog store",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadFromEnv()
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}
		logger = logging.NewWithWriter(os.Stderr, cfg, version, appName)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd, rollupCmd, publishCmd, statsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}
