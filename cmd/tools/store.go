package main

import (
	"context"
	"database/sql"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"climatelog/internal/db"
	"climatelog/internal/migrate"
)

var migrateStatus bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !migrateStatus {
			return withStore(cmd.Context(), func(*sql.DB) error {
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		}

		conn, err := db.Open(cfg, logger, nil)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close(conn) }()

		list, err := migrate.Status(cmd.Context(), conn)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED")
		for _, m := range list {
			applied := "pending"
			if !m.AppliedAt.IsZero() {
				applied = m.AppliedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%04d\t%s\t%s\n", m.Version, m.Name, applied)
		}
		return w.Flush()
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "list migrations without applying them")
}

// withStore opens and migrates the configured database for the duration of fn.
func withStore(ctx context.Context, fn func(conn *sql.DB) error) error {
	conn, err := db.Open(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(conn); closeErr != nil {
			logger.Error("db close", "error", closeErr)
		}
	}()

	if err := migrate.Run(ctx, conn); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return fn(conn)
}
