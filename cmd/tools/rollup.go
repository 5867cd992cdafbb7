package main

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"climatelog/internal/metrics"
	"climatelog/internal/modules/climate"
	"climatelog/internal/modules/climate/types"
)

var rollupAt string

var rollupCmd = &cobra.Command{
	Use:       "rollup hourly|daily",
	Short:     "Run one rollup for the hour or day containing --at",
	Long:      "Runs the hourly or daily rollup once for the clock hour or calendar day (in ROLLUP_TZ) that contains --at, default now.",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"hourly", "daily"},
	RunE: func(cmd *cobra.Command, args []string) error {
		now := time.Now()
		if rollupAt != "" {
			t, err := time.Parse(time.RFC3339, rollupAt)
			if err != nil {
				return fmt.Errorf("invalid --at %q: %w", rollupAt, err)
			}
			now = t
		}

		return withStore(cmd.Context(), func(conn *sql.DB) error {
			feature := climate.NewFeature(conn, cfg, clockwork.NewFakeClockAt(now), logger, metrics.New())

			var (
				s   *types.Summary
				err error
			)
			switch args[0] {
			case "hourly":
				s, err = feature.Roller.RollupHourly(cmd.Context(), now)
			case "daily":
				s, err = feature.Roller.RollupDaily(cmd.Context(), now)
			}
			if err != nil {
				return err
			}

			if s == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s rollup at %s: no data in window\n", args[0], now.Format(time.RFC3339))
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s rollup %s: count=%d temperature=%.2f humidity=%.2f\n",
				args[0], s.WindowStart.Format(time.RFC3339), s.Count, s.Temperature.Avg, s.Humidity.Avg)
			return nil
		})
	},
}

func init() {
	rollupCmd.Flags().StringVar(&rollupAt, "at", "", "instant inside the hour or day to roll up (RFC3339, default now)")
}
