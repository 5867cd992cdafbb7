package main

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"climatelog/internal/modules/climate/repository"
	"climatelog/internal/modules/climate/types"
)

type storeStats struct {
	RawRows     int               `json:"rawRows"`
	RawBytes    int64             `json:"rawBytes"`
	MaxRows     int               `json:"maxRows"`
	MaxBytes    int64             `json:"maxBytes"`
	Latest      *types.RawReading `json:"latest"`
	CollectedAt time.Time         `json:"collectedAt"`
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print raw tier occupancy and the latest reading as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(conn *sql.DB) error {
			repo := repository.NewRepository(conn, repository.Limits{MaxRows: cfg.RawMaxRows, MaxBytes: cfg.RawMaxBytes})

			rows, size, err := repo.CountRaw(cmd.Context())
			if err != nil {
				return err
			}
			latest, err := repo.LatestRaw(cmd.Context())
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(storeStats{
				RawRows:     rows,
				RawBytes:    size,
				MaxRows:     cfg.RawMaxRows,
				MaxBytes:    cfg.RawMaxBytes,
				Latest:      latest,
				CollectedAt: time.Now().UTC(),
			})
		})
	},
}
