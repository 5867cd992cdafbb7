package climate

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"climatelog/internal/config"
	"climatelog/internal/logging"
	"climatelog/internal/metrics"
	"climatelog/internal/modules/climate/controller"
	"climatelog/internal/modules/climate/ingest"
	"climatelog/internal/modules/climate/repository"
	"climatelog/internal/modules/climate/rollup"
	"climatelog/internal/modules/climate/router"
	"climatelog/internal/mqtt"
)

// MessageSource is where the listener gets its messages from.
type MessageSource interface {
	SetMessageHandler(handler mqtt.MessageHandler)
}

// Feature holds the wired climate components.
type Feature struct {
	Repository repository.ClimateRepository
	Listener   *ingest.Listener
	Roller     *rollup.Roller
	Router     *router.Router

	cfg    config.Config
	logger *slog.Logger
}

func NewFeature(db *sql.DB, cfg config.Config, clock clockwork.Clock, logger *slog.Logger, m *metrics.Registry) *Feature {
	repo := repository.NewRepository(db, repository.Limits{MaxRows: cfg.RawMaxRows, MaxBytes: cfg.RawMaxBytes})
	return &Feature{
		Repository: repo,
		Listener:   ingest.NewListener(repo, repo, clock, cfg.RollupLocation, logging.Component(logger, "ingest"), m),
		Roller:     rollup.NewRoller(repo, cfg.RollupLocation, logging.Component(logger, "rollup"), m),
		Router:     router.New(repo),
		cfg:        cfg,
		logger:     logger,
	}
}

func (f *Feature) RegisterRoutes(mux *http.ServeMux) {
	controller.NewClimateController(f.Router, f.cfg.RollupLocation, logging.Component(f.logger, "api")).RegisterRoutes(mux)
}

func (f *Feature) Subscribe(src MessageSource) {
	src.SetMessageHandler(f.Listener.HandleMessage)
}

// Tasks returns the hourly and daily rollup jobs for the scheduler.
func (f *Feature) Tasks() []rollup.Task {
	return []rollup.Task{
		{
			Name:   "hourly",
			Period: f.cfg.RollupHourlyInterval,
			Run: func(ctx context.Context, now time.Time) error {
				_, err := f.Roller.RollupHourly(ctx, now)
				return err
			},
		},
		{
			Name:   "daily",
			Period: f.cfg.RollupDailyInterval,
			Run: func(ctx context.Context, now time.Time) error {
				_, err := f.Roller.RollupDaily(ctx, now)
				return err
			},
		},
	}
}
