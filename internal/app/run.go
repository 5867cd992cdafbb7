package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"climatelog/internal/config"
	"climatelog/internal/db"
	"climatelog/internal/httpapi"
	"climatelog/internal/logging"
	"climatelog/internal/metrics"
	"climatelog/internal/migrate"
	"climatelog/internal/modules/climate"
	"climatelog/internal/modules/climate/rollup"
	"climatelog/internal/mqtt"
)

// Run serves until ctx is cancelled or a component fails. Losing the broker
// is not fatal: paho keeps reconnecting while the API serves stored data.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"sqliteDriver", cfg.SQLiteDriver,
		"sqlitePath", cfg.SQLitePath,
		"sqliteMaxOpenConns", cfg.SQLiteMaxOpenConns,
		"mqttBroker", cfg.MQTTBroker,
		"mqttPort", cfg.MQTTPort,
		"mqttTopic", cfg.MQTTTopic,
		"rawMaxRows", cfg.RawMaxRows,
		"rawMaxBytes", cfg.RawMaxBytes,
		"rollupTZ", cfg.RollupLocation.String(),
	)

	m := metrics.New()
	clock := clockwork.NewRealClock()

	dbConn, err := db.Open(cfg, logger, m)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(dbConn); closeErr != nil {
			logger.Error("db close", "error", closeErr)
		}
	}()

	if err := migrate.Run(ctx, dbConn); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("database ready")

	feature := climate.NewFeature(dbConn, cfg, clock, logger, m)

	// The handler must be in place before Connect: the subscription is made
	// from the on-connect callback.
	subscriber := mqtt.NewSubscriber(cfg, logging.Component(logger, "mqtt"))
	feature.Subscribe(subscriber)

	scheduler, err := rollup.NewScheduler(clock, logging.Component(logger, "scheduler"), feature.Tasks()...)
	if err != nil {
		return err
	}

	mux := httpapi.NewMux(feature.Repository, subscriber, m, logging.Component(logger, "http"))
	feature.RegisterRoutes(mux)
	srv := httpapi.NewServer(cfg, mux, m, logging.Component(logger, "http"))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := subscriber.Connect(gctx); err != nil && gctx.Err() == nil {
			logger.Warn("mqtt connection failed (continuing without mqtt)", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		return scheduler.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		logger.Info("mqtt disconnecting")
		subscriber.Disconnect()

		logger.Info("http shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
