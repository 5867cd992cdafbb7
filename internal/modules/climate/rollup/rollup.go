package rollup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"climatelog/internal/metrics"
	"climatelog/internal/modules/climate/types"
)

// Store is the part of the repository rollups read from and write to.
type Store interface {
	AggregateRaw(ctx context.Context, from, until time.Time) (types.Stats, error)
	AggregateSummaries(ctx context.Context, tier types.Tier, from, until time.Time) (types.Stats, error)
	InsertSummary(ctx context.Context, tier types.Tier, s types.Summary) (types.Summary, error)
}

type Roller struct {
	store   Store
	loc     *time.Location
	logger  *slog.Logger
	metrics *metrics.Registry
}

func NewRoller(store Store, loc *time.Location, logger *slog.Logger, m *metrics.Registry) *Roller {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Roller{store: store, loc: loc, logger: logger, metrics: m}
}

// HourWindow returns [start, end) of the clock hour containing now in loc.
func HourWindow(now time.Time, loc *time.Location) (time.Time, time.Time) {
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, loc)
	return start, start.Add(types.TierHourly.Window())
}

// DayWindow returns [midnight, midnight+24h) of the calendar day containing now in loc.
func DayWindow(now time.Time, loc *time.Location) (time.Time, time.Time) {
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.Add(types.TierDaily.Window())
}

// RollupHourly summarizes the raw readings of the hour containing now. It
// returns nil without writing when the hour has no readings.
func (r *Roller) RollupHourly(ctx context.Context, now time.Time) (*types.Summary, error) {
	start, end := HourWindow(now, r.loc)
	stats, err := r.store.AggregateRaw(ctx, start, end)
	if err != nil {
		return nil, r.fail(types.TierHourly, start, fmt.Errorf("aggregate raw readings: %w", err))
	}
	return r.write(ctx, types.TierHourly, start, stats)
}

// RollupDaily summarizes the hourly rows of the day containing now: the mean
// of hourly averages, the extremes of hourly extremes and the summed counts.
func (r *Roller) RollupDaily(ctx context.Context, now time.Time) (*types.Summary, error) {
	start, end := DayWindow(now, r.loc)
	stats, err := r.store.AggregateSummaries(ctx, types.TierHourly, start, end)
	if err != nil {
		return nil, r.fail(types.TierDaily, start, fmt.Errorf("aggregate hourly summaries: %w", err))
	}
	return r.write(ctx, types.TierDaily, start, stats)
}

func (r *Roller) write(ctx context.Context, tier types.Tier, start time.Time, stats types.Stats) (*types.Summary, error) {
	if stats.Empty() {
		r.metrics.RollupRuns.WithLabelValues(tier.String(), "empty").Inc()
		r.logger.Info("no data to roll up", "tier", tier.String(), "window_start", start)
		return nil, nil
	}

	saved, err := r.store.InsertSummary(ctx, tier, stats.Summary(start))
	if err != nil {
		return nil, r.fail(tier, start, err)
	}

	r.metrics.RollupRuns.WithLabelValues(tier.String(), "inserted").Inc()
	r.logger.Info("rollup stored",
		"tier", tier.String(),
		"window_start", start,
		"count", saved.Count,
		"avg_temp", saved.Temperature.Avg,
		"avg_humidity", saved.Humidity.Avg,
	)
	return &saved, nil
}

func (r *Roller) fail(tier types.Tier, start time.Time, err error) error {
	r.metrics.RollupRuns.WithLabelValues(tier.String(), "error").Inc()
	r.logger.Error("rollup failed", "tier", tier.String(), "window_start", start, "error", err)
	return fmt.Errorf("%s rollup: %w", tier, err)
}
