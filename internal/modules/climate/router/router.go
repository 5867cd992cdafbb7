// Package router picks the storage tier that answers a time-range query and
// runs the query against it.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"climatelog/internal/modules/climate/types"
)

const (
	// RawMaxRange is the widest range still answered from raw readings.
	RawMaxRange = 24 * time.Hour
	// HourlyMaxRange is the widest range still answered from hourly summaries.
	HourlyMaxRange = 7 * 24 * time.Hour
)

// ErrInvalidRange is returned when start is after end.
var ErrInvalidRange = errors.New("start must not be after end")

type Store interface {
	FindRaw(ctx context.Context, from, until time.Time) ([]types.RawReading, error)
	LatestRaw(ctx context.Context) (*types.RawReading, error)
	AggregateRaw(ctx context.Context, from, until time.Time) (types.Stats, error)
	FindSummaries(ctx context.Context, tier types.Tier, from, until time.Time) ([]types.Summary, error)
	AggregateSummaries(ctx context.Context, tier types.Tier, from, until time.Time) (types.Stats, error)
}

// SelectTier maps the width of [start, end] to the tier that serves it.
// Boundaries are inclusive: exactly 24h is raw, exactly 7d is hourly.
func SelectTier(start, end time.Time) types.Tier {
	span := end.Sub(start)
	switch {
	case span <= RawMaxRange:
		return types.TierRaw
	case span <= HourlyMaxRange:
		return types.TierHourly
	default:
		return types.TierDaily
	}
}

type Router struct {
	store Store
}

func New(store Store) *Router {
	return &Router{store: store}
}

// Result holds the rows of exactly one tier; the others are nil.
type Result struct {
	Tier   types.Tier
	Raw    []types.RawReading
	Hourly []types.HourlyRow
	Daily  []types.DailyRow
}

// Rows returns the records of the selected tier whose time lies in [start, end],
// ordered by time ascending.
func (r *Router) Rows(ctx context.Context, start, end time.Time) (Result, error) {
	if err := validate(start, end); err != nil {
		return Result{}, err
	}
	from, until := bounds(start, end)
	tier := SelectTier(start, end)

	switch tier {
	case types.TierRaw:
		rows, err := r.store.FindRaw(ctx, from, until)
		if err != nil {
			return Result{}, fmt.Errorf("find raw readings: %w", err)
		}
		return Result{Tier: tier, Raw: rows}, nil
	case types.TierHourly:
		rows, err := r.store.FindSummaries(ctx, tier, from, until)
		if err != nil {
			return Result{}, fmt.Errorf("find hourly summaries: %w", err)
		}
		out := make([]types.HourlyRow, 0, len(rows))
		for _, s := range rows {
			out = append(out, s.HourlyRow())
		}
		return Result{Tier: tier, Hourly: out}, nil
	default:
		rows, err := r.store.FindSummaries(ctx, tier, from, until)
		if err != nil {
			return Result{}, fmt.Errorf("find daily summaries: %w", err)
		}
		out := make([]types.DailyRow, 0, len(rows))
		for _, s := range rows {
			out = append(out, s.DailyRow())
		}
		return Result{Tier: tier, Daily: out}, nil
	}
}

// Stats groups the same tier and range Rows would return. ok is false when
// nothing matched.
func (r *Router) Stats(ctx context.Context, start, end time.Time) (types.Stats, bool, error) {
	if err := validate(start, end); err != nil {
		return types.Stats{}, false, err
	}
	from, until := bounds(start, end)
	tier := SelectTier(start, end)

	var (
		stats types.Stats
		err   error
	)
	if tier == types.TierRaw {
		stats, err = r.store.AggregateRaw(ctx, from, until)
	} else {
		stats, err = r.store.AggregateSummaries(ctx, tier, from, until)
	}
	if err != nil {
		return types.Stats{}, false, fmt.Errorf("aggregate %s tier: %w", tier, err)
	}
	return stats, !stats.Empty(), nil
}

// Latest returns the newest raw reading, or nil when there is none.
func (r *Router) Latest(ctx context.Context) (*types.RawReading, error) {
	rec, err := r.store.LatestRaw(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest raw reading: %w", err)
	}
	return rec, nil
}

func validate(start, end time.Time) error {
	if start.After(end) {
		return fmt.Errorf("%w: start=%s end=%s", ErrInvalidRange, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return nil
}

// bounds turns the inclusive [start, end] into the store's half-open form.
// Stored times have millisecond precision.
func bounds(start, end time.Time) (time.Time, time.Time) {
	from := start.Truncate(time.Millisecond)
	if from.Before(start) {
		from = from.Add(time.Millisecond)
	}
	return from, end.Truncate(time.Millisecond).Add(time.Millisecond)
}
