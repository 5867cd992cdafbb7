package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"climatelog/internal/modules/climate/types"
)

//go:embed sql/insert-raw.sql
var insertRawSQL string

//go:embed sql/evict-raw.sql
var evictRawSQL string

//go:embed sql/find-raw.sql
var findRawSQL string

//go:embed sql/latest-raw.sql
var latestRawSQL string

//go:embed sql/aggregate-raw.sql
var aggregateRawSQL string

//go:embed sql/count-raw.sql
var countRawSQL string

//go:embed sql/insert-hourly.sql
var insertHourlySQL string

//go:embed sql/find-hourly.sql
var findHourlySQL string

//go:embed sql/aggregate-hourly.sql
var aggregateHourlySQL string

//go:embed sql/insert-daily.sql
var insertDailySQL string

//go:embed sql/find-daily.sql
var findDailySQL string

//go:embed sql/aggregate-daily.sql
var aggregateDailySQL string

type summaryQueries struct {
	insert    string
	find      string
	aggregate string
}

var summaryTiers = map[types.Tier]summaryQueries{
	types.TierHourly: {insert: insertHourlySQL, find: findHourlySQL, aggregate: aggregateHourlySQL},
	types.TierDaily:  {insert: insertDailySQL, find: findDailySQL, aggregate: aggregateDailySQL},
}

// Limits bounds the raw tier. The first ceiling reached evicts the oldest rows.
type Limits struct {
	MaxRows  int
	MaxBytes int64
}

// InsertResult reports the stored reading and how many old rows made room for it.
type InsertResult struct {
	Reading types.RawReading
	Evicted int64
}

// ClimateRepository persists the three tiers. All ranges are half-open: [from, until).
type ClimateRepository interface {
	Ready(ctx context.Context) error

	InsertRaw(ctx context.Context, r types.RawReading) (InsertResult, error)
	FindRaw(ctx context.Context, from, until time.Time) ([]types.RawReading, error)
	LatestRaw(ctx context.Context) (*types.RawReading, error)
	AggregateRaw(ctx context.Context, from, until time.Time) (types.Stats, error)
	CountRaw(ctx context.Context) (rows int, bytes int64, err error)

	InsertSummary(ctx context.Context, tier types.Tier, s types.Summary) (types.Summary, error)
	FindSummaries(ctx context.Context, tier types.Tier, from, until time.Time) ([]types.Summary, error)
	AggregateSummaries(ctx context.Context, tier types.Tier, from, until time.Time) (types.Stats, error)
}

type repositoryImpl struct {
	db     *sql.DB
	limits Limits
}

func NewRepository(db *sql.DB, limits Limits) ClimateRepository {
	return &repositoryImpl{db: db, limits: limits}
}

// Ready reports whether the store can currently accept reads and writes.
func (r *repositoryImpl) Ready(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store not ready: %w", err)
	}
	return nil
}

// DocumentSize is the byte size a raw reading counts against Limits.MaxBytes:
// the length of its JSON document. Readings that cannot be encoded (years
// outside 0000-9999) are an error rather than a free row.
func DocumentSize(rec types.RawReading) (int64, error) {
	doc := struct {
		Temperature float64   `json:"temperature"`
		Humidity    float64   `json:"humidity"`
		Timestamp   time.Time `json:"timestamp"`
	}{rec.Temperature, rec.Humidity, rec.Timestamp.UTC()}
	b, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("encode raw reading: %w", err)
	}
	return int64(len(b)), nil
}

func (r *repositoryImpl) InsertRaw(ctx context.Context, rec types.RawReading) (InsertResult, error) {
	// Charge the row for the document as stored, at millisecond precision.
	rec.Timestamp = rec.Timestamp.UTC().Truncate(time.Millisecond)
	size, err := DocumentSize(rec)
	if err != nil {
		return InsertResult{}, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return InsertResult{}, fmt.Errorf("begin raw insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, insertRawSQL, rec.Temperature, rec.Humidity, rec.Timestamp.UnixMilli(), size)
	if err != nil {
		return InsertResult{}, fmt.Errorf("insert raw reading: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return InsertResult{}, fmt.Errorf("raw reading id: %w", err)
	}

	evictRes, err := tx.ExecContext(ctx, evictRawSQL, r.limits.MaxRows, r.limits.MaxBytes)
	if err != nil {
		return InsertResult{}, fmt.Errorf("evict raw readings: %w", err)
	}
	evicted, err := evictRes.RowsAffected()
	if err != nil {
		return InsertResult{}, fmt.Errorf("evicted rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return InsertResult{}, fmt.Errorf("commit raw insert: %w", err)
	}

	rec.ID = id
	return InsertResult{Reading: rec, Evicted: evicted}, nil
}

func (r *repositoryImpl) FindRaw(ctx context.Context, from, until time.Time) ([]types.RawReading, error) {
	rows, err := r.db.QueryContext(ctx, findRawSQL, from.UnixMilli(), until.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close raw rows", "error", err)
		}
	}()

	out := []types.RawReading{}
	for rows.Next() {
		rec, err := scanRaw(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *repositoryImpl) LatestRaw(ctx context.Context) (*types.RawReading, error) {
	rec, err := scanRaw(r.db.QueryRowContext(ctx, latestRawSQL))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *repositoryImpl) AggregateRaw(ctx context.Context, from, until time.Time) (types.Stats, error) {
	return scanStats(r.db.QueryRowContext(ctx, aggregateRawSQL, from.UnixMilli(), until.UnixMilli()))
}

func (r *repositoryImpl) CountRaw(ctx context.Context) (int, int64, error) {
	var (
		n     int
		bytes int64
	)
	err := r.db.QueryRowContext(ctx, countRawSQL).Scan(&n, &bytes)
	return n, bytes, err
}

func (r *repositoryImpl) InsertSummary(ctx context.Context, tier types.Tier, s types.Summary) (types.Summary, error) {
	q, err := queriesFor(tier)
	if err != nil {
		return types.Summary{}, err
	}
	if s.Count < 1 {
		return types.Summary{}, fmt.Errorf("insert %s summary: count must be >= 1, got %d", tier, s.Count)
	}

	start := s.WindowStart.UTC().Truncate(time.Millisecond)
	res, err := r.db.ExecContext(ctx, q.insert,
		start.UnixMilli(),
		s.Temperature.Avg, s.Temperature.Min, s.Temperature.Max,
		s.Humidity.Avg, s.Humidity.Min, s.Humidity.Max,
		s.Count,
	)
	if err != nil {
		return types.Summary{}, fmt.Errorf("insert %s summary: %w", tier, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return types.Summary{}, fmt.Errorf("%s summary id: %w", tier, err)
	}
	s.ID = id
	s.WindowStart = start
	return s, nil
}

func (r *repositoryImpl) FindSummaries(ctx context.Context, tier types.Tier, from, until time.Time) ([]types.Summary, error) {
	q, err := queriesFor(tier)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, q.find, from.UnixMilli(), until.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close summary rows", "tier", tier.String(), "error", err)
		}
	}()

	out := []types.Summary{}
	for rows.Next() {
		var (
			s       types.Summary
			startMs int64
		)
		if err := rows.Scan(&s.ID, &startMs,
			&s.Temperature.Avg, &s.Temperature.Min, &s.Temperature.Max,
			&s.Humidity.Avg, &s.Humidity.Min, &s.Humidity.Max,
			&s.Count,
		); err != nil {
			return nil, err
		}
		s.WindowStart = time.UnixMilli(startMs).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *repositoryImpl) AggregateSummaries(ctx context.Context, tier types.Tier, from, until time.Time) (types.Stats, error) {
	q, err := queriesFor(tier)
	if err != nil {
		return types.Stats{}, err
	}
	return scanStats(r.db.QueryRowContext(ctx, q.aggregate, from.UnixMilli(), until.UnixMilli()))
}

func queriesFor(tier types.Tier) (summaryQueries, error) {
	q, ok := summaryTiers[tier]
	if !ok {
		return summaryQueries{}, fmt.Errorf("no summary table for tier %s", tier)
	}
	return q, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRaw(s scanner) (types.RawReading, error) {
	var (
		rec  types.RawReading
		tsMs int64
	)
	if err := s.Scan(&rec.ID, &rec.Temperature, &rec.Humidity, &tsMs); err != nil {
		return types.RawReading{}, err
	}
	rec.Timestamp = time.UnixMilli(tsMs).UTC()
	return rec, nil
}

// scanStats reads a grouped aggregate row. Every aggregate column is NULL
// when nothing matched, which yields zero Stats.
func scanStats(row *sql.Row) (types.Stats, error) {
	var (
		count                          int64
		avgT, minT, maxT, avgH, minH, maxH sql.NullFloat64
	)
	if err := row.Scan(&count, &avgT, &minT, &maxT, &avgH, &minH, &maxH); err != nil {
		return types.Stats{}, err
	}
	if count == 0 {
		return types.Stats{}, nil
	}
	return types.Stats{
		AvgTemp:     avgT.Float64,
		MinTemp:     minT.Float64,
		MaxTemp:     maxT.Float64,
		AvgHumidity: avgH.Float64,
		MinHumidity: minH.Float64,
		MaxHumidity: maxH.Float64,
		Count:       count,
	}, nil
}
