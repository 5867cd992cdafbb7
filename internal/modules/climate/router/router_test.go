package router

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"climatelog/internal/migrate"
	"climatelog/internal/modules/climate/repository"
	"climatelog/internal/modules/climate/types"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func setupRepo(t *testing.T) repository.ClimateRepository {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	if err := migrate.Run(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repository.NewRepository(db, repository.Limits{MaxRows: 1000, MaxBytes: 1 << 20})
}

func TestSelectTier(t *testing.T) {
	tests := []struct {
		name string
		span time.Duration
		want types.Tier
	}{
		{name: "empty range", span: 0, want: types.TierRaw},
		{name: "12 hours", span: 12 * time.Hour, want: types.TierRaw},
		{name: "exactly 24 hours", span: 24 * time.Hour, want: types.TierRaw},
		{name: "just over 24 hours", span: 24*time.Hour + time.Millisecond, want: types.TierHourly},
		{name: "3 days", span: 3 * 24 * time.Hour, want: types.TierHourly},
		{name: "exactly 7 days", span: 7 * 24 * time.Hour, want: types.TierHourly},
		{name: "8 days", span: 8 * 24 * time.Hour, want: types.TierDaily},
		{name: "a year", span: 365 * 24 * time.Hour, want: types.TierDaily},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SelectTier(t0, t0.Add(tt.span)); got != tt.want {
				t.Errorf("SelectTier(%v) = %v, want %v", tt.span, got, tt.want)
			}
		})
	}
}

func TestRows_InvalidRange(t *testing.T) {
	r := New(setupRepo(t))
	if _, err := r.Rows(context.Background(), t0.Add(time.Hour), t0); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("Rows error = %v, want ErrInvalidRange", err)
	}
	if _, _, err := r.Stats(context.Background(), t0.Add(time.Hour), t0); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("Stats error = %v, want ErrInvalidRange", err)
	}
}

func TestRows_RawInclusiveBounds(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	for i, ts := range []time.Time{t0.Add(-time.Millisecond), t0, t0.Add(6 * time.Hour), t0.Add(12 * time.Hour), t0.Add(12*time.Hour + time.Millisecond)} {
		if _, err := repo.InsertRaw(ctx, types.RawReading{Temperature: float64(i), Humidity: 50, Timestamp: ts}); err != nil {
			t.Fatalf("InsertRaw: %v", err)
		}
	}

	got, err := New(repo).Rows(ctx, t0, t0.Add(12*time.Hour))
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	if got.Tier != types.TierRaw {
		t.Fatalf("tier = %v, want raw", got.Tier)
	}
	if len(got.Raw) != 3 {
		t.Fatalf("rows = %d, want 3 (both ends inclusive)", len(got.Raw))
	}
	for i, want := range []float64{1, 2, 3} {
		if got.Raw[i].Temperature != want {
			t.Errorf("row %d temperature = %v, want %v", i, got.Raw[i].Temperature, want)
		}
	}
}

func TestRows_HourlyAndDailyTiers(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	for _, tier := range []types.Tier{types.TierHourly, types.TierDaily} {
		for i := 0; i < 3; i++ {
			s := types.Summary{
				Temperature: types.FieldStats{Avg: float64(20 + i), Min: 10, Max: 30},
				Humidity:    types.FieldStats{Avg: 50, Min: 40, Max: 60},
				WindowStart: t0.Add(time.Duration(i) * 24 * time.Hour),
				Count:       int64(i + 1),
			}
			if _, err := repo.InsertSummary(ctx, tier, s); err != nil {
				t.Fatalf("InsertSummary: %v", err)
			}
		}
	}
	r := New(repo)

	hourly, err := r.Rows(ctx, t0, t0.Add(3*24*time.Hour))
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	if hourly.Tier != types.TierHourly || len(hourly.Hourly) != 3 || hourly.Raw != nil || hourly.Daily != nil {
		t.Fatalf("3d result = %+v, want 3 hourly rows only", hourly)
	}
	if !hourly.Hourly[0].Timestamp.Equal(t0) {
		t.Errorf("first hourly timestamp = %v, want %v", hourly.Hourly[0].Timestamp, t0)
	}

	daily, err := r.Rows(ctx, t0, t0.Add(30*24*time.Hour))
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	if daily.Tier != types.TierDaily || len(daily.Daily) != 3 {
		t.Fatalf("30d result = %+v, want 3 daily rows", daily)
	}
	if !daily.Daily[2].Date.Equal(t0.Add(48 * time.Hour)) {
		t.Errorf("last daily date = %v", daily.Daily[2].Date)
	}
}

func TestRows_EmptyTierIsNonNil(t *testing.T) {
	r := New(setupRepo(t))
	got, err := r.Rows(context.Background(), t0, t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	if got.Raw == nil || len(got.Raw) != 0 {
		t.Fatalf("Raw = %#v, want empty non-nil", got.Raw)
	}
}

func TestStats(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	r := New(repo)

	t.Run("empty", func(t *testing.T) {
		_, ok, err := r.Stats(ctx, t0, t0.Add(time.Hour))
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if ok {
			t.Fatal("Stats ok = true for empty range")
		}
	})

	t.Run("raw", func(t *testing.T) {
		for _, v := range []float64{20, 22, 24} {
			if _, err := repo.InsertRaw(ctx, types.RawReading{Temperature: v, Humidity: v * 2, Timestamp: t0.Add(time.Duration(v) * time.Minute)}); err != nil {
				t.Fatalf("InsertRaw: %v", err)
			}
		}
		got, ok, err := r.Stats(ctx, t0, t0.Add(time.Hour))
		if err != nil || !ok {
			t.Fatalf("Stats: ok=%v err=%v", ok, err)
		}
		if got.AvgTemp != 22 || got.MinTemp != 20 || got.MaxTemp != 24 || got.Count != 3 {
			t.Errorf("Stats = %+v", got)
		}
	})

	t.Run("long range uses daily tier", func(t *testing.T) {
		if _, err := repo.InsertSummary(ctx, types.TierDaily, types.Summary{
			Temperature: types.FieldStats{Avg: 5, Min: 1, Max: 9},
			Humidity:    types.FieldStats{Avg: 70, Min: 60, Max: 80},
			WindowStart: t0.Add(10 * 24 * time.Hour),
			Count:       100,
		}); err != nil {
			t.Fatalf("InsertSummary: %v", err)
		}
		got, ok, err := r.Stats(ctx, t0, t0.Add(30*24*time.Hour))
		if err != nil || !ok {
			t.Fatalf("Stats: ok=%v err=%v", ok, err)
		}
		// Raw readings in range are ignored at this resolution.
		if got.Count != 100 || got.AvgTemp != 5 {
			t.Errorf("Stats = %+v, want the daily row only", got)
		}
	})
}

func TestLatest(t *testing.T) {
	repo := setupRepo(t)
	r := New(repo)

	got, err := r.Latest(context.Background())
	if err != nil || got != nil {
		t.Fatalf("Latest on empty = (%v, %v), want (nil, nil)", got, err)
	}

	if _, err := repo.InsertRaw(context.Background(), types.RawReading{Temperature: 3, Humidity: 4, Timestamp: t0}); err != nil {
		t.Fatalf("InsertRaw: %v", err)
	}
	got, err = r.Latest(context.Background())
	if err != nil || got == nil || got.Temperature != 3 {
		t.Fatalf("Latest = (%+v, %v)", got, err)
	}
}
