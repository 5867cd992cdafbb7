package rollup

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"math"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"climatelog/internal/metrics"
	"climatelog/internal/migrate"
	"climatelog/internal/modules/climate/repository"
	"climatelog/internal/modules/climate/types"
)

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

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func insertRaw(t *testing.T, repo repository.ClimateRepository, temp, hum float64, ts time.Time) {
	t.Helper()
	if _, err := repo.InsertRaw(context.Background(), types.RawReading{Temperature: temp, Humidity: hum, Timestamp: ts}); err != nil {
		t.Fatalf("InsertRaw: %v", err)
	}
}

func TestHourWindow(t *testing.T) {
	warsaw, err := time.LoadLocation("Europe/Warsaw")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	kolkata, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}

	tests := []struct {
		name      string
		now       time.Time
		loc       *time.Location
		wantStart time.Time
	}{
		{
			name:      "utc",
			now:       time.Date(2024, 3, 10, 14, 37, 12, 5, time.UTC),
			loc:       time.UTC,
			wantStart: time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC),
		},
		{
			name:      "exact hour",
			now:       time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC),
			loc:       time.UTC,
			wantStart: time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC),
		},
		{
			name:      "half hour offset zone",
			now:       time.Date(2024, 3, 10, 14, 10, 0, 0, time.UTC),
			loc:       kolkata,
			wantStart: time.Date(2024, 3, 10, 19, 0, 0, 0, kolkata),
		},
		{
			name:      "local zone",
			now:       time.Date(2024, 7, 1, 22, 15, 0, 0, time.UTC),
			loc:       warsaw,
			wantStart: time.Date(2024, 7, 2, 0, 0, 0, 0, warsaw),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := HourWindow(tt.now, tt.loc)
			if !start.Equal(tt.wantStart) {
				t.Errorf("start = %v, want %v", start, tt.wantStart)
			}
			if end.Sub(start) != time.Hour {
				t.Errorf("window = %v, want 1h", end.Sub(start))
			}
		})
	}
}

func TestDayWindow(t *testing.T) {
	warsaw, err := time.LoadLocation("Europe/Warsaw")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}

	start, end := DayWindow(time.Date(2024, 7, 1, 23, 30, 0, 0, time.UTC), warsaw)
	if want := time.Date(2024, 7, 2, 0, 0, 0, 0, warsaw); !start.Equal(want) {
		t.Errorf("start = %v, want %v", start, want)
	}
	if end.Sub(start) != 24*time.Hour {
		t.Errorf("window = %v, want 24h", end.Sub(start))
	}

	start, _ = DayWindow(time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC), time.UTC)
	if want := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC); !start.Equal(want) {
		t.Errorf("utc start = %v, want %v", start, want)
	}
}

func TestRollupHourly_SummarizesCurrentHour(t *testing.T) {
	repo := setupRepo(t)
	hour := time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)
	insertRaw(t, repo, 20, 40, hour.Add(5*time.Minute))
	insertRaw(t, repo, 22, 50, hour.Add(25*time.Minute))
	insertRaw(t, repo, 24, 60, hour.Add(55*time.Minute))
	// Outside the window on both sides.
	insertRaw(t, repo, 99, 99, hour.Add(-time.Second))
	insertRaw(t, repo, 99, 99, hour.Add(time.Hour))

	r := NewRoller(repo, time.UTC, quietLogger(), metrics.New())
	got, err := r.RollupHourly(context.Background(), hour.Add(59*time.Minute))
	if err != nil {
		t.Fatalf("RollupHourly: %v", err)
	}
	if got == nil {
		t.Fatal("RollupHourly returned nil summary")
	}
	if got.Temperature.Avg != 22 || got.Temperature.Min != 20 || got.Temperature.Max != 24 {
		t.Errorf("temperature = %+v, want avg 22 min 20 max 24", got.Temperature)
	}
	if got.Humidity.Avg != 50 || got.Humidity.Min != 40 || got.Humidity.Max != 60 {
		t.Errorf("humidity = %+v, want avg 50 min 40 max 60", got.Humidity)
	}
	if got.Count != 3 {
		t.Errorf("count = %d, want 3", got.Count)
	}
	if !got.WindowStart.Equal(hour) {
		t.Errorf("window start = %v, want %v", got.WindowStart, hour)
	}

	rows, err := repo.FindSummaries(context.Background(), types.TierHourly, hour, hour.Add(time.Hour))
	if err != nil {
		t.Fatalf("FindSummaries: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("hourly rows = %d, want 1", len(rows))
	}
}

func TestRollupHourly_EmptyWindowWritesNothing(t *testing.T) {
	repo := setupRepo(t)
	hour := time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)
	insertRaw(t, repo, 20, 40, hour.Add(-30*time.Minute))

	r := NewRoller(repo, time.UTC, quietLogger(), metrics.New())
	got, err := r.RollupHourly(context.Background(), hour.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("RollupHourly: %v", err)
	}
	if got != nil {
		t.Fatalf("RollupHourly = %+v, want nil", got)
	}

	rows, err := repo.FindSummaries(context.Background(), types.TierHourly, hour.Add(-24*time.Hour), hour.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("FindSummaries: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("hourly rows = %d, want 0", len(rows))
	}
}

func TestRollupDaily_MeanOfHourlyMeans(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	hourly := []types.Summary{
		{Temperature: types.FieldStats{Avg: 18, Min: 15, Max: 21}, Humidity: types.FieldStats{Avg: 40, Min: 35, Max: 45}, WindowStart: day.Add(1 * time.Hour), Count: 10},
		{Temperature: types.FieldStats{Avg: 22, Min: 19, Max: 27}, Humidity: types.FieldStats{Avg: 60, Min: 55, Max: 70}, WindowStart: day.Add(13 * time.Hour), Count: 20},
		// Previous day; must not contribute.
		{Temperature: types.FieldStats{Avg: 0, Min: -10, Max: 50}, Humidity: types.FieldStats{Avg: 0, Min: 0, Max: 100}, WindowStart: day.Add(-time.Hour), Count: 7},
	}
	for _, s := range hourly {
		if _, err := repo.InsertSummary(ctx, types.TierHourly, s); err != nil {
			t.Fatalf("InsertSummary: %v", err)
		}
	}

	r := NewRoller(repo, time.UTC, quietLogger(), metrics.New())
	got, err := r.RollupDaily(ctx, day.Add(23*time.Hour+59*time.Minute))
	if err != nil {
		t.Fatalf("RollupDaily: %v", err)
	}
	if got == nil {
		t.Fatal("RollupDaily returned nil summary")
	}
	// Unweighted mean of hourly means, not count-weighted.
	if math.Abs(got.Temperature.Avg-20) > 1e-9 || math.Abs(got.Humidity.Avg-50) > 1e-9 {
		t.Errorf("avg temp/hum = %v/%v, want 20/50", got.Temperature.Avg, got.Humidity.Avg)
	}
	if got.Temperature.Min != 15 || got.Temperature.Max != 27 {
		t.Errorf("temperature min/max = %v/%v, want 15/27", got.Temperature.Min, got.Temperature.Max)
	}
	if got.Humidity.Min != 35 || got.Humidity.Max != 70 {
		t.Errorf("humidity min/max = %v/%v, want 35/70", got.Humidity.Min, got.Humidity.Max)
	}
	if got.Count != 30 {
		t.Errorf("count = %d, want 30", got.Count)
	}
	if !got.WindowStart.Equal(day) {
		t.Errorf("window start = %v, want %v", got.WindowStart, day)
	}
}

func TestRollupDaily_NoHourlyRows(t *testing.T) {
	r := NewRoller(setupRepo(t), time.UTC, quietLogger(), metrics.New())
	got, err := r.RollupDaily(context.Background(), time.Date(2024, 3, 10, 23, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("RollupDaily: %v", err)
	}
	if got != nil {
		t.Fatalf("RollupDaily = %+v, want nil", got)
	}
}

type failingStore struct{ err error }

func (f failingStore) AggregateRaw(context.Context, time.Time, time.Time) (types.Stats, error) {
	return types.Stats{}, f.err
}

func (f failingStore) AggregateSummaries(context.Context, types.Tier, time.Time, time.Time) (types.Stats, error) {
	return types.Stats{}, f.err
}

func (f failingStore) InsertSummary(context.Context, types.Tier, types.Summary) (types.Summary, error) {
	return types.Summary{}, f.err
}

func TestRollup_StoreErrorsAreReturned(t *testing.T) {
	storeErr := errors.New("database is locked")
	r := NewRoller(failingStore{err: storeErr}, time.UTC, quietLogger(), metrics.New())
	now := time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)

	if _, err := r.RollupHourly(context.Background(), now); !errors.Is(err, storeErr) {
		t.Errorf("RollupHourly error = %v, want wrapped store error", err)
	}
	if _, err := r.RollupDaily(context.Background(), now); !errors.Is(err, storeErr) {
		t.Errorf("RollupDaily error = %v, want wrapped store error", err)
	}
}
