package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Tier is one of the three resolution levels readings are kept at.
type Tier int

const (
	TierRaw Tier = iota
	TierHourly
	TierDaily
)

func (t Tier) String() string {
	switch t {
	case TierRaw:
		return "raw"
	case TierHourly:
		return "hourly"
	case TierDaily:
		return "daily"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}

// Window returns the width of one summary row for the tier (zero for raw).
func (t Tier) Window() time.Duration {
	switch t {
	case TierHourly:
		return time.Hour
	case TierDaily:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Message is the inbound sensor payload. Fields stay raw so the listener can
// tell absent from null and coerce numeric strings.
type Message struct {
	Temperature json.RawMessage `json:"temperature"`
	Humidity    json.RawMessage `json:"humidity"`
	Timestamp   json.RawMessage `json:"timestamp,omitempty"`
}

type RawReading struct {
	ID          int64     `json:"id"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Timestamp   time.Time `json:"timestamp"`
}

type FieldStats struct {
	Avg float64 `json:"avg"`
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Summary is one hourly or daily rollup row.
type Summary struct {
	ID          int64
	Temperature FieldStats
	Humidity    FieldStats
	WindowStart time.Time
	Count       int64
}

type HourlyRow struct {
	ID          int64      `json:"id"`
	Temperature FieldStats `json:"temperature"`
	Humidity    FieldStats `json:"humidity"`
	Timestamp   time.Time  `json:"timestamp"`
	Count       int64      `json:"count"`
}

type DailyRow struct {
	ID          int64      `json:"id"`
	Temperature FieldStats `json:"temperature"`
	Humidity    FieldStats `json:"humidity"`
	Date        time.Time  `json:"date"`
	Count       int64      `json:"count"`
}

func (s Summary) HourlyRow() HourlyRow {
	return HourlyRow{ID: s.ID, Temperature: s.Temperature, Humidity: s.Humidity, Timestamp: s.WindowStart, Count: s.Count}
}

func (s Summary) DailyRow() DailyRow {
	return DailyRow{ID: s.ID, Temperature: s.Temperature, Humidity: s.Humidity, Date: s.WindowStart, Count: s.Count}
}

// Stats is a grouped summary over a range. Count is the number of raw
// readings represented, so for summary tiers it is the sum of row counts.
type Stats struct {
	AvgTemp     float64 `json:"avgTemp"`
	MinTemp     float64 `json:"minTemp"`
	MaxTemp     float64 `json:"maxTemp"`
	AvgHumidity float64 `json:"avgHumidity"`
	MinHumidity float64 `json:"minHumidity"`
	MaxHumidity float64 `json:"maxHumidity"`
	Count       int64   `json:"count"`
}

func (s Stats) Empty() bool {
	return s.Count == 0
}

// Summary turns range stats into a rollup row for the window starting at windowStart.
func (s Stats) Summary(windowStart time.Time) Summary {
	return Summary{
		Temperature: FieldStats{Avg: s.AvgTemp, Min: s.MinTemp, Max: s.MaxTemp},
		Humidity:    FieldStats{Avg: s.AvgHumidity, Min: s.MinHumidity, Max: s.MaxHumidity},
		WindowStart: windowStart,
		Count:       s.Count,
	}
}
