package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"climatelog/internal/metrics"
	"climatelog/internal/modules/climate/repository"
	"climatelog/internal/modules/climate/types"
)

// ErrValidation marks a payload that can never be stored. Such messages are
// logged and dropped; nothing retries them.
var ErrValidation = errors.New("invalid reading")

// ErrNotReady is returned when the store cannot accept writes right now.
var ErrNotReady = errors.New("store not ready")

type RawStore interface {
	InsertRaw(ctx context.Context, r types.RawReading) (repository.InsertResult, error)
}

// Readiness reports whether the store connection is usable.
type Readiness interface {
	Ready(ctx context.Context) error
}

type Listener struct {
	store   RawStore
	ready   Readiness
	clock   clockwork.Clock
	loc     *time.Location
	logger  *slog.Logger
	metrics *metrics.Registry
}

// NewListener reads zone-less timestamps in loc (UTC when nil).
func NewListener(store RawStore, ready Readiness, clock clockwork.Clock, loc *time.Location, logger *slog.Logger, m *metrics.Registry) *Listener {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Listener{store: store, ready: ready, clock: clock, loc: loc, logger: logger, metrics: m}
}

// HandleMessage turns one broker message into one raw reading. The returned
// error is for the caller's information only; the listener has already
// logged it and the message is not redelivered.
func (l *Listener) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	l.metrics.MessagesReceived.Inc()
	now := l.clock.Now().In(l.loc)

	parsed, err := Parse(payload, now)
	if err != nil {
		l.metrics.MessagesDropped.WithLabelValues("validation").Inc()
		l.logger.Warn("dropping invalid reading", "topic", topic, "payload", string(payload), "error", err)
		return err
	}
	if parsed.TimestampErr != nil {
		l.logger.Warn("unparsable timestamp, using ingestion time",
			"topic", topic,
			"error", parsed.TimestampErr,
			"ingested_at", now,
		)
	}

	if l.ready != nil {
		if err := l.ready.Ready(ctx); err != nil {
			l.metrics.MessagesDropped.WithLabelValues("not_ready").Inc()
			l.logger.Warn("store not ready, skipping reading", "topic", topic, "error", err)
			return fmt.Errorf("%w: %v", ErrNotReady, err)
		}
	}

	res, err := l.store.InsertRaw(ctx, parsed.Reading)
	if err != nil {
		l.metrics.MessagesDropped.WithLabelValues("store").Inc()
		l.logger.Error("failed to store reading", "topic", topic, "error", err)
		return fmt.Errorf("store reading: %w", err)
	}

	l.metrics.MessagesStored.Inc()
	if res.Evicted > 0 {
		l.metrics.RawEvicted.Add(float64(res.Evicted))
	}
	l.logger.Debug("stored reading",
		"id", res.Reading.ID,
		"temperature", res.Reading.Temperature,
		"humidity", res.Reading.Humidity,
		"timestamp", res.Reading.Timestamp,
		"evicted", res.Evicted,
	)
	return nil
}

// Parsed is a decoded payload. TimestampErr is set when a timestamp was
// present but unusable; Reading then carries the ingestion time instead.
type Parsed struct {
	Reading      types.RawReading
	TimestampErr error
}

// Parse decodes a payload. A timestamp without a zone is read in now's location.
func Parse(payload []byte, now time.Time) (Parsed, error) {
	var msg types.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Parsed{}, fmt.Errorf("%w: decode payload: %v", ErrValidation, err)
	}

	temp, err := parseNumber("temperature", msg.Temperature)
	if err != nil {
		return Parsed{}, err
	}
	hum, err := parseNumber("humidity", msg.Humidity)
	if err != nil {
		return Parsed{}, err
	}

	out := Parsed{Reading: types.RawReading{Temperature: temp, Humidity: hum, Timestamp: now}}
	ts, ok, tsErr := parseTimestamp(msg.Timestamp, now.Location())
	if ok {
		out.Reading.Timestamp = ts
	}
	out.TimestampErr = tsErr
	return out, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// parseNumber accepts a JSON number or a string holding one.
func parseNumber(field string, raw json.RawMessage) (float64, error) {
	if isNull(raw) {
		return 0, fmt.Errorf("%w: %s is required", ErrValidation, field)
	}

	var v float64
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("%w: %s: %v", ErrValidation, field, err)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s %q is not a number", ErrValidation, field, s)
		}
		v = f
	} else if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("%w: %s is not a number: %s", ErrValidation, field, raw)
	}

	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s must be finite", ErrValidation, field)
	}
	return v, nil
}

// Offsets and date-only values are absolute; a date-time without a zone is
// wall time in the listener's location.
var timestampLayouts = []struct {
	layout string
	local  bool
}{
	{layout: time.RFC3339Nano},
	{layout: "2006-01-02T15:04:05", local: true},
	{layout: "2006-01-02"},
}

// Stored readings must encode as RFC 3339, which only covers years 0000-9999.
var (
	minTimestamp = time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC)
	maxTimestamp = time.Date(9999, 12, 31, 23, 59, 59, 999e6, time.UTC)
)

func checkRange(t time.Time) (time.Time, bool, error) {
	if t.Before(minTimestamp) || t.After(maxTimestamp) {
		return time.Time{}, false, fmt.Errorf("timestamp %s is outside years 0000-9999", t.Format(time.RFC3339))
	}
	return t.UTC(), true, nil
}

// parseTimestamp reports ok=false with a nil error when no timestamp was sent.
func parseTimestamp(raw json.RawMessage, loc *time.Location) (time.Time, bool, error) {
	if isNull(raw) {
		return time.Time{}, false, nil
	}

	if raw[0] != '"' {
		var ms float64
		if err := json.Unmarshal(raw, &ms); err != nil || math.IsNaN(ms) || math.IsInf(ms, 0) {
			return time.Time{}, false, fmt.Errorf("timestamp %s is neither a date string nor epoch milliseconds", raw)
		}
		if ms < float64(minTimestamp.UnixMilli()) || ms > float64(maxTimestamp.UnixMilli()) {
			return time.Time{}, false, fmt.Errorf("timestamp %s is outside years 0000-9999", raw)
		}
		return time.UnixMilli(int64(ms)).UTC(), true, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, false, fmt.Errorf("timestamp: %w", err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false, nil
	}
	for _, l := range timestampLayouts {
		zone := time.UTC
		if l.local {
			zone = loc
		}
		if t, err := time.ParseInLocation(l.layout, s, zone); err == nil {
			return checkRange(t)
		}
	}
	return time.Time{}, false, fmt.Errorf("timestamp %q is not RFC 3339 or YYYY-MM-DD", s)
}
