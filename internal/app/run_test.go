package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"climatelog/internal/config"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()
	return ln.Addr().String()
}

func TestRun_ServesWithoutBrokerAndStopsOnCancel(t *testing.T) {
	cfg := config.Config{
		AppEnv:               "dev",
		LogLevel:             slog.LevelInfo,
		HTTPAddr:             freeAddr(t),
		SQLiteDriver:         "sqlite3",
		SQLiteDSN:            ":memory:",
		SQLiteMaxOpenConns:   1,
		SQLiteMaxIdleConns:   1,
		MQTTBroker:           "127.0.0.1",
		MQTTPort:             1,
		MQTTClientID:         "climatelog-app-test",
		MQTTTopic:            "sensors/climate",
		RawMaxRows:           100,
		RawMaxBytes:          1 << 20,
		RollupLocation:       time.UTC,
		RollupHourlyInterval: time.Hour,
		RollupDailyInterval:  24 * time.Hour,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg, logger) }()

	client := &http.Client{Timeout: time.Second}
	var health map[string]string
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := client.Get("http://" + cfg.HTTPAddr + "/healthz")
		if err == nil {
			decodeErr := json.NewDecoder(resp.Body).Decode(&health)
			_ = resp.Body.Close()
			if decodeErr == nil && resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("server not healthy: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}
	if health["store"] != "ok" || health["broker"] != "disconnected" {
		t.Errorf("health = %v", health)
	}

	resp, err := client.Get("http://" + cfg.HTTPAddr + "/api/data/latest")
	if err != nil {
		t.Fatalf("GET latest: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "null\n" {
		t.Errorf("latest = %d %q, want 200 null", resp.StatusCode, body)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
