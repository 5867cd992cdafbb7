package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"climatelog/internal/config"
	"climatelog/internal/metrics"
)

// NewMux serves /healthz and /metrics; feature modules add their own routes.
// broker may be nil when the process runs without a subscriber.
func NewMux(store, broker Checker, m *metrics.Registry, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	registerHealthcheck(mux, store, broker, logger)
	mux.Handle("GET /metrics", m.Handler())
	return mux
}

func NewServer(cfg config.Config, mux *http.ServeMux, m *metrics.Registry, logger *slog.Logger) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           corsHandler(requestLogger(mux, logger, m), cfg.CORSAllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
