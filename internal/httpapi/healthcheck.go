package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"climatelog/internal/utils"
)

// Checker reports whether a dependency is usable.
type Checker interface {
	Ready(ctx context.Context) error
}

type healthchecker struct {
	store  Checker
	broker Checker
	logger *slog.Logger
}

type healthStatus struct {
	Status string `json:"status"`
	Store  string `json:"store"`
	Broker string `json:"broker,omitempty"`
}

// handleHealthz fails only on the store. A disconnected broker is reported but
// the API keeps serving queries from what is already stored.
func (h *healthchecker) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := healthStatus{Status: "ok", Store: "ok"}
	if h.broker != nil {
		status.Broker = "connected"
		if err := h.broker.Ready(ctx); err != nil {
			status.Broker = "disconnected"
		}
	}

	if err := h.store.Ready(ctx); err != nil {
		h.logger.Error("failed to check database connectivity", "error", err)
		status.Status, status.Store = "unavailable", "unreachable"
		utils.WriteJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	utils.WriteJSON(w, http.StatusOK, status)
}

func registerHealthcheck(mux *http.ServeMux, store, broker Checker, logger *slog.Logger) {
	h := &healthchecker{store: store, broker: broker, logger: logger}
	mux.HandleFunc("GET /healthz", h.handleHealthz)
}
