package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"climatelog/internal/modules/climate/router"
	"climatelog/internal/modules/climate/types"
)

// Querier answers the read side of the API.
type Querier interface {
	Rows(ctx context.Context, start, end time.Time) (router.Result, error)
	Stats(ctx context.Context, start, end time.Time) (types.Stats, bool, error)
	Latest(ctx context.Context) (*types.RawReading, error)
}

type ClimateController interface {
	RegisterRoutes(mux *http.ServeMux)
}

type climateControllerImpl struct {
	querier Querier
	loc     *time.Location
	logger  *slog.Logger
}

// NewClimateController reads zone-less query datetimes in loc (UTC when nil).
func NewClimateController(querier Querier, loc *time.Location, logger *slog.Logger) ClimateController {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &climateControllerImpl{querier: querier, loc: loc, logger: logger}
}

func (c *climateControllerImpl) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/data", c.handleData)
	mux.HandleFunc("GET /api/data/latest", c.handleLatest)
	mux.HandleFunc("GET /api/data/stats", c.handleStats)
}
