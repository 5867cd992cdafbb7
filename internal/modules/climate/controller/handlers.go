package controller

import (
	"errors"
	"net/http"

	"climatelog/internal/modules/climate/router"
	"climatelog/internal/modules/climate/types"
	"climatelog/internal/utils"
)

// resolutionHeader tells clients which tier answered a range query.
const resolutionHeader = "X-Data-Resolution"

func (c *climateControllerImpl) handleData(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseRange(r, c.loc)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := c.querier.Rows(r.Context(), start, end)
	if err != nil {
		c.writeQueryError(w, "data query failed", err)
		return
	}

	w.Header().Set(resolutionHeader, res.Tier.String())
	switch res.Tier {
	case types.TierRaw:
		utils.WriteJSON(w, http.StatusOK, nonNil(res.Raw))
	case types.TierHourly:
		utils.WriteJSON(w, http.StatusOK, nonNil(res.Hourly))
	default:
		utils.WriteJSON(w, http.StatusOK, nonNil(res.Daily))
	}
}

func (c *climateControllerImpl) handleLatest(w http.ResponseWriter, r *http.Request) {
	latest, err := c.querier.Latest(r.Context())
	if err != nil {
		c.writeQueryError(w, "latest query failed", err)
		return
	}
	if latest == nil {
		utils.WriteJSON(w, http.StatusOK, nil)
		return
	}
	utils.WriteJSON(w, http.StatusOK, latest)
}

func (c *climateControllerImpl) handleStats(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseRange(r, c.loc)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, ok, err := c.querier.Stats(r.Context(), start, end)
	if err != nil {
		c.writeQueryError(w, "stats query failed", err)
		return
	}

	w.Header().Set(resolutionHeader, router.SelectTier(start, end).String())
	if !ok {
		utils.WriteJSON(w, http.StatusOK, struct{}{})
		return
	}
	utils.WriteJSON(w, http.StatusOK, stats)
}

func (c *climateControllerImpl) writeQueryError(w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, router.ErrInvalidRange) {
		utils.WriteError(w, http.StatusBadRequest, router.ErrInvalidRange.Error())
		return
	}
	utils.WriteServerError(w, c.logger, msg, err)
}

func nonNil[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	return rows
}
