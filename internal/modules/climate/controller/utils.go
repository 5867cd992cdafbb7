package controller

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// dateLayouts are tried in order; RFC3339Nano also accepts values without
// fractional seconds. Only the zone-less datetime is wall time in loc; a bare
// date is UTC midnight.
var dateLayouts = []struct {
	layout string
	local  bool
}{
	{layout: time.RFC3339Nano},
	{layout: "2006-01-02T15:04:05", local: true},
	{layout: "2006-01-02"},
}

func parseDate(name, s string, loc *time.Location) (time.Time, error) {
	// An unescaped "+" offset arrives as a space after query decoding.
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "+")
	for _, l := range dateLayouts {
		zone := time.UTC
		if l.local && loc != nil {
			zone = loc
		}
		if t, err := time.ParseInLocation(l.layout, s, zone); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid '%s' (expected RFC3339 or YYYY-MM-DD)", name)
}

// parseRange reads the required start and end query parameters.
func parseRange(r *http.Request, loc *time.Location) (start time.Time, end time.Time, err error) {
	q := r.URL.Query()
	startStr, endStr := q.Get("start"), q.Get("end")
	if strings.TrimSpace(startStr) == "" || strings.TrimSpace(endStr) == "" {
		return time.Time{}, time.Time{}, errors.New("start and end query parameters are required")
	}

	start, err = parseDate("start", startStr, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err = parseDate("end", endStr, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, errors.New("'start' must be <= 'end'")
	}
	return start, end, nil
}
