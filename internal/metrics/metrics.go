// Package metrics holds the prometheus collectors for ingestion, rollups and
// the HTTP API. Collectors live on a private registry so tests can build as
// many as they like.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "climatelog"

type Registry struct {
	reg *prometheus.Registry

	MessagesReceived prometheus.Counter
	MessagesStored   prometheus.Counter
	MessagesDropped  *prometheus.CounterVec
	RawEvicted       prometheus.Counter
	RollupRuns       *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	SQLStatements    *prometheus.HistogramVec
}

func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "messages_received_total",
			Help:      "Messages delivered by the broker.",
		}),
		MessagesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "messages_stored_total",
			Help:      "Messages persisted as raw readings.",
		}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "messages_dropped_total",
			Help:      "Messages dropped before or during storage, by reason.",
		}, []string{"reason"}),
		RawEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "raw",
			Name:      "evicted_total",
			Help:      "Raw readings removed to keep the raw tier within its ceilings.",
		}),
		RollupRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rollup",
			Name:      "runs_total",
			Help:      "Rollup job runs by tier and result (inserted, empty, error).",
		}, []string{"tier", "result"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "status_code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Time (in seconds) spent serving HTTP requests.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method", "status_code"}),
		SQLStatements: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sql",
			Name:      "statement_duration_seconds",
			Help:      "Time spent in sqlite statements and transactions, by op and result.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .25, .5, 1},
		}, []string{"op", "result"}),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.MessagesReceived,
		r.MessagesStored,
		r.MessagesDropped,
		r.RawEvicted,
		r.RollupRuns,
		r.HTTPRequests,
		r.HTTPDuration,
		r.SQLStatements,
	)
	return r
}

// Gatherer exposes the underlying registry, mostly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
