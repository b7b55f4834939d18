// Package metrics defines the service's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector. Build one per registry with New.
type Metrics struct {
	// OpenCursors is the number of live paging cursors.
	OpenCursors prometheus.Gauge
	// CursorEvictions counts cursors closed by TTL expiry.
	CursorEvictions prometheus.Counter

	// Requests counts dispatcher operations by operation and outcome.
	Requests *prometheus.CounterVec
	// RequestDuration is the latency of dispatcher operations.
	RequestDuration *prometheus.HistogramVec
	// RowsReturned counts rows delivered to clients.
	RowsReturned prometheus.Counter
	// InFlight is the number of executing queries.
	InFlight prometheus.Gauge

	// HTTPRequests counts HTTP requests by method, route and status.
	HTTPRequests *prometheus.CounterVec

	// PolicyReloads counts policy reloads by outcome.
	PolicyReloads *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the collectors with reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		OpenCursors: f.NewGauge(prometheus.GaugeOpts{
			Name: "vectorgate_open_cursors",
			Help: "Number of open result cursors",
		}),
		CursorEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "vectorgate_cursor_evictions_total",
			Help: "Total number of cursors evicted after their idle TTL",
		}),
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vectorgate_requests_total",
			Help: "Total number of dispatcher operations",
		}, []string{"operation", "status"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vectorgate_request_duration_seconds",
			Help:    "Dispatcher operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		RowsReturned: f.NewCounter(prometheus.CounterOpts{
			Name: "vectorgate_rows_returned_total",
			Help: "Total number of rows returned to clients",
		}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "vectorgate_queries_in_flight",
			Help: "Number of queries currently executing",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vectorgate_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		PolicyReloads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vectorgate_policy_reloads_total",
			Help: "Total number of policy reloads",
		}, []string{"status"}),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
