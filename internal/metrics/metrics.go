// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "route", "status"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "route", "status"},
	)

	// RecordWrites counts store writes by collection, operation and result.
	RecordWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "frota_record_writes_total", Help: "Record writes by collection, operation and result."},
		[]string{"collection", "op", "result"},
	)
	// Completions counts trip and rental completions by mode (atomic or
	// two_step) and result.
	Completions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "frota_completions_total", Help: "Trip and rental completions."},
		[]string{"collection", "mode", "result"},
	)
	Events = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "frota_events_total", Help: "Lifecycle events published or consumed, by result."},
		[]string{"event_type", "result"},
	)
	LedgerRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "frota_ledger_rows_total", Help: "Rows appended to the spreadsheet ledger."},
		[]string{"sheet", "result"},
	)
	LiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "frota_live_sessions", Help: "Open live dashboard sessions."},
	)
	RateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "frota_rate_limited_total", Help: "Requests rejected by the rate limiter."},
	)
	SuspiciousRequests = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "frota_suspicious_requests_total", Help: "Requests matching attack patterns."},
	)
)

var regOnce sync.Once

// RegisterDefault registers every collector on Registry once.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests, HTTPDuration)
		Registry.MustRegister(RecordWrites, Completions, Events, LedgerRows, LiveSessions, RateLimited, SuspiciousRequests)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

func Handler() http.Handler {
	RegisterDefault()
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// Result maps an error onto the result label.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
