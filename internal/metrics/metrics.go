// Package metrics exposes optimizer activity as Prometheus metrics.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/aristath/mktcalc/internal/modules/optimization"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the service's collectors on a private prometheus registry
type Registry struct {
	reg *prometheus.Registry

	Runs        *prometheus.CounterVec
	Duration    *prometheus.HistogramVec
	InputErrors *prometheus.CounterVec
	Timeouts    prometheus.Counter
	WSClients   prometheus.Gauge
	JournalRows prometheus.Gauge
}

// NewRegistry creates and registers every collector, plus the Go runtime and
// process collectors
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mktcalc_optimizer_runs_total",
				Help: "Total number of finished optimizations by status",
			},
			[]string{"status"},
		),

		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mktcalc_optimizer_solve_duration_seconds",
				Help:    "Wall time of finished optimizations in seconds",
				Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"status"},
		),

		InputErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mktcalc_optimizer_input_errors_total",
				Help: "Total number of rejected bundles by error code",
			},
			[]string{"code"},
		),

		Timeouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mktcalc_optimizer_timeouts_total",
				Help: "Total number of optimizations abandoned at the service deadline",
			},
		),

		WSClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mktcalc_ws_clients",
				Help: "Number of connected websocket clients",
			},
		),

		JournalRows: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mktcalc_journal_rows_deleted_last",
				Help: "Rows removed by the most recent journal retention run",
			},
		),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.Runs,
		r.Duration,
		r.InputErrors,
		r.Timeouts,
		r.WSClients,
		r.JournalRows,
	)

	return r
}

// ObserveRun records a finished optimization
func (r *Registry) ObserveRun(status optimization.Status, duration time.Duration) {
	r.Runs.WithLabelValues(string(status)).Inc()
	r.Duration.WithLabelValues(string(status)).Observe(duration.Seconds())
}

// ObserveError records a request the service refused: input errors by code,
// deadline expiries as timeouts. Other errors are not counted.
func (r *Registry) ObserveError(err error) {
	if inputErr, ok := optimization.AsInputError(err); ok {
		r.InputErrors.WithLabelValues(inputErr.Code).Inc()
		return
	}
	if errors.Is(err, optimization.ErrTimeout) {
		r.Timeouts.Inc()
	}
}

// AddWSClients moves the connected websocket client gauge by delta
func (r *Registry) AddWSClients(delta float64) {
	r.WSClients.Add(delta)
}

// ObserveRetention records the outcome of a journal retention run
func (r *Registry) ObserveRetention(deleted int64) {
	r.JournalRows.Set(float64(deleted))
}

// Handler serves the registry in the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}
