// Package metrics exposes analysis and dictionary counters in the Prometheus
// text format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	analyses        *prometheus.CounterVec
	analyzeDuration *prometheus.HistogramVec
	saves           *prometheus.CounterVec
	sessions        prometheus.Gauge
	requests        *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "visualdict",
			Name:      "analyses_total",
			Help:      "Model analyses by mode and outcome.",
		}, []string{"mode", "outcome"}),
		analyzeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "visualdict",
			Name:      "analyze_duration_seconds",
			Help:      "Time spent waiting for the vision model.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 120},
		}, []string{"mode"}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "visualdict",
			Name:      "dictionary_saves_total",
			Help:      "Dictionary entries saved by outcome.",
		}, []string{"outcome"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "visualdict",
			Name:      "sessions_active",
			Help:      "Open analysis sessions.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "visualdict",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
	}
	m.registry.MustRegister(
		m.analyses,
		m.analyzeDuration,
		m.saves,
		m.sessions,
		m.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveAnalyze records one finished analysis
func (m *Metrics) ObserveAnalyze(mode string, d time.Duration, err error) {
	m.analyses.WithLabelValues(mode, outcome(err)).Inc()
	m.analyzeDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// ObserveSave records one dictionary append
func (m *Metrics) ObserveSave(err error) {
	m.saves.WithLabelValues(outcome(err)).Inc()
}

// SessionOpened and SessionClosed track the session gauge
func (m *Metrics) SessionOpened() { m.sessions.Inc() }
func (m *Metrics) SessionClosed() { m.sessions.Dec() }

// ObserveRequest counts one HTTP response
func (m *Metrics) ObserveRequest(route string, code int) {
	m.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// Handler serves the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
