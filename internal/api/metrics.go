package api

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the serving layer
type Metrics struct {
	RequestCounter    *prometheus.CounterVec
	LatencyHistogram  *prometheus.HistogramVec
	PredictionCounter *prometheus.CounterVec
	ReloadCounter     *prometheus.CounterVec
	RateLimitHits     prometheus.Counter
	ModelLoaded       prometheus.Gauge
	registry          *prometheus.Registry
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// NewMetrics returns the process-wide metrics set, registering the
// collectors on first call.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		registry := prometheus.NewRegistry()

		m := &Metrics{
			RequestCounter: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "leafserve_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "path", "status"},
			),
			LatencyHistogram: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "leafserve_request_duration_seconds",
					Help:    "HTTP request latency in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"method", "path"},
			),
			PredictionCounter: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "leafserve_predictions_total",
					Help: "Total predictions by outcome",
				},
				[]string{"outcome"},
			),
			ReloadCounter: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "leafserve_model_reloads_total",
					Help: "Model reload attempts by outcome",
				},
				[]string{"outcome"},
			),
			RateLimitHits: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "leafserve_rate_limit_hits_total",
					Help: "Requests rejected by the rate limiter",
				},
			),
			ModelLoaded: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "leafserve_model_loaded",
					Help: "Whether a model is currently installed (1 or 0)",
				},
			),
			registry: registry,
		}

		registry.MustRegister(
			m.RequestCounter,
			m.LatencyHistogram,
			m.PredictionCounter,
			m.ReloadCounter,
			m.RateLimitHits,
			m.ModelLoaded,
		)

		metricsInstance = m
	})

	return metricsInstance
}

// Handler serves the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest increments the request counter
func (m *Metrics) RecordRequest(method, path string, status int) {
	m.RequestCounter.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
}

// RecordLatency records request latency
func (m *Metrics) RecordLatency(method, path string, seconds float64) {
	m.LatencyHistogram.WithLabelValues(method, path).Observe(seconds)
}

// RecordPrediction counts a prediction by outcome
func (m *Metrics) RecordPrediction(outcome string) {
	m.PredictionCounter.WithLabelValues(outcome).Inc()
}

// RecordReload counts a reload attempt by outcome
func (m *Metrics) RecordReload(outcome string) {
	m.ReloadCounter.WithLabelValues(outcome).Inc()
}

// SetModelLoaded publishes whether a model is installed
func (m *Metrics) SetModelLoaded(loaded bool) {
	if loaded {
		m.ModelLoaded.Set(1)
	} else {
		m.ModelLoaded.Set(0)
	}
}
