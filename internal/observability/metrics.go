package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	upstreamRequestsTotal *prometheus.CounterVec
	upstreamDuration      *prometheus.HistogramVec
	summaryFallbacks      prometheus.Counter
	durationRejected      prometheus.Counter
	audioSeconds          prometheus.Histogram
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gijiroku_http_requests_total",
				Help: "Total number of HTTP requests handled.",
			},
			[]string{"route", "method", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gijiroku_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"route", "method", "status"},
		),
		upstreamRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gijiroku_upstream_requests_total",
				Help: "Total upstream transcription and summary API requests.",
			},
			[]string{"endpoint", "status"},
		),
		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gijiroku_upstream_request_duration_seconds",
				Help:    "Upstream request duration in seconds.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"endpoint", "status"},
		),
		summaryFallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gijiroku_summary_fallback_total",
				Help: "Number of transcriptions returned without a summary because the summary request failed.",
			},
		),
		durationRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gijiroku_duration_rejected_total",
				Help: "Number of uploads rejected for exceeding the maximum audio duration.",
			},
		),
		audioSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gijiroku_audio_duration_seconds",
				Help:    "Duration of successfully transcribed audio in seconds.",
				Buckets: []float64{30, 60, 300, 600, 1200, 1800, 3600, 5400, 7200},
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.upstreamRequestsTotal,
		m.upstreamDuration,
		m.summaryFallbacks,
		m.durationRejected,
		m.audioSeconds,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveHTTP(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "UNKNOWN"
	}
	statusLabel := strconv.Itoa(status)
	m.httpRequestsTotal.WithLabelValues(route, method, statusLabel).Inc()
	m.httpRequestDuration.WithLabelValues(route, method, statusLabel).Observe(duration.Seconds())
}

func (m *Metrics) ObserveUpstream(endpoint string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	statusLabel := strconv.Itoa(status)
	m.upstreamRequestsTotal.WithLabelValues(endpoint, statusLabel).Inc()
	m.upstreamDuration.WithLabelValues(endpoint, statusLabel).Observe(duration.Seconds())
}

func (m *Metrics) IncSummaryFallback() {
	if m == nil {
		return
	}
	m.summaryFallbacks.Inc()
}

func (m *Metrics) IncDurationRejected() {
	if m == nil {
		return
	}
	m.durationRejected.Inc()
}

func (m *Metrics) ObserveAudioSeconds(seconds float64) {
	if m == nil || seconds <= 0 {
		return
	}
	m.audioSeconds.Observe(seconds)
}
