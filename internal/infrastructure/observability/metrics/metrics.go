package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles prometheus collectors for the pipeline and its HTTP surface.
// It implements port.PipelineMetrics.
type Metrics struct {
	EventsTotal        *prometheus.CounterVec
	WriteAttemptsTotal *prometheus.CounterVec
	BatchFlushesTotal  *prometheus.CounterVec
	BatchSize          prometheus.Histogram
	QueueDepthGauge    prometheus.Gauge

	RequestsTotal      *prometheus.CounterVec
	RequestDurationSec *prometheus.HistogramVec
	AuthFailures       prometheus.Counter
	RateLimitDropped   prometheus.Counter
}

func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventlogger_events_total",
			Help: "Total number of logging calls by level and outcome.",
		}, []string{"level", "outcome"}),
		WriteAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventlogger_remote_write_attempts_total",
			Help: "Total number of remote write attempts.",
		}, []string{"mode", "result"}),
		BatchFlushesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventlogger_batch_flushes_total",
			Help: "Total number of batch flushes that submitted records.",
		}, []string{"trigger", "result"}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "eventlogger_batch_size",
			Help:    "Number of records per submitted batch.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		QueueDepthGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eventlogger_queue_depth",
			Help: "Records waiting in the batch queue.",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventlogger_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"route", "method", "status"}),
		RequestDurationSec: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eventlogger_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventlogger_http_auth_failures_total",
			Help: "Total number of auth failures.",
		}),
		RateLimitDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventlogger_http_ratelimit_dropped_total",
			Help: "Total number of requests dropped by rate limiter.",
		}),
	}

	registry.MustRegister(
		m.EventsTotal,
		m.WriteAttemptsTotal,
		m.BatchFlushesTotal,
		m.BatchSize,
		m.QueueDepthGauge,
		m.RequestsTotal,
		m.RequestDurationSec,
		m.AuthFailures,
		m.RateLimitDropped,
	)

	return m
}

func (m *Metrics) EventProcessed(level, outcome string) {
	m.EventsTotal.WithLabelValues(level, outcome).Inc()
}

func (m *Metrics) WriteAttempt(mode string, success bool) {
	m.WriteAttemptsTotal.WithLabelValues(mode, result(success)).Inc()
}

func (m *Metrics) BatchFlushed(trigger string, size int, success bool) {
	m.BatchFlushesTotal.WithLabelValues(trigger, result(success)).Inc()
	m.BatchSize.Observe(float64(size))
}

func (m *Metrics) QueueDepth(depth int) {
	m.QueueDepthGauge.Set(float64(depth))
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		status := strconv.Itoa(wrapped.statusCode)
		route := normalizeRoute(r.URL.Path)
		m.RequestsTotal.WithLabelValues(route, r.Method, status).Inc()
		m.RequestDurationSec.WithLabelValues(route, r.Method, status).Observe(time.Since(startedAt).Seconds())
	})
}

var knownRoutes = map[string]bool{
	"/api/v1/events":       true,
	"/api/v1/events/async": true,
	"/api/v1/events/flush": true,
	"/ws/tail":             true,
	"/healthz":             true,
	"/readyz":              true,
	"/metrics":             true,
}

// normalizeRoute keeps label cardinality bounded.
func normalizeRoute(path string) string {
	switch {
	case knownRoutes[path]:
		return path
	case path == "/api/v1" || strings.HasPrefix(path, "/api/v1/"):
		return "/api/v1/*"
	default:
		return "other"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

// Hijack passes websocket upgrades through wrapped ResponseWriter.
func (rw *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

// Flush keeps streaming behavior for handlers that require it.
func (rw *statusRecorder) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
