package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "eapp"

var (
	httpDurationBuckets   = prometheus.ExponentialBucketsRange(0.005, 10, 11)
	engineDurationBuckets = prometheus.ExponentialBucketsRange(0.0005, 0.5, 10)
	bodySizeBuckets       = prometheus.ExponentialBuckets(128, 8, 6)
)

// Metrics holds the service's Prometheus instruments. Label values are
// bounded: routes are chi patterns and codes come from definitions.
type Metrics struct {
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	ValidationsTotal      *prometheus.CounterVec
	ValidationDuration    *prometheus.HistogramVec
	ValidationErrorsTotal *prometheus.CounterVec

	SubmissionsTotal          *prometheus.CounterVec
	TransformDuration         *prometheus.HistogramVec
	SubmissionRejectionsTotal *prometheus.CounterVec
	IdempotencyReplaysTotal   prometheus.Counter

	EngineFaultsTotal    *prometheus.CounterVec
	EventsPublishedTotal *prometheus.CounterVec

	DefinitionReloadTotal *prometheus.CounterVec
	DefinitionsLoaded     prometheus.Gauge
}

// InitMetrics creates the instruments and registers them with reg.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	counter := func(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help}, labels)
	}
	histogram := func(subsystem, name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
		return f.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets}, labels)
	}

	return &Metrics{
		HTTPRequestsTotal:     counter("http", "requests_total", "HTTP requests by route and status.", "method", "path_pattern", "status"),
		HTTPRequestDuration:   histogram("http", "request_duration_seconds", "HTTP request latency.", httpDurationBuckets, "method", "path_pattern"),
		HTTPRequestSizeBytes:  histogram("http", "request_size_bytes", "HTTP request body size.", bodySizeBuckets, "method", "path_pattern"),
		HTTPResponseSizeBytes: histogram("http", "response_size_bytes", "HTTP response body size.", bodySizeBuckets, "method", "path_pattern"),

		ValidationsTotal:      counter("", "validations_total", "Answer validations by outcome.", "product_id", "outcome"),
		ValidationDuration:    histogram("validation", "duration_seconds", "Answer validation latency.", engineDurationBuckets, "product_id"),
		ValidationErrorsTotal: counter("validation", "errors_total", "Answer validation errors by rule code.", "product_id", "code"),

		SubmissionsTotal:          counter("", "submissions_total", "Submit attempts by outcome.", "product_id", "outcome"),
		TransformDuration:         histogram("transform", "duration_seconds", "Answers to submission document latency.", engineDurationBuckets, "product_id"),
		SubmissionRejectionsTotal: counter("submission", "rejections_total", "Submission invariant failures by rule.", "code"),
		IdempotencyReplaysTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "idempotency", Name: "replays_total",
			Help: "Submits answered from the idempotency store.",
		}),

		EngineFaultsTotal:    counter("engine", "faults_total", "Recovered engine faults on malformed definitions.", "stage"),
		EventsPublishedTotal: counter("events", "published_total", "Submission events handed to the broker.", "status"),

		DefinitionReloadTotal: counter("definition", "reload_total", "Definition reloads by status.", "status"),
		DefinitionsLoaded: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "definitions", Name: "loaded",
			Help: "Application definitions currently served.",
		}),
	}
}

func (m *Metrics) RecordHTTPRequest(method, route string, status int, d time.Duration, reqBytes, respBytes int) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, route).Observe(float64(reqBytes))
	m.HTTPResponseSizeBytes.WithLabelValues(method, route).Observe(float64(respBytes))
}

// RecordValidation counts one validation run and each error code it raised.
func (m *Metrics) RecordValidation(productID string, errorCodes []string, d time.Duration) {
	outcome := "valid"
	if len(errorCodes) > 0 {
		outcome = "invalid"
	}
	m.ValidationsTotal.WithLabelValues(productID, outcome).Inc()
	m.ValidationDuration.WithLabelValues(productID).Observe(d.Seconds())
	for _, code := range errorCodes {
		m.ValidationErrorsTotal.WithLabelValues(productID, code).Inc()
	}
}

func (m *Metrics) RecordSubmission(productID, outcome string) {
	m.SubmissionsTotal.WithLabelValues(productID, outcome).Inc()
}

func (m *Metrics) RecordTransform(productID string, d time.Duration) {
	m.TransformDuration.WithLabelValues(productID).Observe(d.Seconds())
}

func (m *Metrics) RecordSubmissionRejection(code string) {
	m.SubmissionRejectionsTotal.WithLabelValues(code).Inc()
}

func (m *Metrics) RecordIdempotencyReplay() { m.IdempotencyReplaysTotal.Inc() }

func (m *Metrics) RecordEngineFault(stage string) {
	m.EngineFaultsTotal.WithLabelValues(stage).Inc()
}

func (m *Metrics) RecordEventPublished(status string) {
	m.EventsPublishedTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordDefinitionReload(status string) {
	m.DefinitionReloadTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) SetDefinitionsLoaded(n float64) { m.DefinitionsLoaded.Set(n) }

// MetricsMiddleware records request count, latency and sizes labeled by
// chi route pattern, so path parameters never become label values.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start), int(max(r.ContentLength, 0)), sw.bytes)
	})
}

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves the metrics gathered from g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// routePattern returns the matched chi route, or the raw path when the
// request was not routed by chi.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		return pattern
	}
	return r.URL.Path
}

// metricsResponseWriter records the first status written and the body size.
type metricsResponseWriter struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *metricsResponseWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
