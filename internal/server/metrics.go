// Package server: metrics.go registers all Prometheus metrics for the HTTP
// server and exposes helpers used by handlers and middleware.
package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/54b3r/docrag-go/internal/ingestion"
	"github.com/54b3r/docrag-go/internal/rag"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the route pattern rather than the raw URL path.
	labelHandler = "handler"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// chatRequestsTotal counts completed /api/ask and /api/chat requests,
	// partitioned by outcome: "ok", "timeout", or "error".
	chatRequestsTotal *prometheus.CounterVec

	// chatDurationSeconds records the wall-clock duration of each answer
	// from request receipt to the final token.
	chatDurationSeconds *prometheus.HistogramVec

	// chatActiveStreams is the number of /api/chat SSE streams currently open.
	chatActiveStreams prometheus.Gauge

	// ingestRequestsTotal counts /api/ingest requests by result:
	// "ingested", "skipped" or the error kind.
	ingestRequestsTotal *prometheus.CounterVec

	// ingestUnitsTotal counts stored content units by content type.
	ingestUnitsTotal *prometheus.CounterVec

	// rateLimitedTotal counts requests refused by the rate limiter, by route.
	rateLimitedTotal *prometheus.CounterVec

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, route pattern, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics. promauto.With(reg) registers into the provided
// registry rather than the global default, which keeps unit tests hermetic.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		chatRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docrag",
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Total number of answered questions, partitioned by outcome.",
		}, []string{"outcome"}),

		chatDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docrag",
			Subsystem: "chat",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of question answering, retrieval included.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}, []string{"outcome"}),

		chatActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "docrag",
			Subsystem: "chat",
			Name:      "active_streams",
			Help:      "Number of /api/chat SSE streams currently open.",
		}),

		ingestRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docrag",
			Subsystem: "ingest",
			Name:      "requests_total",
			Help:      "Total number of ingestion requests, partitioned by result.",
		}, []string{"result"}),

		ingestUnitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docrag",
			Subsystem: "ingest",
			Name:      "units_total",
			Help:      "Content units stored by ingestion, partitioned by content type.",
		}, []string{"content_type"}),

		rateLimitedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docrag",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests refused with 429 by the per-client rate limiter.",
		}, []string{labelHandler}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docrag",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docrag",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}

// observeIngest records the outcome of one ingestion request.
func (s *Server) observeIngest(res *ingestion.Result, err error) {
	if s.metrics == nil {
		return
	}
	switch {
	case err != nil:
		result := "error"
		if k := rag.Kind(err); k != nil {
			result = k.Error()
		}
		s.metrics.ingestRequestsTotal.WithLabelValues(result).Inc()
	case res.Skipped:
		s.metrics.ingestRequestsTotal.WithLabelValues("skipped").Inc()
	default:
		s.metrics.ingestRequestsTotal.WithLabelValues("ingested").Inc()
		s.metrics.ingestUnitsTotal.WithLabelValues(rag.ContentText).Add(float64(res.TextChunks))
		s.metrics.ingestUnitsTotal.WithLabelValues(rag.ContentTable).Add(float64(res.Tables))
		s.metrics.ingestUnitsTotal.WithLabelValues(rag.ContentImageCaption).Add(float64(res.Images))
	}
}

// instrument records request counts and latency for every request routed by
// next. The handler label is the matched route pattern, so path values such
// as collection names never become label values.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rw, r)

		pattern := r.Pattern
		if pattern == "" {
			pattern = "unmatched"
		}
		s.metrics.httpRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(rw.status)).Inc()
		s.metrics.httpDurationSeconds.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}
