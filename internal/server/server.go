// Package server implements the HTTP server that exposes docrag over a
// JSON/SSE API: ingestion, question answering, collection management and
// conversation history. The server is started by the `docrag serve` command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/docrag-go/internal/agent"
	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/rag"
)

// New constructs a Server from the provided services and config.
func New(svc *Services, cfg *Config) (*Server, error) {
	if svc == nil || svc.Responder == nil {
		return nil, fmt.Errorf("server: responder must not be nil")
	}
	if svc.Ingester == nil {
		return nil, fmt.Errorf("server: ingester must not be nil")
	}
	if svc.Collections == nil {
		return nil, fmt.Errorf("server: collections must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must be long enough for streaming responses.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.ChatTimeout == 0 {
		cfg.ChatTimeout = 5 * time.Minute
	}
	if cfg.IngestTimeout == 0 {
		cfg.IngestTimeout = 30 * time.Minute
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New()
	}
	log = logging.Component(log, "server")

	s := &Server{
		responder:   svc.Responder,
		ingester:    svc.Ingester,
		collections: svc.Collections,
		history:     svc.History,
		cfg:         cfg,
		log:         log,
		pingers:     cfg.Pingers,
		metrics:     newServerMetrics(cfg.MetricsRegistry),
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	rl.rejected = func(route string) { s.metrics.rateLimitedTotal.WithLabelValues(route).Inc() }
	s.stopRL = stop

	// protect wraps a handler with auth and the per-IP rate limit.
	protect := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(cfg.APIKey, rl.middleware(h))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/ask", protect(s.handleAsk))
	mux.Handle("POST /api/chat", protect(s.handleChat))
	mux.Handle("POST /api/ingest", protect(s.handleIngest))
	mux.Handle("GET /api/collections", protect(s.handleListCollections))
	mux.Handle("DELETE /api/collections/{name}", protect(s.handleDeleteCollection))
	mux.Handle("GET /api/history/{collection}", protect(s.handleExportHistory))
	mux.Handle("POST /api/history/{collection}", protect(s.handleImportHistory))
	mux.Handle("DELETE /api/history/{collection}", protect(s.handleClearHistory))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	if cfg.APIKey == "" {
		log.Warn("authentication disabled: DOCRAG_API_KEY is not set")
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(log, s.instrument(mux)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the server's root handler. Used by tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	defer s.stopRL()

	go func() {
		s.log.Info("listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// decodeAsk reads and validates an askRequest.
func decodeAsk(r *http.Request) (agent.Request, error) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return agent.Request{}, fmt.Errorf("invalid request body: %w", rag.ErrInvalidInput)
	}
	if strings.TrimSpace(req.Question) == "" {
		return agent.Request{}, fmt.Errorf("question is required: %w", rag.ErrInvalidInput)
	}
	if req.Collection == "" {
		return agent.Request{}, fmt.Errorf("collection is required: %w", rag.ErrInvalidInput)
	}
	return agent.Request{Question: req.Question, Collection: req.Collection, K: req.K, History: req.History}, nil
}

// handleAsk handles POST /api/ask: one question, one JSON answer.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	req, err := decodeAsk(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ChatTimeout)
	defer cancel()

	start := time.Now()
	ans, err := s.responder.Generate(ctx, req)
	outcome := outcomeOf(ctx, err)
	s.observeChat(outcome, start)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

// handleChat handles POST /api/chat requests. It streams the answer using
// Server-Sent Events (SSE) so the client can render tokens as they arrive,
// then sends the attributed sources in a final "sources" event.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, err := decodeAsk(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// Set SSE headers so the client receives a streaming response.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ChatTimeout)
	defer cancel()

	s.metrics.chatActiveStreams.Inc()
	defer s.metrics.chatActiveStreams.Dec()

	// sseWriter wraps the ResponseWriter to emit SSE-formatted token events.
	sw := &sseWriter{w: w, flusher: flusher}

	start := time.Now()
	ans, err := s.responder.Stream(ctx, req, func(tok string) error {
		_, err := sw.Write([]byte(tok))
		return err
	})
	s.observeChat(outcomeOf(ctx, err), start)
	if err != nil {
		logging.FromContext(r.Context()).Error("chat failed", slog.Any("error", err))
		sw.event("error", err.Error())
		return
	}

	sources, err := json.Marshal(ans.Sources)
	if err != nil {
		sw.event("error", err.Error())
		return
	}
	sw.event("sources", string(sources))
	// Signal stream completion.
	sw.event("done", "[DONE]")
}

// observeChat records one completed ask/chat request.
func (s *Server) observeChat(outcome string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.chatDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// outcomeOf labels a request for the chat metrics: "ok", "timeout" or "error".
func outcomeOf(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

// sseWriter wraps an http.ResponseWriter to emit Server-Sent Event frames.
type sseWriter struct {
	// w is the underlying response writer.
	w http.ResponseWriter

	// flusher flushes buffered data to the client after each write.
	flusher http.Flusher
}

// Write sends p as one "token" event and flushes to the client. Each line
// of p becomes its own "data: " line, so a client joining the data lines
// with newlines gets p back unchanged.
func (s *sseWriter) Write(p []byte) (n int, err error) {
	if _, err = fmt.Fprint(s.w, frame("token", string(p))); err != nil {
		return 0, err
	}
	s.flusher.Flush()
	return len(p), nil
}

// event writes a named SSE event and flushes it.
func (s *sseWriter) event(name, data string) {
	_, _ = fmt.Fprint(s.w, frame(name, data))
	s.flusher.Flush()
}

// frame renders one SSE frame. data is split on every newline, including
// trailing ones, so "\n" renders as two empty data lines.
func frame(event, data string) string {
	var buf strings.Builder
	if event != "" {
		buf.WriteString("event: ")
		buf.WriteString(event)
		buf.WriteString("\n")
	}
	for _, line := range strings.Split(data, "\n") {
		buf.WriteString("data: ")
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	buf.WriteString("\n")
	return buf.String()
}
