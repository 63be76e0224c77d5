package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/docrag-go/internal/agent"
	"github.com/54b3r/docrag-go/internal/ingestion"
	"github.com/54b3r/docrag-go/internal/rag"
	"github.com/54b3r/docrag-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// ChatTimeout bounds a single /api/ask or /api/chat request, including
	// retrieval and the model call. Defaults to 5 minutes.
	ChatTimeout time.Duration
	// IngestTimeout bounds a single /api/ingest request. Defaults to 30 minutes.
	IngestTimeout time.Duration
	// DocumentRoot confines /api/ingest paths to one directory tree.
	// If empty, any absolute path readable by the server is accepted.
	DocumentRoot string
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry receives the server metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// answerer is the interface the ask and chat handlers call.
// *agent.Responder satisfies it; tests inject a fake.
type answerer interface {
	Generate(ctx context.Context, req agent.Request) (*agent.Answer, error)
	Stream(ctx context.Context, req agent.Request, onToken func(string) error) (*agent.Answer, error)
}

// ingester runs one document through the ingestion pipeline.
// *ingestion.Pipeline satisfies it.
type ingester interface {
	Ingest(ctx context.Context, path, collection string) (*ingestion.Result, error)
}

// catalog lists and removes collections. rag.Gateway satisfies it.
type catalog interface {
	List(ctx context.Context) ([]rag.CollectionInfo, error)
	Delete(ctx context.Context, name string) error
}

// Services are the components the HTTP API exposes.
type Services struct {
	// Responder answers questions. Required.
	Responder answerer
	// Ingester ingests documents. Required.
	Ingester ingester
	// Collections lists and deletes collections. Required.
	Collections catalog
	// History is the conversation store. Nil disables the history endpoints.
	History store.ConversationStore
}

// Server is the HTTP server that exposes docrag.
type Server struct {
	// responder answers /api/ask and /api/chat.
	responder answerer
	// ingester serves /api/ingest.
	ingester ingester
	// collections serves /api/collections.
	collections catalog
	// history serves /api/history. May be nil.
	history store.ConversationStore
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors for this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// askRequest is the JSON body for POST /api/ask and POST /api/chat.
type askRequest struct {
	// Question is the user's natural language question.
	Question string `json:"question"`
	// Collection names the document to answer from.
	Collection string `json:"collection"`
	// K overrides the number of retrieved sources.
	K int `json:"k,omitempty"`
	// History replaces the stored conversation when present.
	History []agent.Turn `json:"history,omitempty"`
}

// ingestRequest is the JSON body for POST /api/ingest.
type ingestRequest struct {
	// Path is a PDF path on the server's filesystem.
	Path string `json:"path"`
	// Collection overrides the name derived from the file name.
	Collection string `json:"collection,omitempty"`
}

// collectionsResponse is the JSON response for GET /api/collections.
type collectionsResponse struct {
	Collections []rag.CollectionInfo `json:"collections"`
}

// deleteResponse is the JSON response for the DELETE endpoints.
type deleteResponse struct {
	// Name is the collection that was affected.
	Name string `json:"name"`
	// Deleted is the number of removed history messages, when applicable.
	Deleted int64 `json:"deleted,omitempty"`
}

// importResponse is the JSON response for POST /api/history/{collection}.
type importResponse struct {
	Name     string `json:"name"`
	Imported int    `json:"imported"`
}

// errorResponse is the JSON error body for non-streaming endpoints.
type errorResponse struct {
	// Error is the error message.
	Error string `json:"error"`
	// Kind names the error category (e.g. "collection not found").
	Kind string `json:"kind,omitempty"`
}
