package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/54b3r/docrag-go/internal/chunker"
	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/provider"
	"github.com/54b3r/docrag-go/internal/server"
	"github.com/54b3r/docrag-go/internal/tracing"
	"github.com/54b3r/docrag-go/internal/version"
)

// NewServeCmd constructs the `docrag serve` command, which starts the HTTP
// API for ingestion, question answering and collection management.
func NewServeCmd() *cobra.Command {
	var host, documentRoot string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the docrag HTTP API",
		Long: `Start the docrag HTTP API.

Routes:
  POST   /api/ingest                 ingest a PDF by absolute path
  POST   /api/ask                    answer a question (JSON)
  POST   /api/chat                   answer a question (server-sent events)
  GET    /api/collections            list collections
  DELETE /api/collections/{name}     delete a collection and its history
  GET    /api/history/{collection}   export history
  POST   /api/history/{collection}   replace history from an export
  DELETE /api/history/{collection}   clear history
  GET    /api/health, /api/ready     liveness and readiness
  GET    /metrics                    Prometheus metrics

Set DOCRAG_API_KEY to require a Bearer token on /api/* routes.

Examples:
  docrag serve
  docrag serve --port 9090 --document-root /srv/reports
  MODEL_PROVIDER=azure VECTOR_STORE=qdrant docrag serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.FromContext(ctx)

			// Flags win; otherwise the environment (including values loaded
			// from .env and the YAML config) supplies the bind address.
			if !cmd.Flags().Changed("host") {
				host = getEnvOrDefault("DOCRAG_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = getEnvInt("DOCRAG_PORT", port)
			}
			if !cmd.Flags().Changed("document-root") {
				documentRoot = getEnvOrDefault("DOCRAG_DOCUMENT_ROOT", documentRoot)
			}

			log.Info("serve starting", slog.String("version", version.String()))

			// Langfuse tracing is opt-in and a no-op without keys.
			handler, flush, ok := tracing.Setup(tracing.ConfigFromEnv())
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Debug("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			emb, err := openEmbedder(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			gw, err := openGateway(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = gw.Close() }()

			hist, closeHistory, err := openHistory(log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer closeHistory()

			chunking, err := chunker.ConfigFromEnv()
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			pipeline, err := newPipeline(gw, emb, chunking, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			responder, providerCfg, err := newResponder(ctx, gw, emb, hist, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			pingers := []server.Pinger{
				server.NewLLMPinger(provider.NewHealthCheck(providerCfg), string(providerCfg.Backend)),
				server.NewStorePinger(gw.Backend(), gw, gw),
			}

			srv, err := server.New(&server.Services{
				Responder:   responder,
				Ingester:    pipeline,
				Collections: gw,
				History:     hist,
			}, &server.Config{
				Host:         host,
				Port:         port,
				DocumentRoot: documentRoot,
				Logger:       log,
				Pingers:      pingers,
				RateLimit:    getEnvFloat("DOCRAG_RATE_LIMIT", 0),
				RateBurst:    getEnvInt("DOCRAG_RATE_BURST", 0),
				APIKey:       getEnvOrDefault("DOCRAG_API_KEY", ""),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (env: DOCRAG_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (env: DOCRAG_PORT)")
	cmd.Flags().StringVar(&documentRoot, "document-root", "",
		"Only ingest files below this directory (env: DOCRAG_DOCUMENT_ROOT)")

	return cmd
}
