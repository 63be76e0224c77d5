package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/54b3r/docrag-go/internal/agent"
	"github.com/54b3r/docrag-go/internal/budget"
	"github.com/54b3r/docrag-go/internal/chunker"
	"github.com/54b3r/docrag-go/internal/embedder"
	"github.com/54b3r/docrag-go/internal/ingestion"
	"github.com/54b3r/docrag-go/internal/provider"
	"github.com/54b3r/docrag-go/internal/rag"
	"github.com/54b3r/docrag-go/internal/store"
)

// historyDisabled turns conversation history off when set as DOCRAG_HISTORY_DB.
const historyDisabled = "disabled"

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if it is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the named environment variable parsed as an int, or
// fallback if it is unset or not a valid integer.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvFloat returns the named environment variable parsed as a float64, or
// fallback if it is unset or not a valid number.
func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// openGateway connects to the vector store selected by VECTOR_STORE.
func openGateway(ctx context.Context, log *slog.Logger) (*rag.CollectionStore, error) {
	gw, err := rag.NewGatewayFromEnv(ctx, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	log.Info("vector store ready", slog.String("backend", gw.Backend()))
	return gw, nil
}

// openEmbedder validates the embedding configuration and constructs the
// embedder used for both ingestion and retrieval.
func openEmbedder(ctx context.Context, log *slog.Logger) (rag.Embedder, error) {
	if err := embedder.Validate(log); err != nil {
		return nil, err
	}
	emb, err := embedder.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	log.Info("embedder initialised", slog.String("model", emb.Model()))
	return emb, nil
}

// openHistory opens the conversation store. DOCRAG_HISTORY_DB overrides the
// default path (~/.docrag/history.db); "disabled" turns history off, in which
// case the returned store is nil. The returned func closes the store.
func openHistory(log *slog.Logger) (store.ConversationStore, func(), error) {
	dbPath := os.Getenv("DOCRAG_HISTORY_DB")
	if dbPath == historyDisabled {
		log.Info("history: disabled via DOCRAG_HISTORY_DB=disabled")
		return nil, func() {}, nil
	}
	if dbPath == "" {
		var err error
		if dbPath, err = store.DefaultDBPath(); err != nil {
			return nil, nil, fmt.Errorf("history: %w", err)
		}
	}
	hs, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("history: %w", err)
	}
	log.Debug("history: store opened", slog.String("path", dbPath))
	return hs, func() { _ = hs.Close() }, nil
}

// newPipeline builds the ingestion pipeline.
func newPipeline(gw rag.Gateway, emb rag.Embedder, chunking chunker.Config, log *slog.Logger) (*ingestion.Pipeline, error) {
	return ingestion.NewPipeline(gw, emb, &ingestion.Config{Chunking: chunking, Logger: log})
}

// newResponder wires the chat model, retriever, token counter and history
// store into an agent.Responder. It also returns the resolved provider config
// so callers can build health checks against the same backend.
func newResponder(ctx context.Context, gw rag.Gateway, emb rag.Embedder, hist store.ConversationStore, log *slog.Logger) (*agent.Responder, *provider.Config, error) {
	chatModel, providerCfg, err := provider.NewFromEnv(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}
	log.Info("provider initialised",
		slog.String("provider", string(providerCfg.Backend)),
		slog.String("model", providerCfg.ModelName()),
	)

	retriever, err := rag.NewRetriever(gw, emb, getEnvInt("RAG_TOP_K", rag.DefaultTopK), log)
	if err != nil {
		return nil, nil, err
	}

	responder, err := agent.New(&agent.Config{
		ChatModel:        chatModel,
		Retriever:        retriever,
		History:          hist,
		HistoryDepth:     getEnvInt("DOCRAG_HISTORY_DEPTH", agent.DefaultHistoryDepth),
		MaxContextTokens: getEnvInt("RAG_MAX_CONTEXT_TOKENS", budget.DefaultMaxContextTokens),
		Counter:          budget.NewCounter(getEnvOrDefault("RAG_TOKEN_ENCODING", budget.DefaultEncoding), log),
		Logger:           log,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialise responder: %w", err)
	}
	return responder, providerCfg, nil
}
