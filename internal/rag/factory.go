package rag

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Vector store backend names accepted by VECTOR_STORE.
const (
	StoreChromem = "chromem"
	StoreQdrant  = "qdrant"
	StoreMilvus  = "milvus"
	StoreMemory  = "memory"
)

// DefaultPersistDir is where the chromem backend keeps its files.
const DefaultPersistDir = "./chroma_db"

// NewBackendFromEnv constructs the Backend selected by VECTOR_STORE
// (default: chromem).
//
//	chromem: RAG_PERSIST_DIR, RAG_PERSIST_COMPRESS
//	qdrant:  QDRANT_HOST, QDRANT_PORT, QDRANT_API_KEY, QDRANT_TLS
//	milvus:  MILVUS_ADDRESS
func NewBackendFromEnv(ctx context.Context) (Backend, error) {
	switch name := strings.ToLower(envOr("VECTOR_STORE", StoreChromem)); name {
	case StoreChromem:
		return NewChromemBackend(envOr("RAG_PERSIST_DIR", DefaultPersistDir), envBool("RAG_PERSIST_COMPRESS"))
	case StoreQdrant:
		return NewQdrantBackend(QdrantConfig{
			Host:   envOr("QDRANT_HOST", "localhost"),
			Port:   envInt("QDRANT_PORT", 6334),
			APIKey: os.Getenv("QDRANT_API_KEY"),
			UseTLS: envBool("QDRANT_TLS"),
		})
	case StoreMilvus:
		return NewMilvusBackend(ctx, envOr("MILVUS_ADDRESS", "localhost:19530"))
	case StoreMemory:
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("rag: unknown VECTOR_STORE %q (valid: chromem, qdrant, milvus, memory)", name)
	}
}

// NewGatewayFromEnv builds the backend from the environment and wraps it
// in a CollectionStore. EMBEDDING_BATCH_SIZE sets the embed batch size.
func NewGatewayFromEnv(ctx context.Context, log *slog.Logger) (*CollectionStore, error) {
	backend, err := NewBackendFromEnv(ctx)
	if err != nil {
		return nil, err
	}
	return NewCollectionStore(backend, StoreConfig{
		BatchSize: envInt("EMBEDDING_BATCH_SIZE", DefaultEmbedBatchSize),
		Logger:    log,
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}
