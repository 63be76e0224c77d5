package embedder

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/54b3r/docrag-go/internal/rag"
)

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"
	defaultGeminiModel = "text-embedding-004"

	defaultOllamaHost       = "http://localhost:11434"
	defaultOpenAIBaseURL    = "https://api.openai.com/v1"
	defaultAzureAPIVersion  = "2025-04-01-preview"
	defaultOpenAIDimensions = 1536
)

// settings is the embedding configuration resolved from the environment.
type settings struct {
	backend    string
	inherited  bool
	model      string
	apiKey     string
	endpoint   string
	apiVersion string
	dimensions int
}

// resolveSettings reads the embedding configuration. Anything not given an
// EMBEDDING_* override is inherited from the chat provider's variables, and
// EMBEDDING_PROVIDER itself falls back to MODEL_PROVIDER, then ollama.
func resolveSettings() settings {
	s := settings{backend: os.Getenv("EMBEDDING_PROVIDER")}
	if s.backend == "" {
		s.backend, s.inherited = envOr("MODEL_PROVIDER", "ollama"), true
	}

	key := os.Getenv("EMBEDDING_API_KEY")
	endpoint := os.Getenv("EMBEDDING_ENDPOINT")
	model := os.Getenv("EMBEDDING_MODEL")

	switch s.backend {
	case "ollama":
		s.endpoint = firstNonEmpty(endpoint, os.Getenv("OLLAMA_HOST"), defaultOllamaHost)
		s.model = firstNonEmpty(model, defaultOllamaModel)
	case "openai":
		s.apiKey = firstNonEmpty(key, os.Getenv("OPENAI_API_KEY"))
		s.endpoint = firstNonEmpty(endpoint, defaultOpenAIBaseURL)
		s.model = firstNonEmpty(model, defaultOpenAIModel)
		s.dimensions = envInt("EMBEDDING_DIMENSIONS", defaultOpenAIDimensions)
	case "azure":
		s.apiKey = firstNonEmpty(key, os.Getenv("AZURE_OPENAI_API_KEY"))
		s.endpoint = firstNonEmpty(endpoint, os.Getenv("AZURE_OPENAI_ENDPOINT"))
		s.apiVersion = envOr("AZURE_OPENAI_API_VERSION", defaultAzureAPIVersion)
		s.model = firstNonEmpty(model, defaultOpenAIModel)
		s.dimensions = envInt("EMBEDDING_DIMENSIONS", defaultOpenAIDimensions)
	case "gemini":
		s.apiKey = firstNonEmpty(key, os.Getenv("GOOGLE_API_KEY"), os.Getenv("GEMINI_API_KEY"))
		s.model = firstNonEmpty(model, defaultGeminiModel)
		s.dimensions = envInt("EMBEDDING_DIMENSIONS", 0)
	default:
		s.model = model
	}
	return s
}

// check reports configuration that cannot produce a working embedder.
func (s settings) check() error {
	switch s.backend {
	case "ollama":
		return nil
	case "openai":
		if s.apiKey == "" {
			return fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
	case "azure":
		if s.apiKey == "" {
			return fmt.Errorf("embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		if s.endpoint == "" {
			return fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
	case "gemini":
		if s.apiKey == "" {
			return fmt.Errorf("embedder: gemini requires GOOGLE_API_KEY or EMBEDDING_API_KEY")
		}
	case "bedrock":
		// The Bedrock-compatible chat endpoint has no embeddings route.
		return fmt.Errorf("embedder: bedrock has no embeddings support; set EMBEDDING_PROVIDER to ollama, openai, azure or gemini")
	default:
		return fmt.Errorf("embedder: unknown backend %q; valid values: ollama, openai, azure, gemini", s.backend)
	}
	return nil
}

// NewFromEnv constructs the rag.Embedder described by the environment.
//
//	EMBEDDING_PROVIDER    ollama | openai | azure | gemini (default: MODEL_PROVIDER, then ollama)
//	EMBEDDING_MODEL       model or deployment name (default per backend)
//	EMBEDDING_API_KEY     overrides OPENAI_API_KEY / AZURE_OPENAI_API_KEY / GOOGLE_API_KEY
//	EMBEDDING_ENDPOINT    overrides OLLAMA_HOST / AZURE_OPENAI_ENDPOINT / the OpenAI base URL
//	EMBEDDING_DIMENSIONS  output dimensions (openai/azure: 1536, gemini: model default)
//
// The returned Model() is recorded with every collection; searching a
// collection with a different embedder fails with
// rag.ErrEmbeddingModelMismatch.
func NewFromEnv(ctx context.Context) (rag.Embedder, error) {
	s := resolveSettings()
	if err := s.check(); err != nil {
		return nil, err
	}

	switch s.backend {
	case "openai":
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    s.endpoint,
			APIKey:     s.apiKey,
			Model:      s.model,
			Dimensions: s.dimensions,
		}), nil
	case "azure":
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    s.endpoint + "/openai",
			APIKey:     s.apiKey,
			Model:      s.model,
			Dimensions: s.dimensions,
			Azure:      true,
			APIVersion: s.apiVersion,
		}), nil
	case "gemini":
		return NewGeminiEmbedder(ctx, &GeminiConfig{
			APIKey:     s.apiKey,
			Model:      s.model,
			Dimensions: s.dimensions,
		})
	default:
		return NewOllamaEmbedder(&OllamaConfig{Host: s.endpoint, Model: s.model}), nil
	}
}

func envOr(key, fallback string) string {
	return firstNonEmpty(os.Getenv(key), fallback)
}

// envInt parses key as an int, returning fallback when unset or malformed.
func envInt(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return fallback
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
