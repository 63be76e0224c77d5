package embedder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/54b3r/docrag-go/internal/rag"
)

// OllamaEmbedder embeds through a local Ollama server's /api/embed endpoint,
// which takes a whole batch per request. It is safe for concurrent use.
type OllamaEmbedder struct {
	host   string
	model  string
	client *http.Client
}

// OllamaConfig holds the settings for constructing an OllamaEmbedder.
type OllamaConfig struct {
	// Host is the Ollama server base URL (e.g. "http://localhost:11434").
	Host string
	// Model is the embedding model name (e.g. "nomic-embed-text").
	Model string
}

// NewOllamaEmbedder constructs an OllamaEmbedder from the given config.
func NewOllamaEmbedder(cfg *OllamaConfig) *OllamaEmbedder {
	return &OllamaEmbedder{
		host:   strings.TrimRight(cfg.Host, "/"),
		model:  cfg.Model,
		client: &http.Client{Timeout: 2 * time.Minute},
	}
}

var _ rag.Embedder = (*OllamaEmbedder)(nil)

// Model implements rag.Embedder.
func (e *OllamaEmbedder) Model() string { return "ollama/" + e.model }

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
	// Truncate lets the server cut inputs longer than the model's context
	// instead of failing the batch.
	Truncate bool `json:"truncate"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// Embed implements rag.Embedder. The result is parallel to texts.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var resp ollamaEmbedResponse
	req := ollamaEmbedRequest{Model: e.model, Input: texts, Truncate: true}
	if err := postJSON(ctx, e.client, e.host+"/api/embed", nil, req, &resp, ollamaError); err != nil {
		return nil, fmt.Errorf("ollama embedder: %w", err)
	}
	if err := checkVectors(len(texts), resp.Embeddings); err != nil {
		return nil, fmt.Errorf("ollama embedder: %w", err)
	}
	return resp.Embeddings, nil
}

// ollamaError extracts {"error": "..."} from an Ollama error body.
func ollamaError(body []byte) string {
	var r ollamaEmbedResponse
	if json.Unmarshal(body, &r) != nil {
		return ""
	}
	return r.Error
}
