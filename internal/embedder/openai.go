// Package embedder provides implementations of the rag.Embedder interface for
// converting text into dense vector embeddings. OpenAI, Azure OpenAI and
// Ollama are spoken to over plain HTTP; Gemini goes through the genai SDK
// already used for the Gemini chat model.
//
// Every failure wraps rag.ErrEmbedding.
package embedder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/54b3r/docrag-go/internal/rag"
)

// OpenAIEmbedder embeds through the OpenAI embeddings API or an Azure OpenAI
// deployment of it. It is safe for concurrent use.
type OpenAIEmbedder struct {
	endpoint   string
	header     http.Header
	model      string
	dimensions int
	azure      bool
	client     *http.Client
}

// OpenAIConfig holds the settings for constructing an OpenAIEmbedder.
type OpenAIConfig struct {
	// BaseURL is the API base URL. For OpenAI: "https://api.openai.com/v1".
	// For Azure: "https://<resource>.openai.azure.com/openai".
	BaseURL string
	// APIKey is the authentication key.
	APIKey string
	// Model is the embedding model name, or the deployment name on Azure.
	Model string
	// Dimensions shortens the returned vectors when > 0. Only the
	// text-embedding-3 family honours it.
	Dimensions int
	// Azure selects the deployment URL layout and api-key header.
	Azure bool
	// APIVersion is the Azure OpenAI API version (e.g. "2025-04-01-preview").
	APIVersion string
}

// NewOpenAIEmbedder constructs an OpenAIEmbedder from the given config.
func NewOpenAIEmbedder(cfg *OpenAIConfig) *OpenAIEmbedder {
	base := strings.TrimRight(cfg.BaseURL, "/")
	e := &OpenAIEmbedder{
		endpoint:   base + "/embeddings",
		header:     http.Header{},
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		azure:      cfg.Azure,
		client:     &http.Client{Timeout: time.Minute},
	}
	if cfg.Azure {
		e.endpoint = base + "/deployments/" + url.PathEscape(cfg.Model) +
			"/embeddings?api-version=" + url.QueryEscape(cfg.APIVersion)
		e.header.Set("api-key", cfg.APIKey)
	} else {
		e.header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	return e
}

var _ rag.Embedder = (*OpenAIEmbedder)(nil)

// Model implements rag.Embedder. Azure deployments and OpenAI models share
// a name space, so the provider is part of the identifier.
func (e *OpenAIEmbedder) Model() string {
	if e.azure {
		return "azure/" + e.model
	}
	return "openai/" + e.model
}

type openaiEmbedRequest struct {
	Input          []string `json:"input"`
	Model          string   `json:"model"`
	Dimensions     int      `json:"dimensions,omitempty"`
	EncodingFormat string   `json:"encoding_format"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed implements rag.Embedder. The result is parallel to texts.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	req := openaiEmbedRequest{
		Input:          texts,
		Model:          e.model,
		Dimensions:     e.dimensions,
		EncodingFormat: "float",
	}
	var resp openaiEmbedResponse
	if err := postJSON(ctx, e.client, e.endpoint, e.header, req, &resp, openaiError); err != nil {
		return nil, fmt.Errorf("openai embedder: %w", err)
	}

	// Data may arrive in any order; Index maps it back onto texts.
	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("openai embedder: index %d out of range [0, %d): %w", d.Index, len(texts), rag.ErrEmbedding)
		}
		vecs[d.Index] = d.Embedding
	}
	if err := checkVectors(len(texts), vecs); err != nil {
		return nil, fmt.Errorf("openai embedder: %w", err)
	}
	return vecs, nil
}

// openaiError extracts {"error": {"message": "..."}} from an error body.
func openaiError(body []byte) string {
	var r openaiEmbedResponse
	if json.Unmarshal(body, &r) != nil || r.Error == nil {
		return ""
	}
	return r.Error.Message
}
