package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/rag"
)

func TestOllamaEmbedder_Embed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := ollamaEmbedResponse{}
		for i := range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float32{float32(i), 1})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	emb := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "nomic-embed-text"})
	got, err := emb.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(got) != 2 || got[1][0] != 1 {
		t.Errorf("Embed() = %v, want two vectors in input order", got)
	}
	if emb.Model() != "ollama/nomic-embed-text" {
		t.Errorf("Model() = %q", emb.Model())
	}
}

func TestOpenAIEmbedder_OrdersByIndex(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"embedding":[2,2],"index":1},{"embedding":[1,1],"index":0}]}`))
	}))
	t.Cleanup(srv.Close)

	emb := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "text-embedding-3-small"})
	got, err := emb.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if got[0][0] != 1 || got[1][0] != 2 {
		t.Errorf("Embed() = %v, want vectors ordered by index", got)
	}
	if emb.Model() != "openai/text-embedding-3-small" {
		t.Errorf("Model() = %q", emb.Model())
	}
}

func TestAzureEmbedder_Request(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openai/deployments/embed-dep/embeddings" || r.URL.Query().Get("api-version") != "2025-04-01-preview" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("api-key") != "az-key" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"embedding":[1],"index":0}]}`))
	}))
	t.Cleanup(srv.Close)

	emb := NewOpenAIEmbedder(&OpenAIConfig{
		BaseURL: srv.URL + "/openai", APIKey: "az-key", Model: "embed-dep",
		Azure: true, APIVersion: "2025-04-01-preview",
	})
	if _, err := emb.Embed(context.Background(), []string{"x"}); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if emb.Model() != "azure/embed-dep" {
		t.Errorf("Model() = %q", emb.Model())
	}
}

func TestEmbedders_ErrorsAreEmbeddingKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		newEmb func(url string) rag.Embedder
	}{
		{
			name:   "ollama server error",
			status: http.StatusInternalServerError,
			body:   `{"error":"model not found"}`,
			newEmb: func(url string) rag.Embedder { return NewOllamaEmbedder(&OllamaConfig{Host: url, Model: "m"}) },
		},
		{
			name:   "ollama short response",
			status: http.StatusOK,
			body:   `{"embeddings":[]}`,
			newEmb: func(url string) rag.Embedder { return NewOllamaEmbedder(&OllamaConfig{Host: url, Model: "m"}) },
		},
		{
			name:   "openai unauthorized",
			status: http.StatusUnauthorized,
			body:   `{"error":{"message":"invalid key"}}`,
			newEmb: func(url string) rag.Embedder {
				return NewOpenAIEmbedder(&OpenAIConfig{BaseURL: url, APIKey: "k", Model: "m"})
			},
		},
		{
			name:   "openai index out of range",
			status: http.StatusOK,
			body:   `{"data":[{"embedding":[1],"index":5}]}`,
			newEmb: func(url string) rag.Embedder {
				return NewOpenAIEmbedder(&OpenAIConfig{BaseURL: url, APIKey: "k", Model: "m"})
			},
		},
		{
			name:   "undecodable body",
			status: http.StatusOK,
			body:   `not json`,
			newEmb: func(url string) rag.Embedder {
				return NewOpenAIEmbedder(&OpenAIConfig{BaseURL: url, APIKey: "k", Model: "m"})
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			t.Cleanup(srv.Close)

			_, err := tc.newEmb(srv.URL).Embed(context.Background(), []string{"x"})
			if !errors.Is(err, rag.ErrEmbedding) {
				t.Errorf("Embed() error = %v, want ErrEmbedding", err)
			}
		})
	}
}

func TestNewFromEnv(t *testing.T) {
	tests := []struct {
		name      string
		env       map[string]string
		wantModel string
		wantErr   bool
	}{
		{
			name:      "default ollama",
			env:       map[string]string{},
			wantModel: "ollama/nomic-embed-text",
		},
		{
			name:      "inherits model provider",
			env:       map[string]string{"MODEL_PROVIDER": "openai", "OPENAI_API_KEY": "sk"},
			wantModel: "openai/text-embedding-3-small",
		},
		{
			name:      "explicit model override",
			env:       map[string]string{"EMBEDDING_PROVIDER": "ollama", "EMBEDDING_MODEL": "mxbai-embed-large"},
			wantModel: "ollama/mxbai-embed-large",
		},
		{
			name:    "openai without key",
			env:     map[string]string{"EMBEDDING_PROVIDER": "openai"},
			wantErr: true,
		},
		{
			name:    "azure without endpoint",
			env:     map[string]string{"EMBEDDING_PROVIDER": "azure", "AZURE_OPENAI_API_KEY": "k"},
			wantErr: true,
		},
		{
			name:      "gemini inherits chat key",
			env:       map[string]string{"EMBEDDING_PROVIDER": "gemini", "GOOGLE_API_KEY": "g"},
			wantModel: "gemini/text-embedding-004",
		},
		{
			name:    "gemini without key",
			env:     map[string]string{"EMBEDDING_PROVIDER": "gemini"},
			wantErr: true,
		},
		{
			name:    "bedrock unsupported",
			env:     map[string]string{"EMBEDDING_PROVIDER": "bedrock"},
			wantErr: true,
		},
		{
			name:    "unknown",
			env:     map[string]string{"EMBEDDING_PROVIDER": "cohere"},
			wantErr: true,
		},
	}

	keys := []string{
		"EMBEDDING_PROVIDER", "MODEL_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_API_KEY",
		"EMBEDDING_ENDPOINT", "OPENAI_API_KEY", "AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT",
		"GEMINI_API_KEY", "GOOGLE_API_KEY", "OLLAMA_HOST", "EMBEDDING_DIMENSIONS",
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for _, k := range keys {
				t.Setenv(k, tc.env[k])
			}
			emb, err := NewFromEnv(context.Background())
			if tc.wantErr {
				if err == nil {
					t.Fatal("NewFromEnv() succeeded, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewFromEnv() error = %v", err)
			}
			if got := emb.Model(); got != tc.wantModel {
				t.Errorf("Model() = %q, want %q", got, tc.wantModel)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "azure")
	t.Setenv("EMBEDDING_API_KEY", "k")
	t.Setenv("EMBEDDING_ENDPOINT", "")
	t.Setenv("AZURE_OPENAI_ENDPOINT", "")
	if err := Validate(logging.Discard()); err == nil {
		t.Error("Validate() accepted azure without an endpoint")
	}

	t.Setenv("EMBEDDING_ENDPOINT", "https://example.openai.azure.com")
	t.Setenv("EMBEDDING_MODEL", "gpt-4o")
	if err := Validate(logging.Discard()); err != nil {
		t.Errorf("Validate() error = %v; a chat-looking model only warns", err)
	}
}

func TestLooksLikeChatModel(t *testing.T) {
	t.Parallel()

	for model, want := range map[string]bool{
		"nomic-embed-text":       false,
		"text-embedding-3-small": false,
		"gpt-4o-mini":            true,
		"llama3.1":               true,
	} {
		if got := looksLikeChatModel(model); got != want {
			t.Errorf("looksLikeChatModel(%q) = %v, want %v", model, got, want)
		}
	}
}

func TestEmbedders_EmptyInput(t *testing.T) {
	t.Parallel()

	// Any request at all is a failure.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	t.Cleanup(srv.Close)

	for _, emb := range []rag.Embedder{
		NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "m"}),
		NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"}),
	} {
		got, err := emb.Embed(context.Background(), nil)
		if err != nil || got != nil {
			t.Errorf("%s: Embed(nil) = %v, %v; want nil, nil", emb.Model(), got, err)
		}
	}
}

func TestCheckVectors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		inputs  int
		vecs    [][]float32
		wantErr bool
	}{
		{"matching", 2, [][]float32{{1, 2}, {3, 4}}, false},
		{"too few", 2, [][]float32{{1, 2}}, true},
		{"missing vector", 2, [][]float32{{1, 2}, nil}, true},
		{"ragged dimensions", 2, [][]float32{{1, 2}, {3}}, true},
	}
	for _, tc := range tests {
		err := checkVectors(tc.inputs, tc.vecs)
		if (err != nil) != tc.wantErr {
			t.Errorf("%s: checkVectors() error = %v, wantErr %v", tc.name, err, tc.wantErr)
		}
		if err != nil && !errors.Is(err, rag.ErrEmbedding) {
			t.Errorf("%s: error %v does not wrap ErrEmbedding", tc.name, err)
		}
	}
}
