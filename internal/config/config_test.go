package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_NoFile(t *testing.T) {
	t.Parallel()

	log := slog.Default()
	path, err := Load("/nonexistent/path/config.yaml", log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
}

// unsetAll clears keys for the duration of the test.
func unsetAll(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
model:
  provider: azure
  max_tokens: 8192
  temperature: 0.3
  azure:
    endpoint: https://my-resource.openai.azure.com
    deployment: gpt-4o
    api_version: "2025-04-01-preview"
embedding:
  provider: ollama
  model: nomic-embed-text
vector_store:
  backend: qdrant
  persist_dir: /var/lib/docrag
  qdrant:
    host: qdrant.internal
    port: 6334
  milvus:
    address: milvus.internal:19530
rag:
  chunk_preset: large
  chunk_size: 1000
  chunk_overlap: 100
  top_k: 6
server:
  rate_limit: 2.5
logging:
  level: debug
  format: text
`)

	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	unsetAll(t,
		"DOCRAG_ENV_FILE",
		"MODEL_PROVIDER", "MODEL_MAX_TOKENS", "MODEL_TEMPERATURE",
		"AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_DEPLOYMENT", "AZURE_OPENAI_API_VERSION",
		"EMBEDDING_PROVIDER", "EMBEDDING_MODEL",
		"VECTOR_STORE", "RAG_PERSIST_DIR", "QDRANT_HOST", "QDRANT_PORT", "MILVUS_ADDRESS",
		"RAG_CHUNK_PRESET", "RAG_CHUNK_SIZE", "RAG_CHUNK_OVERLAP", "RAG_TOP_K",
		"DOCRAG_RATE_LIMIT", "LOG_LEVEL", "LOG_FORMAT",
	)

	log := slog.Default()
	loaded, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}

	checks := map[string]string{
		"MODEL_PROVIDER":           "azure",
		"MODEL_MAX_TOKENS":         "8192",
		"MODEL_TEMPERATURE":        "0.3",
		"AZURE_OPENAI_ENDPOINT":    "https://my-resource.openai.azure.com",
		"AZURE_OPENAI_DEPLOYMENT":  "gpt-4o",
		"AZURE_OPENAI_API_VERSION": "2025-04-01-preview",
		"EMBEDDING_PROVIDER":       "ollama",
		"EMBEDDING_MODEL":          "nomic-embed-text",
		"VECTOR_STORE":             "qdrant",
		"RAG_PERSIST_DIR":          "/var/lib/docrag",
		"QDRANT_HOST":              "qdrant.internal",
		"QDRANT_PORT":              "6334",
		"MILVUS_ADDRESS":           "milvus.internal:19530",
		"RAG_CHUNK_PRESET":         "large",
		"RAG_CHUNK_SIZE":           "1000",
		"RAG_CHUNK_OVERLAP":        "100",
		"RAG_TOP_K":                "6",
		"DOCRAG_RATE_LIMIT":        "2.5",
		"LOG_LEVEL":                "debug",
		"LOG_FORMAT":               "text",
	}
	for k, want := range checks {
		got := os.Getenv(k)
		if got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
model:
  provider: ollama
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	unsetAll(t, "DOCRAG_ENV_FILE")
	t.Setenv("MODEL_PROVIDER", "azure")

	if _, err := Load(cfgPath, slog.Default()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := os.Getenv("MODEL_PROVIDER"); got != "azure" {
		t.Errorf("MODEL_PROVIDER: expected env override %q, got %q", "azure", got)
	}
}

func TestLoad_DotEnvBeatsYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	envPath := filepath.Join(dir, "docrag.env")

	if err := os.WriteFile(cfgPath, []byte("rag:\n  top_k: 3\n  chunk_size: 800\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(envPath, []byte("RAG_TOP_K=9\nEMBEDDING_MODEL=mxbai-embed-large\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	unsetAll(t, "RAG_TOP_K", "RAG_CHUNK_SIZE", "EMBEDDING_MODEL")
	t.Setenv("DOCRAG_ENV_FILE", envPath)

	if _, err := Load(cfgPath, slog.Default()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	checks := map[string]string{
		"RAG_TOP_K":       "9",
		"RAG_CHUNK_SIZE":  "800",
		"EMBEDDING_MODEL": "mxbai-embed-large",
	}
	for k, want := range checks {
		if got := os.Getenv(k); got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
}

func TestLoadDotEnv_MissingExplicitFile(t *testing.T) {
	t.Parallel()
	if _, err := LoadDotEnv(filepath.Join(t.TempDir(), "nope.env"), slog.Default()); err == nil {
		t.Fatal("expected error for missing explicit env file")
	}
}

func TestLoadDotEnv_EnvWins(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envPath, []byte("LOG_LEVEL=debug\nOLLAMA_MODEL=mistral\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LOG_LEVEL", "warn")
	unsetAll(t, "OLLAMA_MODEL")

	n, err := LoadDotEnv(envPath, slog.Default())
	if err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if n != 1 {
		t.Errorf("applied = %d, want 1", n)
	}
	if got := os.Getenv("LOG_LEVEL"); got != "warn" {
		t.Errorf("LOG_LEVEL = %q, want warn", got)
	}
	if got := os.Getenv("OLLAMA_MODEL"); got != "mistral" {
		t.Errorf("OLLAMA_MODEL = %q, want mistral", got)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(cfgPath, []byte("{{invalid yaml"), 0o644); err != nil {
		t.Fatal(err)
	}
	unsetAll(t, "DOCRAG_ENV_FILE")

	if _, err := Load(cfgPath, slog.Default()); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestFloat32Str(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   float32
		want string
	}{
		{0.0, ""},
		{0.2, "0.2"},
		{0.3, "0.3"},
		{1.0, "1"},
	}
	for _, tt := range tests {
		if got := float32Str(tt.in); got != tt.want {
			t.Errorf("float32Str(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEnvKeys(t *testing.T) {
	t.Parallel()

	keys := EnvKeys()
	if len(keys) != len(envMapping) {
		t.Fatalf("EnvKeys() returned %d keys, want %d", len(keys), len(envMapping))
	}
	seen := map[string]bool{}
	for _, k := range keys {
		if seen[k] {
			t.Errorf("duplicate key %q", k)
		}
		seen[k] = true
	}
	for _, want := range []string{"VECTOR_STORE", "RAG_CHUNK_SIZE", "DOCRAG_HISTORY_DB", "EMBEDDING_MODEL"} {
		if !seen[want] {
			t.Errorf("EnvKeys() missing %s", want)
		}
	}
}
