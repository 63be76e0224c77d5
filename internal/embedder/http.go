package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"

	"github.com/54b3r/docrag-go/internal/rag"
)

// maxResponseBytes caps an embeddings response body. 256 inputs of 3072
// float32 dimensions encode to roughly 10 MiB of JSON.
const maxResponseBytes = 64 << 20

// postJSON posts body as JSON to url and decodes a 2xx response into out.
// For any other status the error carries the message apiError extracts from
// the body, or the status line when it finds none. Transport, status and
// decode failures all wrap rag.ErrEmbedding.
func postJSON(ctx context.Context, client *http.Client, url string, header http.Header, body, out any, apiError func([]byte) string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	maps.Copy(req.Header, header)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w: %w", rag.ErrEmbedding, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w: %w", rag.ErrEmbedding, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := apiError(raw)
		if msg == "" {
			msg = resp.Status
		}
		return fmt.Errorf("%s: %w", msg, rag.ErrEmbedding)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w: %w", rag.ErrEmbedding, err)
	}
	return nil
}

// checkVectors verifies that a response holds one non-empty vector per input
// and that every vector has the same dimension.
func checkVectors(inputs int, vecs [][]float32) error {
	if len(vecs) != inputs {
		return fmt.Errorf("expected %d embeddings, got %d: %w", inputs, len(vecs), rag.ErrEmbedding)
	}
	for i, v := range vecs {
		if len(v) == 0 {
			return fmt.Errorf("embedding %d is empty: %w", i, rag.ErrEmbedding)
		}
		if len(v) != len(vecs[0]) {
			return fmt.Errorf("embedding %d has %d dimensions, want %d: %w", i, len(v), len(vecs[0]), rag.ErrEmbedding)
		}
	}
	return nil
}
