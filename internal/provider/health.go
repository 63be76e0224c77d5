package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// defaultOpenAIBaseURL is used when OPENAI_BASE_URL is unset.
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	// defaultGeminiBaseURL is the Gemini REST API root.
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
)

// HealthCheckConfig probes a chat backend without spending tokens.
type HealthCheckConfig interface {
	HealthCheck(ctx context.Context) error
}

// HTTPHealthCheck probes the backend's model listing endpoint, which every
// supported provider serves for free.
type HTTPHealthCheck struct {
	cfg    *Config
	client *http.Client
	// geminiBase overrides the Gemini API root in tests.
	geminiBase string
}

var _ HealthCheckConfig = (*HTTPHealthCheck)(nil)

// NewHealthCheck returns a zero-cost health check for cfg's backend.
func NewHealthCheck(cfg *Config) *HTTPHealthCheck {
	return &HTTPHealthCheck{
		cfg:        cfg,
		client:     &http.Client{Timeout: 10 * time.Second},
		geminiBase: defaultGeminiBaseURL,
	}
}

// HealthCheck sends one GET to the backend and expects a 2xx response.
func (h *HTTPHealthCheck) HealthCheck(ctx context.Context) error {
	req, err := h.request(ctx)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider: %s health check: %w", h.cfg.Backend, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("provider: %s health check: status %d: %s",
			h.cfg.Backend, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// request builds the probe for the configured backend.
func (h *HTTPHealthCheck) request(ctx context.Context) (*http.Request, error) {
	var (
		target string
		header = http.Header{}
	)
	switch h.cfg.Backend {
	case BackendOllama:
		target = strings.TrimRight(h.cfg.Ollama.Host, "/") + "/api/tags"
	case BackendOpenAI:
		base := h.cfg.OpenAI.BaseURL
		if base == "" {
			base = defaultOpenAIBaseURL
		}
		target = strings.TrimRight(base, "/") + "/models"
		header.Set("Authorization", "Bearer "+h.cfg.OpenAI.APIKey)
	case BackendAzure:
		az := h.cfg.AzureOpenAI
		target = strings.TrimRight(az.Endpoint, "/") + "/openai/models?api-version=" + url.QueryEscape(az.APIVersion)
		header.Set("api-key", az.APIKey)
	case BackendBedrock:
		if h.cfg.Bedrock.Endpoint == "" {
			return nil, fmt.Errorf("provider: bedrock health check needs BEDROCK_ENDPOINT")
		}
		target = strings.TrimRight(h.cfg.Bedrock.Endpoint, "/") + "/models"
		header.Set("Authorization", "Bearer "+h.cfg.Bedrock.APIKey)
	case BackendGemini:
		target = strings.TrimRight(h.geminiBase, "/") + "/models/" + url.PathEscape(h.cfg.Gemini.Model)
		header.Set("x-goog-api-key", h.cfg.Gemini.APIKey)
	default:
		return nil, fmt.Errorf("provider: unknown backend %q", h.cfg.Backend)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("provider: %s health check: %w", h.cfg.Backend, err)
	}
	req.Header = header
	return req, nil
}
