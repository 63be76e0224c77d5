// Package provider constructs the chat model used by the response
// generator. The backend is selected at runtime from configuration;
// supported backends are Ollama, OpenAI, Azure OpenAI, an OpenAI-style
// Bedrock gateway and Google Gemini.
package provider

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendBedrock selects a Bedrock model behind an Ark-compatible endpoint.
	BackendBedrock Backend = "bedrock"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
)

// Backends lists every valid backend, in the order shown in help text.
var Backends = []Backend{BackendOllama, BackendOpenAI, BackendAzure, BackendBedrock, BackendGemini}

// Config holds the provider selection and per-backend settings.
type Config struct {
	// Backend identifies which inference provider to use.
	Backend Backend

	Ollama      ProviderOllama
	OpenAI      ProviderOpenAI
	AzureOpenAI ProviderAzureOpenAI
	Bedrock     ProviderBedrock
	Gemini      ProviderGemini

	// Tuning applies to every backend that supports it.
	Tuning SharedTuning
}

// ProviderOllama holds Ollama settings.
type ProviderOllama struct {
	Host  string
	Model string
}

// ProviderOpenAI holds OpenAI settings. BaseURL is optional and lets the
// OpenAI client talk to compatible gateways.
type ProviderOpenAI struct {
	APIKey  string
	Model   string
	BaseURL string
}

// ProviderAzureOpenAI holds Azure OpenAI settings.
type ProviderAzureOpenAI struct {
	APIKey     string
	Endpoint   string
	Deployment string
	APIVersion string
}

// ProviderBedrock holds Bedrock settings. Endpoint and APIKey address the
// Ark-compatible runtime that fronts the Bedrock model.
type ProviderBedrock struct {
	AWSRegion string
	ModelID   string
	Endpoint  string
	APIKey    string
}

// ProviderGemini holds Gemini settings.
type ProviderGemini struct {
	APIKey string
	Model  string
}

// SharedTuning holds generation parameters common to all backends.
type SharedTuning struct {
	// MaxTokens caps the generated answer length. Zero leaves the backend default.
	MaxTokens int
	// Temperature controls randomness, 0.0–2.0. Grounded answering wants it low.
	Temperature float32
}

// ModelName returns the model identifier for the selected backend. It is
// logged at startup and reported by the readiness probe.
func (c *Config) ModelName() string {
	switch c.Backend {
	case BackendOllama:
		return c.Ollama.Model
	case BackendOpenAI:
		return c.OpenAI.Model
	case BackendAzure:
		return c.AzureOpenAI.Deployment
	case BackendBedrock:
		return c.Bedrock.ModelID
	case BackendGemini:
		return c.Gemini.Model
	default:
		return ""
	}
}
