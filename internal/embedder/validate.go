package embedder

import (
	"log/slog"
	"strings"
)

// chatModelMarkers are name fragments of chat/completion models. An
// EMBEDDING_MODEL containing one is almost certainly a misconfiguration.
var chatModelMarkers = []string{
	"gpt-4", "gpt-3.5", "gpt-35", "o1", "o3",
	"llama2", "llama3", "llama-2", "llama-3",
	"mistral", "mixtral", "gemma", "phi-", "phi3",
	"claude", "command-r", "deepseek", "qwen",
	"solar", "vicuna", "falcon", "yi-",
}

// looksLikeChatModel reports whether model resembles a chat model rather than
// a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	for _, m := range chatModelMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// Validate is the startup check run before NewFromEnv. Broken configuration
// (a missing key or endpoint, an unsupported backend) is an error; an
// inherited backend or a chat-looking EMBEDDING_MODEL only warns.
func Validate(log *slog.Logger) error {
	s := resolveSettings()

	if s.inherited && s.backend != "ollama" {
		log.Warn("embedder: EMBEDDING_PROVIDER unset, using MODEL_PROVIDER",
			slog.String("backend", s.backend),
			slog.String("hint", "set EMBEDDING_PROVIDER explicitly"),
		)
	}
	if err := s.check(); err != nil {
		return err
	}
	if looksLikeChatModel(s.model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model",
			slog.String("model", s.model),
			slog.String("hint", "use an embedding model such as nomic-embed-text or text-embedding-3-small"),
		)
	}
	return nil
}
