// Package budget provides token budget estimation and message trimming for
// the answer prompt. The retrieved context and the question are fixed; chat
// history is dropped oldest-first until the prompt fits.
//
// Two counters are available. Heuristic assumes 1 token ≈ 4 characters
// (English prose and code) and needs nothing. TikToken counts exactly with
// an OpenAI BPE encoding via github.com/pkoukk/tiktoken-go; loading the
// encoding may need network access, so NewCounter falls back to Heuristic
// when it cannot be loaded.
package budget

import (
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/schema"
	"github.com/pkoukk/tiktoken-go"
)

const (
	// charsPerToken is the character-to-token ratio of the heuristic.
	charsPerToken = 4

	// messageOverhead is the per-message framing cost in most chat APIs.
	messageOverhead = 4

	// DefaultMaxContextTokens is the prompt budget when
	// RAG_MAX_CONTEXT_TOKENS is unset. It fits an 8k-context model with room
	// for the answer.
	DefaultMaxContextTokens = 6000

	// DefaultEncoding is the BPE encoding used by TikToken counters.
	DefaultEncoding = "cl100k_base"
)

// Counter counts tokens in a string.
// Implementations must be safe for concurrent use.
type Counter interface {
	Count(s string) int
}

// Heuristic is the character-ratio Counter.
type Heuristic struct{}

// Count implements Counter.
func (Heuristic) Count(s string) int { return Estimate(s) }

// TikToken counts tokens exactly with a tiktoken encoding.
type TikToken struct {
	enc *tiktoken.Tiktoken
}

// NewTikToken loads the named encoding (e.g. "cl100k_base").
func NewTikToken(encoding string) (*TikToken, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("budget: load encoding %q: %w", encoding, err)
	}
	return &TikToken{enc: enc}, nil
}

// Count implements Counter.
func (t *TikToken) Count(s string) int {
	if s == "" {
		return 0
	}
	return len(t.enc.Encode(s, nil, nil))
}

// NewCounter returns a TikToken counter for encoding, or Heuristic when the
// encoding is empty or cannot be loaded.
func NewCounter(encoding string, log *slog.Logger) Counter {
	if encoding == "" {
		return Heuristic{}
	}
	tt, err := NewTikToken(encoding)
	if err != nil {
		if log != nil {
			log.Warn("token encoding unavailable, using character heuristic",
				slog.String("encoding", encoding), slog.Any("error", err))
		}
		return Heuristic{}
	}
	return tt
}

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing role + content for each message.
func EstimateMessages(msgs []*schema.Message) int {
	return CountMessages(Heuristic{}, msgs)
}

// CountMessages is EstimateMessages with an explicit counter.
func CountMessages(c Counter, msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageOverhead
		total += c.Count(string(m.Role))
		total += c.Count(m.Content)
	}
	return total
}

// TrimHistory removes the oldest messages from history until the total
// estimated token count of fixed + history + current fits within maxTokens.
// fixed contains messages that must not be trimmed (system prompt, retrieved
// context, current question). history contains prior conversation turns
// that may be dropped oldest-first.
//
// Returns the trimmed history slice. If even an empty history exceeds the
// budget, the empty slice is returned (fixed messages are never dropped here;
// callers warn separately if fixed alone exceeds the budget).
func TrimHistory(fixed, history []*schema.Message, maxTokens int) []*schema.Message {
	return Trim(Heuristic{}, fixed, history, maxTokens)
}

// Trim is TrimHistory with an explicit counter.
func Trim(c Counter, fixed, history []*schema.Message, maxTokens int) []*schema.Message {
	if len(history) == 0 {
		return history
	}

	fixedTokens := CountMessages(c, fixed)

	// Count each message once and drop from the front.
	costs := make([]int, len(history))
	total := 0
	for i, m := range history {
		costs[i] = CountMessages(c, []*schema.Message{m})
		total += costs[i]
	}
	start := 0
	for start < len(history) && fixedTokens+total > maxTokens {
		total -= costs[start]
		start++
	}
	return history[start:]
}
