// Package chunker splits page text into overlapping chunks by recursive
// character splitting over an ordered separator cascade. Separators are
// consumed at split points and reinserted as glue when pieces are merged
// back into chunks.
//
// Lengths are measured in runes so multi-byte text is sized the same as
// ASCII.
package chunker

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/54b3r/docrag-go/internal/rag"
)

// DefaultSeparators is the ordered separator cascade: structural markers
// first, then paragraph, line, sentence and word boundaries, and finally
// the empty separator which splits between characters.
var DefaultSeparators = []string{
	"\n```\n",
	"\n## ",
	"\n### ",
	"\n#### ",
	"\nclass ",
	"\ndef ",
	"\n\tdef ",
	"\npublic ",
	"\nprivate ",
	"\nprotected ",
	"\nfunction ",
	"\nfunc ",
	"\npackage ",
	"\nimport ",
	"\nmodule ",
	"\nBEGIN ",
	"\nsub ",
	"\nvar ",
	"\nlet ",
	"\nconst ",
	"\nSELECT ",
	"\nCREATE ",
	"\nINSERT ",
	"\nUPDATE ",
	"\nDELETE ",
	"\n\n",
	"\n",
	". ",
	" ",
	"",
}

// Config sizes a Splitter.
type Config struct {
	// Size is the maximum chunk length in runes.
	Size int
	// Overlap is the most runes consecutive chunks share. Must be smaller
	// than Size. Overlap is exact only when text is cut between runes;
	// otherwise the shared tail is made of whole pieces and may be shorter.
	Overlap int
	// Separators overrides DefaultSeparators when non-empty.
	Separators []string
}

// Presets.
var (
	// Default suits dense prose: 512-rune chunks with 150 runes of overlap.
	Default = Config{Size: 512, Overlap: 150}
	// Large keeps whole sections together: 2000-rune chunks, 100 overlap.
	Large = Config{Size: 2000, Overlap: 100}
)

// Preset returns the named preset ("default" or "large"; empty means default).
func Preset(name string) (Config, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "default":
		return Default, nil
	case "large":
		return Large, nil
	default:
		return Config{}, fmt.Errorf("chunker: unknown preset %q (valid: default, large): %w", name, rag.ErrInvalidInput)
	}
}

// ConfigFromEnv resolves RAG_CHUNK_PRESET, then applies RAG_CHUNK_SIZE and
// RAG_CHUNK_OVERLAP on top when set.
func ConfigFromEnv() (Config, error) {
	cfg, err := Preset(os.Getenv("RAG_CHUNK_PRESET"))
	if err != nil {
		return Config{}, err
	}
	if v := os.Getenv("RAG_CHUNK_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("chunker: RAG_CHUNK_SIZE=%q: %w", v, rag.ErrInvalidInput)
		}
		cfg.Size = n
	}
	if v := os.Getenv("RAG_CHUNK_OVERLAP"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("chunker: RAG_CHUNK_OVERLAP=%q: %w", v, rag.ErrInvalidInput)
		}
		cfg.Overlap = n
	}
	return cfg, nil
}

// Splitter is safe for concurrent use; it holds no mutable state.
type Splitter struct {
	size       int
	overlap    int
	separators []string
}

// New validates cfg and returns a Splitter. Chunks produced by one merge
// share at most cfg.Overlap runes; when separators apply, only whole pieces
// are carried over, so the shared tail can be shorter than cfg.Overlap.
func New(cfg Config) (*Splitter, error) {
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("chunker: size must be positive, got %d: %w", cfg.Size, rag.ErrInvalidInput)
	}
	if cfg.Overlap < 0 {
		return nil, fmt.Errorf("chunker: overlap must not be negative, got %d: %w", cfg.Overlap, rag.ErrInvalidInput)
	}
	if cfg.Overlap >= cfg.Size {
		return nil, fmt.Errorf("chunker: overlap %d must be smaller than size %d: %w", cfg.Overlap, cfg.Size, rag.ErrInvalidInput)
	}
	seps := cfg.Separators
	if len(seps) == 0 {
		seps = DefaultSeparators
	}
	return &Splitter{
		size:       cfg.Size,
		overlap:    cfg.Overlap,
		separators: append([]string(nil), seps...),
	}, nil
}

// Size returns the maximum chunk length in runes.
func (s *Splitter) Size() int { return s.size }

// Overlap returns the configured overlap in runes.
func (s *Splitter) Overlap() int { return s.overlap }

// Split returns the chunks of text in order. Empty or all-whitespace text
// yields no chunks.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.split(text, s.separators)
}

func (s *Splitter) split(text string, separators []string) []string {
	sep := separators[len(separators)-1]
	var next []string
	for i, c := range separators {
		if c == "" {
			sep = c
			break
		}
		if strings.Contains(text, c) {
			sep = c
			next = separators[i+1:]
			break
		}
	}

	var (
		out  []string
		good []string
	)
	for _, piece := range splitOn(text, sep) {
		if runeLen(piece) < s.size {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			out = append(out, s.merge(good, sep)...)
			good = nil
		}
		if len(next) == 0 {
			out = append(out, piece)
		} else {
			out = append(out, s.split(piece, next)...)
		}
	}
	if len(good) > 0 {
		out = append(out, s.merge(good, sep)...)
	}
	return out
}

// merge packs pieces into chunks of at most size runes joined by sep,
// carrying up to overlap runes of trailing pieces into the next chunk.
func (s *Splitter) merge(pieces []string, sep string) []string {
	sepLen := runeLen(sep)
	var (
		chunks  []string
		current []string
		total   int
	)
	glue := func(n int) int {
		if n > 0 {
			return sepLen
		}
		return 0
	}
	for _, p := range pieces {
		n := runeLen(p)
		if total+n+glue(len(current)) > s.size && len(current) > 0 {
			if c := join(current, sep); c != "" {
				chunks = append(chunks, c)
			}
			for total > s.overlap || (total+n+glue(len(current)) > s.size && total > 0) {
				total -= runeLen(current[0]) + glue(len(current)-1)
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n + glue(len(current)-1)
	}
	if c := join(current, sep); c != "" {
		chunks = append(chunks, c)
	}
	return chunks
}

func join(pieces []string, sep string) string {
	return strings.TrimSpace(strings.Join(pieces, sep))
}

// splitOn splits on sep, or between runes when sep is empty, and drops
// empty pieces.
func splitOn(text, sep string) []string {
	var parts []string
	if sep == "" {
		parts = make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			parts = append(parts, string(r))
		}
	} else {
		parts = strings.Split(text, sep)
	}
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
