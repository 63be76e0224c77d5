package agent

import (
	"slices"
	"strings"
	"unicode"

	"github.com/54b3r/docrag-go/internal/rag"
)

const (
	// trigramThreshold is the share of a source sentence's word trigrams
	// that must also occur in the answer for the sentence to count as used.
	trigramThreshold = 0.3

	// minVerbatim is the shortest run of characters shared verbatim with the
	// answer that marks a source sentence as used.
	minVerbatim = 20
)

// Attribute returns a copy of sources with Used and Highlights set for every
// source the answer drew on. A source sentence is highlighted when at least
// 30% of its word trigrams appear in the answer or when it shares a verbatim
// run of 20 or more characters with it. Matching is case-insensitive.
// Attribute never fails: on a panic the sources are returned unmarked.
func Attribute(answer string, sources []rag.RetrievedSource) (out []rag.RetrievedSource) {
	out = make([]rag.RetrievedSource, len(sources))
	for i, s := range sources {
		s.Used = false
		s.Highlights = nil
		out[i] = s
	}

	defer func() {
		if rec := recover(); rec != nil {
			for i := range out {
				out[i].Used = false
				out[i].Highlights = nil
			}
		}
	}()

	flat := flatten(answer)
	if flat == "" {
		return out
	}
	answerGrams := trigrams(words(flat))

	for i := range out {
		content := out[i].Unit.Content
		for _, sp := range sentences(content) {
			sent := content[sp.Start:sp.End]
			if matches(sent, flat, answerGrams) {
				out[i].Highlights = append(out[i].Highlights, sp)
			}
		}
		out[i].Used = len(out[i].Highlights) > 0
	}
	return out
}

// matches reports whether a source sentence is reflected in the flattened answer.
func matches(sentence, answer string, answerGrams map[string]struct{}) bool {
	flat := flatten(sentence)
	if grams := trigrams(words(flat)); len(grams) > 0 {
		hit := 0
		for g := range grams {
			if _, ok := answerGrams[g]; ok {
				hit++
			}
		}
		if float64(hit)/float64(len(grams)) >= trigramThreshold {
			return true
		}
	}
	return sharesRun(flat, answer, minVerbatim)
}

// sharesRun reports whether a and b have a common substring of at least n bytes.
func sharesRun(a, b string, n int) bool {
	if len(a) < n || len(b) < n {
		return false
	}
	for i := 0; i+n <= len(a); i++ {
		if strings.Contains(b, a[i:i+n]) {
			return true
		}
	}
	return false
}

// flatten lowercases s and collapses whitespace runs to single spaces.
func flatten(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// words splits s into letter/digit runs.
func words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func trigrams(ws []string) map[string]struct{} {
	if len(ws) < 3 {
		return nil
	}
	out := make(map[string]struct{}, len(ws)-2)
	for i := 0; i+3 <= len(ws); i++ {
		out[ws[i]+" "+ws[i+1]+" "+ws[i+2]] = struct{}{}
	}
	return out
}

// sentences splits content into sentence spans. A sentence ends at '.', '!'
// or '?' followed by whitespace, at a newline, or at the end of content.
// Spans exclude surrounding whitespace; empty sentences are skipped.
func sentences(content string) []rag.Span {
	var spans []rag.Span
	emit := func(start, end int) {
		for start < end && isSpace(content[start]) {
			start++
		}
		for end > start && isSpace(content[end-1]) {
			end--
		}
		if end > start {
			spans = append(spans, rag.Span{Start: start, End: end})
		}
	}

	start := 0
	for i := 0; i < len(content); i++ {
		switch c := content[i]; {
		case c == '\n':
			emit(start, i)
			start = i + 1
		case c == '.' || c == '!' || c == '?':
			if i+1 == len(content) || isSpace(content[i+1]) {
				emit(start, i+1)
				start = i + 1
			}
		}
	}
	emit(start, len(content))
	return spans
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// Mark returns content with every highlight wrapped in before and after.
// Overlapping or out-of-range spans are clipped.
func Mark(content string, spans []rag.Span, before, after string) string {
	return MarkFunc(content, spans, func(s string) string { return before + s + after })
}

// MarkFunc is Mark with each highlighted passage rewritten by fn, for
// renderers that style passages instead of wrapping them in markers.
func MarkFunc(content string, spans []rag.Span, fn func(string) string) string {
	if len(spans) == 0 {
		return content
	}
	sorted := slices.Clone(spans)
	slices.SortFunc(sorted, func(a, b rag.Span) int { return a.Start - b.Start })

	var sb strings.Builder
	pos := 0
	for _, sp := range sorted {
		start := max(sp.Start, pos)
		end := min(sp.End, len(content))
		if start >= end {
			continue
		}
		sb.WriteString(content[pos:start])
		sb.WriteString(fn(content[start:end]))
		pos = end
	}
	sb.WriteString(content[pos:])
	return sb.String()
}
