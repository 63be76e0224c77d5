package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/54b3r/docrag-go/internal/agent"
	"github.com/54b3r/docrag-go/internal/rag"
)

// highlightOpen and highlightClose wrap passages the answer drew on.
const (
	highlightOpen  = "[["
	highlightClose = "]]"
)

// writeSources prints the sources behind an answer. Sources the answer used
// come first with their matching passages wrapped in [[...]]; the rest are
// listed by location only.
func writeSources(w io.Writer, sources []rag.RetrievedSource) {
	if len(sources) == 0 {
		return
	}
	fmt.Fprintln(w, "\nSources:")
	for _, src := range sources {
		if !src.Used {
			continue
		}
		fmt.Fprintf(w, "  [%d] %s\n", src.Rank, agent.Describe(src.Unit))
		body := agent.Mark(src.Unit.Content, src.Highlights, highlightOpen, highlightClose)
		for line := range strings.SplitSeq(strings.TrimSpace(body), "\n") {
			fmt.Fprintf(w, "      %s\n", line)
		}
	}
	for _, src := range sources {
		if !src.Used {
			fmt.Fprintf(w, "  [%d] %s (not cited)\n", src.Rank, agent.Describe(src.Unit))
		}
	}
}

