package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/docrag-go/internal/agent"
	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/store"
)

// NewAskCmd constructs the `docrag ask` command, which answers a single
// question from one collection and streams the answer to stdout.
func NewAskCmd() *cobra.Command {
	var (
		k         int
		noHistory bool
	)

	cmd := &cobra.Command{
		Use:   "ask <collection> <question>",
		Short: "Ask a question about an ingested document",
		Long: `Ask a natural language question about one ingested document.

The answer is generated only from passages retrieved from the collection.
When nothing relevant is found docrag says so instead of guessing. After
the answer, the sources are listed with their page number and content
type; passages the answer drew on are wrapped in [[...]].

Prior turns for the collection are loaded from the history store and the
new turn is saved, unless --no-history is set.

Examples:
  docrag ask Annual_Report_collection "how did revenue change in Q3?"
  docrag ask -k 8 q3 "summarise the risk factors table"`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			emb, err := openEmbedder(ctx, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			gw, err := openGateway(ctx, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer func() { _ = gw.Close() }()

			var hist store.ConversationStore
			closeHistory := func() {}
			if !noHistory {
				if hist, closeHistory, err = openHistory(log); err != nil {
					return fmt.Errorf("ask: %w", err)
				}
			}
			defer closeHistory()

			responder, _, err := newResponder(ctx, gw, emb, hist, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			out := cmd.OutOrStdout()
			req := agent.Request{
				Collection: args[0],
				Question:   strings.Join(args[1:], " "),
				K:          k,
			}
			ans, err := responder.Stream(ctx, req, func(tok string) error {
				_, err := fmt.Fprint(out, tok)
				return err
			})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			fmt.Fprintln(out)
			writeSources(out, ans.Sources)
			return nil
		},
	}

	cmd.Flags().IntVarP(&k, "top-k", "k", 0, "Number of passages to retrieve (default: RAG_TOP_K or 4)")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "Answer without loading or saving conversation history")

	return cmd
}
