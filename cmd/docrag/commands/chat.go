package commands

import (
	"fmt"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/store"
	"github.com/54b3r/docrag-go/internal/tui"
)

// NewChatCmd constructs the `docrag chat` command, an interactive terminal
// conversation with one collection.
func NewChatCmd() *cobra.Command {
	var k int

	cmd := &cobra.Command{
		Use:   "chat <collection>",
		Short: "Start an interactive chat with an ingested document",
		Long: `Open an interactive terminal chat about one ingested document.

Earlier turns stored for the collection are shown and replayed to the
model; each new turn is saved. Every answer is followed by the passages
it drew on, highlighted.

Logs go to stderr; set LOG_LEVEL=error to keep them off the screen.

Examples:
  docrag chat Annual_Report_collection
  LOG_LEVEL=error docrag chat -k 6 q3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)
			collection := args[0]

			emb, err := openEmbedder(ctx, log)
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			gw, err := openGateway(ctx, log)
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			defer func() { _ = gw.Close() }()

			exists, err := gw.Exists(ctx, collection)
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			if !exists {
				return fmt.Errorf("chat: collection %q not found; run 'docrag collections list'", collection)
			}

			hist, closeHistory, err := openHistory(log)
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			defer closeHistory()

			var prior []store.Message
			if hist != nil {
				if prior, err = hist.All(ctx, collection); err != nil {
					log.Warn("history: could not load prior turns", slog.Any("error", err))
				}
			}

			responder, _, err := newResponder(ctx, gw, emb, hist, log)
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}

			m := tui.New(ctx, responder, collection, k, prior)
			if _, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&k, "top-k", "k", 0, "Number of passages to retrieve (default: RAG_TOP_K or 4)")

	return cmd
}
