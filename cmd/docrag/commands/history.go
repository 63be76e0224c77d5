package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/store"
)

// NewHistoryCmd constructs `docrag history` with export, import and clear.
// History is stored per collection in the SQLite database at
// DOCRAG_HISTORY_DB (default: ~/.docrag/history.db).
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Export, import or clear the conversation history of a collection",
	}
	cmd.AddCommand(newHistoryExportCmd(), newHistoryImportCmd(), newHistoryClearCmd())
	return cmd
}

// withHistory opens the history store for the duration of fn.
func withHistory(cmd *cobra.Command, fn func(store.ConversationStore) error) error {
	hist, closeHistory, err := openHistory(logging.FromContext(cmd.Context()))
	if err != nil {
		return err
	}
	defer closeHistory()
	if hist == nil {
		return fmt.Errorf("history: disabled via DOCRAG_HISTORY_DB")
	}
	return fn(hist)
}

func newHistoryExportCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <collection>",
		Short: "Write the conversation as a JSON array",
		Long: `Write the conversation of a collection as a JSON array indented by two
spaces. Each record has a role, the content and, for answers, the sources.

Examples:
  docrag history export q3 > q3-chat.json
  docrag history export -o q3-chat.json q3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, func(hist store.ConversationStore) error {
				var w io.Writer = cmd.OutOrStdout()
				if output != "" {
					f, err := os.Create(output)
					if err != nil {
						return fmt.Errorf("history: %w", err)
					}
					defer func() { _ = f.Close() }()
					w = f
				}
				return store.Export(cmd.Context(), hist, args[0], w)
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to this file instead of stdout")

	return cmd
}

func newHistoryImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <collection> <file.json>",
		Short: "Replace the conversation with an exported JSON array",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[1])
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			defer func() { _ = f.Close() }()

			return withHistory(cmd, func(hist store.ConversationStore) error {
				n, err := store.Import(cmd.Context(), hist, args[0], f)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d messages imported\n", args[0], n)
				return nil
			})
		},
	}
}

func newHistoryClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <collection>",
		Short: "Delete the conversation of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, func(hist store.ConversationStore) error {
				n, err := hist.Clear(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d messages removed\n", args[0], n)
				return nil
			})
		},
	}
}
