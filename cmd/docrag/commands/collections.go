package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/rag"
)

// NewCollectionsCmd constructs `docrag collections` with its list and delete
// subcommands.
func NewCollectionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "collections",
		Aliases: []string{"coll"},
		Short:   "List or delete ingested documents",
	}
	cmd.AddCommand(newCollectionsListCmd(), newCollectionsDeleteCmd())
	return cmd
}

func newCollectionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List collections with their unit counts and embedding model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			gw, err := openGateway(ctx, logging.FromContext(ctx))
			if err != nil {
				return fmt.Errorf("collections: %w", err)
			}
			defer func() { _ = gw.Close() }()

			infos, err := gw.List(ctx)
			if err != nil {
				return fmt.Errorf("collections: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(infos) == 0 {
				fmt.Fprintln(out, "No collections. Ingest a PDF with 'docrag ingest <file.pdf>'.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tUNITS\tEMBEDDING MODEL\tSOURCE")
			for _, c := range infos {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", c.Name, c.Count, c.EmbeddingModel, c.Source)
			}
			return tw.Flush()
		},
	}
}

func newCollectionsDeleteCmd() *cobra.Command {
	var keepHistory bool

	cmd := &cobra.Command{
		Use:   "delete <collection> [collection...]",
		Short: "Delete collections and their conversation history",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			gw, err := openGateway(ctx, log)
			if err != nil {
				return fmt.Errorf("collections: %w", err)
			}
			defer func() { _ = gw.Close() }()

			hist, closeHistory, err := openHistory(log)
			if err != nil {
				return fmt.Errorf("collections: %w", err)
			}
			defer closeHistory()

			out := cmd.OutOrStdout()
			var errs []error
			for _, name := range args {
				if err := gw.Delete(ctx, name); err != nil {
					if rag.IsNotFound(err) {
						fmt.Fprintf(out, "%s: not found\n", name)
					}
					errs = append(errs, err)
					continue
				}
				fmt.Fprintf(out, "%s: deleted\n", name)
				if hist == nil || keepHistory {
					continue
				}
				if n, err := hist.Clear(ctx, name); err != nil {
					log.Warn("history not cleared", slog.String("collection", name), slog.Any("error", err))
				} else if n > 0 {
					fmt.Fprintf(out, "%s: %d history messages removed\n", name, n)
				}
			}
			return errors.Join(errs...)
		},
	}

	cmd.Flags().BoolVar(&keepHistory, "keep-history", false, "Keep the collection's conversation history")

	return cmd
}
