package commands

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/docrag-go/internal/chunker"
	"github.com/54b3r/docrag-go/internal/logging"
)

// NewIngestCmd constructs the `docrag ingest` command, which runs the
// ingestion pipeline over one or more PDF files, one collection per file.
func NewIngestCmd() *cobra.Command {
	var (
		collection string
		preset     string
		size       int
		overlap    int
	)

	cmd := &cobra.Command{
		Use:   "ingest <file.pdf> [file.pdf...]",
		Short: "Index PDF documents into the vector store",
		Long: `Extract text, tables and images from PDF documents and index them into
the vector store. Each file becomes its own collection, named after the
file ("Annual Report.pdf" becomes "Annual_Report_collection") unless
--collection is given.

A document whose collection already exists is skipped; delete the
collection first to re-index it.

Relevant environment variables:
  VECTOR_STORE         chromem (default), qdrant, milvus or memory
  RAG_PERSIST_DIR      chromem data directory (default: ./chroma_db)
  EMBEDDING_PROVIDER   ollama, openai, azure or gemini
  RAG_CHUNK_PRESET     default (512/150) or large (2000/100)
  RAG_CHUNK_SIZE       chunk size in characters, overrides the preset
  RAG_CHUNK_OVERLAP    chunk overlap in characters, overrides the preset

The --preset, --chunk-size and --chunk-overlap flags take precedence
over the environment.

Examples:
  docrag ingest ./reports/q3.pdf
  docrag ingest --collection q3 ./reports/q3.pdf
  docrag ingest --preset large ./manual.pdf
  VECTOR_STORE=qdrant docrag ingest ./a.pdf ./b.pdf`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			if collection != "" && len(args) > 1 {
				return fmt.Errorf("ingest: --collection requires exactly one file")
			}

			chunking, err := chunkingConfig(cmd, preset, size, overlap)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			emb, err := openEmbedder(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			gw, err := openGateway(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer func() { _ = gw.Close() }()

			pipeline, err := newPipeline(gw, emb, chunking, log)
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			out := cmd.OutOrStdout()
			for _, path := range args {
				res, err := pipeline.Ingest(ctx, path, collection)
				if err != nil {
					return fmt.Errorf("ingest: %s: %w", path, err)
				}
				if res.Skipped {
					fmt.Fprintf(out, "%s: collection %q already exists, skipped\n", path, res.Collection)
					continue
				}
				fmt.Fprintf(out, "%s: %d pages -> %q (%d text chunks, %d tables, %d images) in %s\n",
					path, res.Pages, res.Collection, res.TextChunks, res.Tables, res.Images,
					res.Duration.Round(time.Millisecond))
				log.Info("ingestion complete",
					slog.String("collection", res.Collection),
					slog.Int("units", res.Total),
					slog.Int("dropped", res.Dropped),
				)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&collection, "collection", "c", "", "Collection name (default: derived from the file name)")
	cmd.Flags().StringVar(&preset, "preset", "", "Chunking preset: default or large")
	cmd.Flags().IntVar(&size, "chunk-size", 0, "Chunk size in characters")
	cmd.Flags().IntVar(&overlap, "chunk-overlap", 0, "Chunk overlap in characters")

	return cmd
}

// chunkingConfig starts from the environment and applies whichever chunking
// flags were given on the command line.
func chunkingConfig(cmd *cobra.Command, preset string, size, overlap int) (chunker.Config, error) {
	cfg, err := chunker.ConfigFromEnv()
	if err != nil {
		return chunker.Config{}, err
	}
	if cmd.Flags().Changed("preset") {
		if cfg, err = chunker.Preset(preset); err != nil {
			return chunker.Config{}, err
		}
	}
	if cmd.Flags().Changed("chunk-size") {
		cfg.Size = size
	}
	if cmd.Flags().Changed("chunk-overlap") {
		cfg.Overlap = overlap
	}
	_, err = chunker.New(cfg)
	return cfg, err
}
