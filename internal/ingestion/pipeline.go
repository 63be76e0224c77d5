// Package ingestion implements the document ingestion pipeline.
// It opens a PDF, runs the text, table and image extractors over it,
// normalizes the resulting units, embeds them and writes them into one
// named collection through the collection store gateway.
// This pipeline is invoked by the `docrag ingest` CLI command and the
// POST /api/ingest endpoint.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/54b3r/docrag-go/internal/chunker"
	"github.com/54b3r/docrag-go/internal/extract"
	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/rag"
)

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// Chunking sizes the text chunks. Zero value means chunker.Default.
	Chunking chunker.Config

	// Text, Tables and Images override the default extractors. Nil fields
	// get the package defaults from internal/extract.
	Text   extract.Extractor
	Tables extract.Extractor
	Images extract.Extractor

	// Logger receives progress and per-extractor failures. Nil discards.
	Logger *slog.Logger
}

// Result summarizes one Ingest call.
type Result struct {
	// Collection is the collection written, or skipped.
	Collection string `json:"collection"`

	// Skipped is true when the collection already existed and nothing was
	// written.
	Skipped bool `json:"skipped"`

	Pages      int `json:"pages"`
	TextChunks int `json:"text_chunks"`
	Tables     int `json:"tables"`
	Images     int `json:"images"`

	// Dropped counts units that were empty after normalization.
	Dropped int `json:"dropped"`

	// Total is the number of units stored.
	Total int `json:"total"`

	Duration time.Duration `json:"duration"`
}

// Pipeline orchestrates the extract → normalize → embed → store flow for
// one document into one collection.
type Pipeline struct {
	// gateway owns every collection mutation.
	gateway rag.Gateway

	// embedder converts unit content into vectors.
	embedder rag.Embedder

	text, tables, images extract.Extractor

	log *slog.Logger
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(gateway rag.Gateway, embedder rag.Embedder, cfg *Config) (*Pipeline, error) {
	if gateway == nil {
		return nil, fmt.Errorf("ingestion: gateway must not be nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	log := logging.Component(cfg.Logger, "ingestion")

	p := &Pipeline{
		gateway:  gateway,
		embedder: embedder,
		text:     cfg.Text,
		tables:   cfg.Tables,
		images:   cfg.Images,
		log:      log,
	}
	if p.text == nil {
		chunking := cfg.Chunking
		if chunking.Size == 0 {
			chunking = chunker.Default
		}
		splitter, err := chunker.New(chunking)
		if err != nil {
			return nil, fmt.Errorf("ingestion: %w", err)
		}
		if p.text, err = extract.NewTextExtractor(splitter, cfg.Logger); err != nil {
			return nil, fmt.Errorf("ingestion: %w", err)
		}
	}
	if p.tables == nil {
		p.tables = extract.NewTableExtractor(cfg.Logger)
	}
	if p.images == nil {
		p.images = extract.NewImageExtractor(cfg.Logger)
	}
	return p, nil
}

// extraction is the outcome of one extractor run.
type extraction struct {
	units []rag.ContentUnit
	err   error
}

// Ingest indexes the PDF at path into collection. An empty collection
// name is derived with CollectionName. When the collection already exists
// Ingest returns a Result with Skipped set and writes nothing.
//
// The text extractor is required: its failure aborts with
// rag.ErrExtraction. Table and image extractor failures are logged and
// their units omitted. Either every unit is stored or no collection is
// left behind.
func (p *Pipeline) Ingest(ctx context.Context, path, collection string) (*Result, error) {
	started := time.Now()
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("ingestion: document path is empty: %w", rag.ErrInvalidInput)
	}
	if collection == "" {
		collection = CollectionName(path)
	}
	log := p.log.With(slog.String("collection", collection), slog.String("path", path))

	decision, err := rag.CreateOrGet(ctx, p.gateway, collection)
	if err != nil {
		return nil, fmt.Errorf("ingestion: %w", err)
	}
	if decision == rag.DecisionSkip {
		log.Info("collection exists, skipping ingestion")
		return &Result{Collection: collection, Skipped: true, Duration: time.Since(started)}, nil
	}

	doc, err := extract.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingestion: %w", err)
	}
	defer func() { _ = doc.Close() }()

	extractors := []extract.Extractor{p.text, p.tables, p.images}
	results := make([]extraction, len(extractors))
	var wg sync.WaitGroup
	for i, e := range extractors {
		wg.Go(func() {
			units, err := runExtractor(ctx, e, doc)
			results[i] = extraction{units: units, err: err}
		})
	}
	wg.Wait()

	if err := results[0].err; err != nil {
		return nil, fmt.Errorf("ingestion: %s extractor: %w", p.text.Name(), err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for i := 1; i < len(results); i++ {
		if err := results[i].err; err != nil {
			log.Warn("extractor failed, continuing without its units",
				slog.String("extractor", extractors[i].Name()),
				slog.Any("error", err),
			)
			results[i].units = nil
		}
	}

	res := &Result{
		Collection: collection,
		Pages:      doc.NumPages(),
		TextChunks: len(results[0].units),
		Tables:     len(results[1].units),
		Images:     len(results[2].units),
	}

	units := make([]rag.ContentUnit, 0, res.TextChunks+res.Tables+res.Images)
	for _, r := range results {
		for _, u := range r.units {
			u.Content = Normalize(u.Content)
			if u.Content == "" {
				res.Dropped++
				continue
			}
			units = append(units, u)
		}
	}
	res.Total = len(units)

	log.Info("document extracted",
		slog.Int("pages", res.Pages),
		slog.Int("text_chunks", res.TextChunks),
		slog.Int("tables", res.Tables),
		slog.Int("images", res.Images),
		slog.Int("dropped", res.Dropped),
		slog.Int("total", res.Total),
	)

	if err := p.gateway.Write(ctx, collection, units, p.embedder); err != nil {
		if rag.Kind(err) == rag.ErrCollectionExists {
			// Another ingestion of the same name won the race.
			log.Info("collection created concurrently, skipping ingestion")
			return &Result{Collection: collection, Skipped: true, Duration: time.Since(started)}, nil
		}
		return nil, fmt.Errorf("ingestion: %w", err)
	}

	res.Duration = time.Since(started)
	log.Info("ingestion complete", slog.Int("total", res.Total), slog.Duration("duration", res.Duration))
	return res, nil
}

// runExtractor calls e, converting a panic into rag.ErrExtraction so one
// misbehaving extractor cannot take down the others.
func runExtractor(ctx context.Context, e extract.Extractor, doc *extract.Document) (units []rag.ContentUnit, err error) {
	defer func() {
		if r := recover(); r != nil {
			units, err = nil, fmt.Errorf("%s extractor panicked: %v: %w", e.Name(), r, rag.ErrExtraction)
		}
	}()
	units, err = e.Extract(ctx, doc)
	if err != nil && ctx.Err() == nil && rag.Kind(err) != rag.ErrExtraction {
		err = fmt.Errorf("%w: %w", rag.ErrExtraction, err)
	}
	return units, err
}
