package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/54b3r/docrag-go/internal/logging"
)

// DefaultTopK is the number of sources retrieved when the caller passes k <= 0.
const DefaultTopK = 4

// Retriever turns a question into ranked sources from one collection. It
// embeds the query with the same model the collection was built with and
// delegates similarity search to the Gateway.
type Retriever struct {
	// gateway performs the vector similarity search.
	gateway Gateway

	// embedder converts query text to a dense vector.
	embedder Embedder

	// defaultK is the number of results to return when the caller passes 0.
	defaultK int

	log *slog.Logger
}

// NewRetriever constructs a Retriever. defaultK <= 0 selects DefaultTopK.
func NewRetriever(gw Gateway, emb Embedder, defaultK int, log *slog.Logger) (*Retriever, error) {
	if gw == nil {
		return nil, fmt.Errorf("rag: gateway must not be nil")
	}
	if emb == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if defaultK <= 0 {
		defaultK = DefaultTopK
	}
	return &Retriever{
		gateway:  gw,
		embedder: emb,
		defaultK: defaultK,
		log:      logging.Component(log, "retriever"),
	}, nil
}

// DefaultK returns the fallback result count.
func (r *Retriever) DefaultK() int { return r.defaultK }

// Retrieve embeds query and returns up to k sources ranked by descending
// similarity, ties broken by unit ID. An empty collection yields an empty
// slice and no error.
func (r *Retriever) Retrieve(ctx context.Context, collection, query string, k int) ([]RetrievedSource, error) {
	if strings.TrimSpace(query) == "" {
		return nil, invalidInput("query is empty")
	}
	if collection == "" {
		return nil, invalidInput("collection name is empty")
	}
	if k <= 0 {
		k = r.defaultK
	}

	opt, err := r.gateway.Lookup(ctx, collection)
	if err != nil {
		return nil, err
	}
	info, ok := opt.Get()
	if !ok {
		return nil, notFound(collection)
	}
	if info.EmbeddingModel != "" && info.EmbeddingModel != r.embedder.Model() {
		return nil, fmt.Errorf("rag: collection %q was built with %q, retriever uses %q: %w",
			collection, info.EmbeddingModel, r.embedder.Model(), ErrEmbeddingModelMismatch)
	}
	if info.Count == 0 {
		return []RetrievedSource{}, nil
	}

	start := time.Now()
	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w: %w", ErrEmbedding, err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("rag: embedder returned empty result for query: %w", ErrEmbedding)
	}

	hits, err := r.gateway.Search(ctx, collection, vectors[0], k)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}

	sources := make([]RetrievedSource, len(hits))
	for i, h := range hits {
		sources[i] = RetrievedSource{Unit: h.Unit, Rank: i + 1, Score: h.Score}
	}
	r.log.Debug("retrieved",
		slog.String("collection", collection),
		slog.Int("k", k),
		slog.Int("hits", len(sources)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return sources, nil
}

// PageNumber returns the unit's 1-based page number, or 0 when unset.
func PageNumber(u ContentUnit) int {
	n, _ := strconv.Atoi(u.Metadata[MetaPageNumber])
	return n
}
