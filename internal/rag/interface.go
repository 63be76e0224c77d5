// Package rag holds the retrieval half of docrag: the content unit model,
// the collection store gateway that owns every vector-store mutation, and
// the retriever that turns a question into ranked sources.
//
// Vector backends (chromem, Qdrant, Milvus, in-memory) implement the narrow
// [Backend] contract; [CollectionStore] layers embedding, locking and
// rollback on top so every backend gets the same create/write/delete
// semantics.
package rag

import (
	"context"

	"github.com/samber/mo"
)

// Metadata keys attached to every ContentUnit.
const (
	MetaContentType    = "content_type"
	MetaPageNumber     = "page_number"
	MetaChunkIndex     = "chunk_index_in_page"
	MetaTableIndex     = "table_index_on_page"
	MetaImageIndex     = "image_index_on_page"
	MetaImageBBox      = "image_bbox"
	MetaSource         = "source"
	MetaFilePath       = "file_path"
	MetaTotalPages     = "total_pages"
	MetaEmbeddingModel = "embedding_model"
	MetaUnitCount      = "unit_count"
	MetaCreatedAt      = "created_at"
)

// Content types.
const (
	ContentText         = "text"
	ContentTable        = "table"
	ContentImageCaption = "image_caption"
)

// ContentUnit is one indexable piece of a document: a text chunk, a table
// rendered as markdown, or a synthetic image description. Units are
// immutable once produced by an extractor.
type ContentUnit struct {
	// Content is the unit text. Normalized before it is embedded.
	Content string `json:"content"`

	// Metadata holds provenance. Values are strings so every backend stores
	// them losslessly; numeric keys are decimal.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ContentType returns the unit's content_type metadata value.
func (u ContentUnit) ContentType() string {
	return u.Metadata[MetaContentType]
}

// CollectionInfo describes one stored collection.
type CollectionInfo struct {
	Name           string            `json:"name"`
	EmbeddingModel string            `json:"embedding_model,omitempty"`
	Source         string            `json:"source,omitempty"`
	Count          int               `json:"count"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// ScoredUnit is a stored unit returned by a similarity search.
type ScoredUnit struct {
	ID    string
	Unit  ContentUnit
	Score float32
}

// Span is a byte range [Start, End) inside a unit's content.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// RetrievedSource is a unit returned to the caller with its rank (1-based)
// and, after generation, whether the answer drew on it.
type RetrievedSource struct {
	Unit       ContentUnit `json:"unit"`
	Rank       int         `json:"rank"`
	Score      float32     `json:"score"`
	Used       bool        `json:"used"`
	Highlights []Span      `json:"highlights,omitempty"`
}

// Embedder converts text into dense vectors.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into embeddings parallel to texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Model identifies the embedding model. It is stored with each
	// collection and must match at query time.
	Model() string
}

// Gateway is the only path through which collections are created, filled,
// searched and removed.
// Implementations must be safe to call from multiple goroutines.
type Gateway interface {
	// Lookup returns the collection when present and mo.None when it is not.
	// A missing collection is not an error.
	Lookup(ctx context.Context, name string) (mo.Option[CollectionInfo], error)

	// Exists reports whether the collection is present. Never fails on a
	// missing collection.
	Exists(ctx context.Context, name string) (bool, error)

	// List returns every collection sorted by name.
	List(ctx context.Context) ([]CollectionInfo, error)

	// Write embeds units with emb and stores them as a new collection. Either
	// every unit becomes queryable or the collection does not exist
	// afterwards. Writing to an existing collection returns
	// ErrCollectionExists and changes nothing.
	Write(ctx context.Context, name string, units []ContentUnit, emb Embedder) error

	// Search returns up to k units ordered by descending similarity.
	Search(ctx context.Context, name string, vector []float32, k int) ([]ScoredUnit, error)

	// Delete removes the collection. Returns ErrCollectionNotFound when absent.
	Delete(ctx context.Context, name string) error

	// Close releases backend resources.
	Close() error
}

// Decision is the outcome of CreateOrGet.
type Decision int

const (
	// DecisionIngest means the collection is absent and ingestion should run.
	DecisionIngest Decision = iota
	// DecisionSkip means the collection exists and ingestion is a no-op.
	DecisionSkip
)

func (d Decision) String() string {
	if d == DecisionSkip {
		return "skip"
	}
	return "ingest"
}

// CreateOrGet is the idempotency guard in front of ingestion.
func CreateOrGet(ctx context.Context, g Gateway, name string) (Decision, error) {
	if name == "" {
		return DecisionIngest, invalidInput("collection name is empty")
	}
	ok, err := g.Exists(ctx, name)
	if err != nil {
		return DecisionIngest, err
	}
	if ok {
		return DecisionSkip, nil
	}
	return DecisionIngest, nil
}
