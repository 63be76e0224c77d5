package rag

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/philippgille/chromem-go"
)

// catalogCollection is a reserved chromem collection holding one entry per
// docrag collection, carrying its metadata. chromem does not expose
// collection metadata after creation.
const catalogCollection = "__docrag_catalog"

// ChromemBackend stores collections in an embedded chromem-go database,
// persisted under a directory when one is configured.
type ChromemBackend struct {
	db *chromem.DB
}

var _ Backend = (*ChromemBackend)(nil)

// errNoEmbeddingFunc is returned if chromem ever tries to embed on its own;
// docrag always supplies vectors.
var errNoEmbeddingFunc = errors.New("chromem: documents must carry precomputed embeddings")

func noEmbed(context.Context, string) ([]float32, error) { return nil, errNoEmbeddingFunc }

// NewChromemBackend opens (or creates) a persistent chromem database at
// dir. An empty dir yields a purely in-memory database.
func NewChromemBackend(dir string, compress bool) (*ChromemBackend, error) {
	if dir == "" {
		return &ChromemBackend{db: chromem.NewDB()}, nil
	}
	db, err := chromem.NewPersistentDB(dir, compress)
	if err != nil {
		return nil, fmt.Errorf("chromem: open %s: %w", dir, err)
	}
	return &ChromemBackend{db: db}, nil
}

// Name implements Backend.
func (c *ChromemBackend) Name() string { return "chromem" }

func (c *ChromemBackend) catalog() (*chromem.Collection, error) {
	col, err := c.db.GetOrCreateCollection(catalogCollection, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("chromem: open catalog: %w", err)
	}
	return col, nil
}

// Info implements Backend.
func (c *ChromemBackend) Info(ctx context.Context, name string) (CollectionInfo, bool, error) {
	if name == catalogCollection {
		return CollectionInfo{}, false, nil
	}
	col := c.db.GetCollection(name, noEmbed)
	if col == nil {
		return CollectionInfo{}, false, nil
	}
	meta := map[string]string{}
	cat, err := c.catalog()
	if err != nil {
		return CollectionInfo{}, false, err
	}
	if doc, err := cat.GetByID(ctx, name); err == nil {
		meta = doc.Metadata
	}
	return infoFromMeta(name, meta, col.Count()), true, nil
}

// Names implements Backend.
func (c *ChromemBackend) Names(_ context.Context) ([]string, error) {
	all := c.db.ListCollections()
	names := make([]string, 0, len(all))
	for n := range all {
		if n != catalogCollection {
			names = append(names, n)
		}
	}
	return names, nil
}

// Create implements Backend. chromem infers the dimension from the first
// document, so dim is not needed.
func (c *ChromemBackend) Create(ctx context.Context, name string, meta map[string]string, _ int) error {
	if name == catalogCollection {
		return fmt.Errorf("chromem: %q is reserved", name)
	}
	if _, err := c.db.CreateCollection(name, meta, noEmbed); err != nil {
		return fmt.Errorf("chromem: create %q: %w", name, err)
	}
	cat, err := c.catalog()
	if err != nil {
		return err
	}
	entry := chromem.Document{ID: name, Metadata: meta, Embedding: []float32{1}, Content: name}
	if err := cat.AddDocument(ctx, entry); err != nil {
		return fmt.Errorf("chromem: register %q: %w", name, err)
	}
	return nil
}

// Insert implements Backend.
func (c *ChromemBackend) Insert(ctx context.Context, name string, records []Record) error {
	col := c.db.GetCollection(name, noEmbed)
	if col == nil {
		return fmt.Errorf("chromem: collection %q does not exist", name)
	}
	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		docs[i] = chromem.Document{
			ID:        r.ID,
			Metadata:  r.Unit.Metadata,
			Embedding: r.Vector,
			Content:   r.Unit.Content,
		}
	}
	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("chromem: insert into %q: %w", name, err)
	}
	return nil
}

// Query implements Backend.
func (c *ChromemBackend) Query(ctx context.Context, name string, vector []float32, k int) ([]ScoredUnit, error) {
	col := c.db.GetCollection(name, noEmbed)
	if col == nil {
		return nil, fmt.Errorf("chromem: collection %q does not exist", name)
	}
	n := min(k, col.Count())
	if n == 0 {
		return []ScoredUnit{}, nil
	}
	res, err := col.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: query %q: %w", name, err)
	}
	hits := make([]ScoredUnit, 0, len(res))
	for _, r := range res {
		hits = append(hits, ScoredUnit{
			ID:    r.ID,
			Unit:  ContentUnit{Content: r.Content, Metadata: r.Metadata},
			Score: r.Similarity,
		})
	}
	return hits, nil
}

// Drop implements Backend.
func (c *ChromemBackend) Drop(ctx context.Context, name string) error {
	if err := c.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("chromem: drop %q: %w", name, err)
	}
	cat, err := c.catalog()
	if err != nil {
		return err
	}
	if err := cat.Delete(ctx, nil, nil, name); err != nil {
		return fmt.Errorf("chromem: unregister %q: %w", name, err)
	}
	return nil
}

// Close implements Backend. Persistent chromem writes through on every
// change, so there is nothing to flush.
func (c *ChromemBackend) Close() error { return nil }
