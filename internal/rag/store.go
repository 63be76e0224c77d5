package rag

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/54b3r/docrag-go/internal/logging"
)

// DefaultEmbedBatchSize is the number of texts sent per Embed call.
const DefaultEmbedBatchSize = 64

// unitNamespace seeds the deterministic UUIDv5 unit identifiers.
var unitNamespace = uuid.MustParse("6f0f3c4e-4c55-4d0c-9a57-6b1de0c2a1f4")

// Record is one unit with its vector, as handed to a Backend.
type Record struct {
	ID     string
	Unit   ContentUnit
	Vector []float32
}

// Backend is the narrow contract a vector database must meet. Backends do
// no locking across calls and no embedding; CollectionStore does both.
type Backend interface {
	// Name identifies the backend in logs and metrics ("chromem", "qdrant", ...).
	Name() string
	// Info returns the collection and whether it exists.
	Info(ctx context.Context, name string) (CollectionInfo, bool, error)
	// Names lists stored collection names.
	Names(ctx context.Context) ([]string, error)
	// Create makes an empty collection with the given metadata and vector size.
	// It returns ErrCollectionExists when the name is already taken.
	Create(ctx context.Context, name string, meta map[string]string, dim int) error
	// Insert adds records to an existing collection.
	Insert(ctx context.Context, name string, records []Record) error
	// Query returns up to k nearest records by cosine similarity.
	Query(ctx context.Context, name string, vector []float32, k int) ([]ScoredUnit, error)
	// Drop removes the collection; dropping a missing collection is not an error.
	Drop(ctx context.Context, name string) error
	// Close releases connections.
	Close() error
}

// StoreConfig tunes a CollectionStore.
type StoreConfig struct {
	// BatchSize is the number of texts per Embed call. Defaults to DefaultEmbedBatchSize.
	BatchSize int
	// Logger receives write and rollback events. Nil discards.
	Logger *slog.Logger
}

// CollectionStore implements Gateway on top of a Backend. Mutations are
// serialized by a store-wide mutex and the existence check is repeated
// under it, so two concurrent first-time ingestions of the same name in
// one process cannot both write.
type CollectionStore struct {
	backend   Backend
	batchSize int
	log       *slog.Logger

	// mu serializes Write and Delete.
	mu sync.Mutex
}

var _ Gateway = (*CollectionStore)(nil)

// NewCollectionStore wraps backend.
func NewCollectionStore(backend Backend, cfg StoreConfig) (*CollectionStore, error) {
	if backend == nil {
		return nil, fmt.Errorf("rag: backend must not be nil")
	}
	bs := cfg.BatchSize
	if bs <= 0 {
		bs = DefaultEmbedBatchSize
	}
	return &CollectionStore{
		backend:   backend,
		batchSize: bs,
		log:       logging.Component(cfg.Logger, "gateway").With(slog.String("backend", backend.Name())),
	}, nil
}

// Backend returns the underlying backend name.
func (s *CollectionStore) Backend() string { return s.backend.Name() }

// Lookup implements Gateway.
func (s *CollectionStore) Lookup(ctx context.Context, name string) (mo.Option[CollectionInfo], error) {
	if name == "" {
		return mo.None[CollectionInfo](), invalidInput("collection name is empty")
	}
	info, ok, err := s.backend.Info(ctx, name)
	if err != nil {
		return mo.None[CollectionInfo](), fmt.Errorf("rag: lookup %q: %w", name, err)
	}
	if !ok {
		return mo.None[CollectionInfo](), nil
	}
	return mo.Some(info), nil
}

// Exists implements Gateway.
func (s *CollectionStore) Exists(ctx context.Context, name string) (bool, error) {
	opt, err := s.Lookup(ctx, name)
	if err != nil {
		return false, err
	}
	return opt.IsPresent(), nil
}

// List implements Gateway.
func (s *CollectionStore) List(ctx context.Context) ([]CollectionInfo, error) {
	names, err := s.backend.Names(ctx)
	if err != nil {
		return nil, fmt.Errorf("rag: list collections: %w", err)
	}
	out := make([]CollectionInfo, 0, len(names))
	for _, n := range names {
		info, ok, err := s.backend.Info(ctx, n)
		if err != nil {
			return nil, fmt.Errorf("rag: describe %q: %w", n, err)
		}
		if ok {
			out = append(out, info)
		}
	}
	slices.SortFunc(out, func(a, b CollectionInfo) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

// Write implements Gateway.
func (s *CollectionStore) Write(ctx context.Context, name string, units []ContentUnit, emb Embedder) error {
	if name == "" {
		return invalidInput("collection name is empty")
	}
	if emb == nil {
		return invalidInput("embedder is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists, err := s.backend.Info(ctx, name)
	if err != nil {
		return fmt.Errorf("rag: write %q: existence check: %w: %w", name, ErrStoreWrite, err)
	}
	if exists {
		return fmt.Errorf("rag: write %q: %w", name, ErrCollectionExists)
	}

	start := time.Now()
	vectors, err := s.embedAll(ctx, units, emb)
	if err != nil {
		return err
	}

	dim := 0
	if len(vectors) > 0 {
		dim = len(vectors[0])
	} else if dim, err = probeDimension(ctx, emb); err != nil {
		return err
	}

	records := make([]Record, len(units))
	for i, u := range units {
		md := make(map[string]string, len(u.Metadata)+1)
		for k, v := range u.Metadata {
			md[k] = v
		}
		md[MetaEmbeddingModel] = emb.Model()
		records[i] = Record{
			ID:     UnitID(name, i, u.Content),
			Unit:   ContentUnit{Content: u.Content, Metadata: md},
			Vector: vectors[i],
		}
	}

	meta := map[string]string{
		MetaEmbeddingModel: emb.Model(),
		MetaUnitCount:      strconv.Itoa(len(units)),
		MetaCreatedAt:      time.Now().UTC().Format(time.RFC3339),
	}
	if len(units) > 0 {
		if src := units[0].Metadata[MetaSource]; src != "" {
			meta[MetaSource] = src
		}
	}

	if err := s.backend.Create(ctx, name, meta, dim); err != nil {
		// A name clash leaves someone else's collection in place.
		if errors.Is(err, ErrCollectionExists) {
			return fmt.Errorf("rag: create %q: %w", name, err)
		}
		s.rollback(name)
		return fmt.Errorf("rag: create %q: %w: %w", name, ErrStoreWrite, err)
	}
	if len(records) > 0 {
		if err := s.backend.Insert(ctx, name, records); err != nil {
			s.rollback(name)
			return fmt.Errorf("rag: insert into %q: %w: %w", name, ErrStoreWrite, err)
		}
	}

	s.log.Info("collection written",
		slog.String("collection", name),
		slog.Int("units", len(records)),
		slog.Int("dim", dim),
		slog.String("embedding_model", emb.Model()),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// rollback drops a partially written collection. It runs on a fresh
// context so a cancelled write still cleans up.
func (s *CollectionStore) rollback(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.backend.Drop(ctx, name); err != nil {
		s.log.Error("rollback failed, collection may be partial",
			slog.String("collection", name), slog.Any("error", err))
		return
	}
	s.log.Warn("write rolled back", slog.String("collection", name))
}

// embedAll embeds unit contents in batches and checks the vectors.
func (s *CollectionStore) embedAll(ctx context.Context, units []ContentUnit, emb Embedder) ([][]float32, error) {
	vectors := make([][]float32, 0, len(units))
	for start := 0; start < len(units); start += s.batchSize {
		end := min(start+s.batchSize, len(units))
		texts := make([]string, 0, end-start)
		for _, u := range units[start:end] {
			texts = append(texts, u.Content)
		}
		got, err := emb.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("rag: embed units %d-%d: %w: %w", start, end-1, ErrEmbedding, err)
		}
		if len(got) != len(texts) {
			return nil, fmt.Errorf("rag: embedder returned %d vectors for %d texts: %w", len(got), len(texts), ErrEmbedding)
		}
		vectors = append(vectors, got...)
	}
	for i, v := range vectors {
		if len(v) == 0 || len(v) != len(vectors[0]) {
			return nil, fmt.Errorf("rag: vector %d has dimension %d, want %d: %w", i, len(v), len(vectors[0]), ErrEmbedding)
		}
	}
	return vectors, nil
}

// probeDimension embeds a fixed string to learn the vector size for an
// empty collection.
func probeDimension(ctx context.Context, emb Embedder) (int, error) {
	got, err := emb.Embed(ctx, []string{"dimension probe"})
	if err != nil {
		return 0, fmt.Errorf("rag: probe embedding dimension: %w: %w", ErrEmbedding, err)
	}
	if len(got) != 1 || len(got[0]) == 0 {
		return 0, fmt.Errorf("rag: probe returned no vector: %w", ErrEmbedding)
	}
	return len(got[0]), nil
}

// Search implements Gateway. Results are ordered by descending score with
// ties broken by unit ID so identical queries rank identically.
func (s *CollectionStore) Search(ctx context.Context, name string, vector []float32, k int) ([]ScoredUnit, error) {
	if name == "" {
		return nil, invalidInput("collection name is empty")
	}
	if len(vector) == 0 {
		return nil, invalidInput("query vector is empty")
	}
	if k <= 0 {
		return nil, invalidInput("k must be positive")
	}
	info, ok, err := s.backend.Info(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("rag: search %q: %w", name, err)
	}
	if !ok {
		return nil, notFound(name)
	}
	if info.Count == 0 {
		return []ScoredUnit{}, nil
	}

	hits, err := s.backend.Query(ctx, name, vector, min(k, info.Count))
	if err != nil {
		return nil, fmt.Errorf("rag: search %q: %w", name, err)
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// sortHits orders hits by descending score, then ascending ID.
func sortHits(hits []ScoredUnit) {
	slices.SortStableFunc(hits, func(a, b ScoredUnit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// Delete implements Gateway.
func (s *CollectionStore) Delete(ctx context.Context, name string) error {
	if name == "" {
		return invalidInput("collection name is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok, err := s.backend.Info(ctx, name)
	if err != nil {
		return fmt.Errorf("rag: delete %q: %w", name, err)
	}
	if !ok {
		return notFound(name)
	}
	if err := s.backend.Drop(ctx, name); err != nil {
		return fmt.Errorf("rag: delete %q: %w", name, err)
	}
	s.log.Info("collection deleted", slog.String("collection", name))
	return nil
}

// Ping checks that the backend answers. Backends with their own health RPC
// are asked directly; the rest must list their collections.
func (s *CollectionStore) Ping(ctx context.Context) error {
	if p, ok := s.backend.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	if _, err := s.backend.Names(ctx); err != nil {
		return fmt.Errorf("rag: ping %s: %w", s.backend.Name(), err)
	}
	return nil
}

// Close implements Gateway.
func (s *CollectionStore) Close() error {
	if err := s.backend.Close(); err != nil {
		return fmt.Errorf("rag: close %s: %w", s.backend.Name(), err)
	}
	return nil
}

// UnitID derives a stable identifier for the i-th unit of a collection.
// Re-ingesting the same document into the same name yields the same IDs.
func UnitID(collection string, i int, content string) string {
	return uuid.NewSHA1(unitNamespace, []byte(collection+"\x00"+strconv.Itoa(i)+"\x00"+content)).String()
}

// IsNotFound reports whether err is a missing-collection error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCollectionNotFound)
}
