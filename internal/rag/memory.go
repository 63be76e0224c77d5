package rag

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
)

// MemoryBackend keeps collections in process memory and answers queries
// by brute-force cosine similarity. Used by tests and VECTOR_STORE=memory.
type MemoryBackend struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

type memCollection struct {
	meta    map[string]string
	dim     int
	records []Record
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{collections: make(map[string]*memCollection)}
}

// Name implements Backend.
func (m *MemoryBackend) Name() string { return "memory" }

// Info implements Backend.
func (m *MemoryBackend) Info(_ context.Context, name string) (CollectionInfo, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[name]
	if !ok {
		return CollectionInfo{}, false, nil
	}
	return infoFromMeta(name, c.meta, len(c.records)), true, nil
}

// Names implements Backend.
func (m *MemoryBackend) Names(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.collections))
	for n := range m.collections {
		names = append(names, n)
	}
	return names, nil
}

// Create implements Backend.
func (m *MemoryBackend) Create(_ context.Context, name string, meta map[string]string, dim int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; ok {
		return fmt.Errorf("memory: collection %q: %w", name, ErrCollectionExists)
	}
	cp := make(map[string]string, len(meta))
	for k, v := range meta {
		cp[k] = v
	}
	m.collections[name] = &memCollection{meta: cp, dim: dim}
	return nil
}

// Insert implements Backend.
func (m *MemoryBackend) Insert(_ context.Context, name string, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[name]
	if !ok {
		return fmt.Errorf("memory: collection %q does not exist", name)
	}
	for _, r := range records {
		if len(r.Vector) != c.dim {
			return fmt.Errorf("memory: record %s has dimension %d, collection has %d", r.ID, len(r.Vector), c.dim)
		}
		c.records = append(c.records, Record{ID: r.ID, Unit: r.Unit, Vector: normalize(r.Vector)})
	}
	return nil
}

// Query implements Backend.
func (m *MemoryBackend) Query(_ context.Context, name string, vector []float32, k int) ([]ScoredUnit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[name]
	if !ok {
		return nil, fmt.Errorf("memory: collection %q does not exist", name)
	}
	if len(vector) != c.dim {
		return nil, fmt.Errorf("memory: query has dimension %d, collection has %d", len(vector), c.dim)
	}
	q := normalize(vector)
	hits := make([]ScoredUnit, 0, len(c.records))
	for _, r := range c.records {
		hits = append(hits, ScoredUnit{ID: r.ID, Unit: r.Unit, Score: dot(q, r.Vector)})
	}
	return topK(hits, k), nil
}

// Drop implements Backend.
func (m *MemoryBackend) Drop(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, name)
	return nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error { return nil }

// infoFromMeta builds a CollectionInfo from stored collection metadata.
// count < 0 means "take unit_count from the metadata".
func infoFromMeta(name string, meta map[string]string, count int) CollectionInfo {
	if count < 0 {
		count, _ = strconv.Atoi(meta[MetaUnitCount])
	}
	cp := make(map[string]string, len(meta))
	for k, v := range meta {
		cp[k] = v
	}
	return CollectionInfo{
		Name:           name,
		EmbeddingModel: meta[MetaEmbeddingModel],
		Source:         meta[MetaSource],
		Count:          count,
		Metadata:       cp,
	}
}

// normalize returns v scaled to unit length. Zero vectors are returned unchanged.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	mag := math.Sqrt(sum)
	out := make([]float32, len(v))
	if mag == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / mag)
	}
	return out
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// topK keeps the k highest-scoring hits. Final ordering is applied by
// CollectionStore.Search.
func topK(hits []ScoredUnit, k int) []ScoredUnit {
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
