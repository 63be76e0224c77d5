package rag

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// qdrantUpsertBatch bounds the number of points per Upsert request.
const qdrantUpsertBatch = 256

// payload keys reserved by the Qdrant backend.
const (
	qdrantContentKey = "content"
	qdrantIDKey      = "unit_id"
)

// QdrantConfig holds connection parameters for a Qdrant instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantBackend maps each docrag collection onto one Qdrant collection with
// cosine distance. Collection metadata lives in Qdrant's collection
// metadata; unit metadata lives in the point payload.
type QdrantBackend struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client
}

var _ Backend = (*QdrantBackend)(nil)

// NewQdrantBackend connects to Qdrant. The connection is lazy; use Ping to
// verify reachability.
func NewQdrantBackend(cfg QdrantConfig) (*QdrantBackend, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}
	return &QdrantBackend{client: client}, nil
}

// Name implements Backend.
func (q *QdrantBackend) Name() string { return "qdrant" }

// Ping checks that the Qdrant server answers its health endpoint.
func (q *QdrantBackend) Ping(ctx context.Context) error {
	if _, err := q.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check: %w", err)
	}
	return nil
}

// Info implements Backend.
func (q *QdrantBackend) Info(ctx context.Context, name string) (CollectionInfo, bool, error) {
	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return CollectionInfo{}, false, fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if !exists {
		return CollectionInfo{}, false, nil
	}
	ci, err := q.client.GetCollectionInfo(ctx, name)
	if err != nil {
		return CollectionInfo{}, false, fmt.Errorf("qdrant: describe %q: %w", name, err)
	}
	meta := make(map[string]string)
	for k, v := range ci.GetConfig().GetMetadata() {
		meta[k] = v.GetStringValue()
	}
	count, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: name,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return CollectionInfo{}, false, fmt.Errorf("qdrant: count %q: %w", name, err)
	}
	return infoFromMeta(name, meta, int(count)), true, nil
}

// Names implements Backend.
func (q *QdrantBackend) Names(ctx context.Context) ([]string, error) {
	names, err := q.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("qdrant: list collections: %w", err)
	}
	return names, nil
}

// Create implements Backend.
func (q *QdrantBackend) Create(ctx context.Context, name string, meta map[string]string, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("qdrant: collection %q needs a positive vector size, got %d", name, dim)
	}
	md := make(map[string]*qdrant.Value, len(meta))
	for k, v := range meta {
		md[k] = qdrant.NewValueString(v)
	}
	err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
		Metadata: md,
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", name, err)
	}
	return nil
}

// Insert implements Backend. Each batch waits for the write to be applied
// so the collection is fully queryable when Insert returns.
func (q *QdrantBackend) Insert(ctx context.Context, name string, records []Record) error {
	for start := 0; start < len(records); start += qdrantUpsertBatch {
		end := min(start+qdrantUpsertBatch, len(records))
		points := make([]*qdrant.PointStruct, 0, end-start)
		for _, r := range records[start:end] {
			payload := map[string]any{
				qdrantContentKey: r.Unit.Content,
				qdrantIDKey:      r.ID,
			}
			for k, v := range r.Unit.Metadata {
				payload[k] = v
			}
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(r.ID),
				Vectors: qdrant.NewVectors(r.Vector...),
				Payload: qdrant.NewValueMap(payload),
			})
		}
		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: name,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		if err != nil {
			return fmt.Errorf("qdrant: upsert into %q: %w", name, err)
		}
	}
	return nil
}

// Query implements Backend.
func (q *QdrantBackend) Query(ctx context.Context, name string, vector []float32, k int) ([]ScoredUnit, error) {
	limit := uint64(k)
	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	hits := make([]ScoredUnit, 0, len(results))
	for _, r := range results {
		hit := ScoredUnit{
			ID:    r.GetId().GetUuid(),
			Score: r.GetScore(),
			Unit:  ContentUnit{Metadata: make(map[string]string)},
		}
		for k, v := range r.GetPayload() {
			switch k {
			case qdrantContentKey:
				hit.Unit.Content = v.GetStringValue()
			case qdrantIDKey:
				hit.ID = v.GetStringValue()
			default:
				hit.Unit.Metadata[k] = v.GetStringValue()
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Drop implements Backend.
func (q *QdrantBackend) Drop(ctx context.Context, name string) error {
	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if !exists {
		return nil
	}
	if err := q.client.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("qdrant: drop %q: %w", name, err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (q *QdrantBackend) Close() error {
	return q.client.Close()
}
