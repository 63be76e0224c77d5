package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// Milvus field names and limits.
const (
	milvusIDField        = "id"
	milvusTextField      = "text"
	milvusMetaField      = "metadata"
	milvusVectorField    = "embedding"
	milvusMaxVarChar     = 65535
	milvusNList          = 1024
	milvusNProbe         = 16
	milvusConnectTimeout = 10 * time.Second
)

// MilvusBackend stores each docrag collection as a Milvus collection with
// an IVF_FLAT inner-product index over unit-normalized vectors, which
// ranks identically to cosine similarity. Milvus restricts collection
// names, so the docrag name is kept in the collection description.
type MilvusBackend struct {
	client client.Client
}

var _ Backend = (*MilvusBackend)(nil)

// milvusDescription is the JSON stored in a collection's description.
type milvusDescription struct {
	Name string            `json:"name"`
	Meta map[string]string `json:"meta"`
}

// NewMilvusBackend connects to the Milvus proxy at address (host:port).
func NewMilvusBackend(ctx context.Context, address string) (*MilvusBackend, error) {
	if address == "" {
		address = "localhost:19530"
	}
	ctx, cancel := context.WithTimeout(ctx, milvusConnectTimeout)
	defer cancel()
	c, err := client.NewClient(ctx, client.Config{Address: address})
	if err != nil {
		return nil, fmt.Errorf("milvus: connect %s: %w", address, err)
	}
	return &MilvusBackend{client: c}, nil
}

// Name implements Backend.
func (m *MilvusBackend) Name() string { return "milvus" }

// MilvusCollectionName maps a docrag collection name onto Milvus' allowed
// alphabet: letters, digits and underscores, not starting with a digit.
func MilvusCollectionName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" || unicode.IsDigit(rune(out[0])) {
		out = "c_" + out
	}
	return out
}

// Info implements Backend.
func (m *MilvusBackend) Info(ctx context.Context, name string) (CollectionInfo, bool, error) {
	desc, ok, err := m.lookup(ctx, name)
	if err != nil || !ok {
		return CollectionInfo{}, false, err
	}
	return infoFromMeta(name, desc.Meta, -1), true, nil
}

// lookup finds the Milvus collection holding name. Distinct docrag names may
// sanitize to the same Milvus name, so a collection whose description names
// another docrag collection does not count.
func (m *MilvusBackend) lookup(ctx context.Context, name string) (milvusDescription, bool, error) {
	mname := MilvusCollectionName(name)
	has, err := m.client.HasCollection(ctx, mname)
	if err != nil {
		return milvusDescription{}, false, fmt.Errorf("milvus: failed to check if collection exists: %w", err)
	}
	if !has {
		return milvusDescription{}, false, nil
	}
	desc, err := m.describe(ctx, mname)
	if err != nil {
		return milvusDescription{}, false, err
	}
	return desc, desc.Name == name, nil
}

func (m *MilvusBackend) describe(ctx context.Context, mname string) (milvusDescription, error) {
	coll, err := m.client.DescribeCollection(ctx, mname)
	if err != nil {
		return milvusDescription{}, fmt.Errorf("milvus: describe %q: %w", mname, err)
	}
	var desc milvusDescription
	if coll.Schema == nil || json.Unmarshal([]byte(coll.Schema.Description), &desc) != nil {
		// Not created by docrag; expose it under its Milvus name.
		return milvusDescription{Name: mname, Meta: map[string]string{}}, nil
	}
	return desc, nil
}

// Names implements Backend.
func (m *MilvusBackend) Names(ctx context.Context) ([]string, error) {
	colls, err := m.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("milvus: list collections: %w", err)
	}
	names := make([]string, 0, len(colls))
	for _, c := range colls {
		desc, err := m.describe(ctx, c.Name)
		if err != nil {
			return nil, err
		}
		names = append(names, desc.Name)
	}
	return names, nil
}

// Create implements Backend. The index is built and the collection loaded
// at creation so it is searchable as soon as Insert returns.
func (m *MilvusBackend) Create(ctx context.Context, name string, meta map[string]string, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("milvus: collection %q needs a positive vector size, got %d", name, dim)
	}
	mname := MilvusCollectionName(name)
	taken, err := m.client.HasCollection(ctx, mname)
	if err != nil {
		return fmt.Errorf("milvus: failed to check if collection exists: %w", err)
	}
	if taken {
		return fmt.Errorf("milvus: %q maps to existing collection %q: %w", name, mname, ErrCollectionExists)
	}
	descJSON, err := json.Marshal(milvusDescription{Name: name, Meta: meta})
	if err != nil {
		return fmt.Errorf("milvus: encode description: %w", err)
	}

	schema := entity.NewSchema().
		WithName(mname).
		WithDescription(string(descJSON)).
		WithField(entity.NewField().WithName(milvusIDField).WithDataType(entity.FieldTypeVarChar).WithIsPrimaryKey(true).WithMaxLength(64)).
		WithField(entity.NewField().WithName(milvusVectorField).WithDataType(entity.FieldTypeFloatVector).WithDim(int64(dim))).
		WithField(entity.NewField().WithName(milvusTextField).WithDataType(entity.FieldTypeVarChar).WithMaxLength(milvusMaxVarChar)).
		WithField(entity.NewField().WithName(milvusMetaField).WithDataType(entity.FieldTypeVarChar).WithMaxLength(milvusMaxVarChar))

	if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("milvus: failed to create collection %q: %w", mname, err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.IP, milvusNList)
	if err != nil {
		return fmt.Errorf("milvus: build index definition: %w", err)
	}
	if err := m.client.CreateIndex(ctx, mname, milvusVectorField, idx, false); err != nil {
		return fmt.Errorf("milvus: create index on %q: %w", mname, err)
	}
	if err := m.client.LoadCollection(ctx, mname, false); err != nil {
		return fmt.Errorf("milvus: load %q: %w", mname, err)
	}
	return nil
}

// Insert implements Backend.
func (m *MilvusBackend) Insert(ctx context.Context, name string, records []Record) error {
	mname := MilvusCollectionName(name)
	dim := len(records[0].Vector)
	ids := make([]string, len(records))
	texts := make([]string, len(records))
	metas := make([]string, len(records))
	vecs := make([][]float32, len(records))
	for i, r := range records {
		if len(r.Unit.Content) > milvusMaxVarChar {
			return fmt.Errorf("milvus: unit %s is %d bytes, limit is %d", r.ID, len(r.Unit.Content), milvusMaxVarChar)
		}
		mj, err := json.Marshal(r.Unit.Metadata)
		if err != nil {
			return fmt.Errorf("milvus: encode metadata for %s: %w", r.ID, err)
		}
		ids[i] = r.ID
		texts[i] = r.Unit.Content
		metas[i] = string(mj)
		vecs[i] = normalize(r.Vector)
	}

	_, err := m.client.Insert(ctx, mname, "",
		entity.NewColumnVarChar(milvusIDField, ids),
		entity.NewColumnFloatVector(milvusVectorField, dim, vecs),
		entity.NewColumnVarChar(milvusTextField, texts),
		entity.NewColumnVarChar(milvusMetaField, metas),
	)
	if err != nil {
		return fmt.Errorf("milvus: failed to insert into %q: %w", mname, err)
	}
	if err := m.client.Flush(ctx, mname, false); err != nil {
		return fmt.Errorf("milvus: failed to flush %q: %w", mname, err)
	}
	return nil
}

// Query implements Backend.
func (m *MilvusBackend) Query(ctx context.Context, name string, vector []float32, k int) ([]ScoredUnit, error) {
	mname := MilvusCollectionName(name)
	sp, err := entity.NewIndexIvfFlatSearchParam(milvusNProbe)
	if err != nil {
		return nil, fmt.Errorf("milvus: search param: %w", err)
	}
	results, err := m.client.Search(
		ctx,
		mname,
		[]string{},
		"",
		[]string{milvusIDField, milvusTextField, milvusMetaField},
		[]entity.Vector{entity.FloatVector(normalize(vector))},
		milvusVectorField,
		entity.IP,
		k,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("milvus: failed to perform search: %w", err)
	}
	if len(results) == 0 {
		return []ScoredUnit{}, nil
	}

	rs := results[0]
	textCol := rs.Fields.GetColumn(milvusTextField)
	metaCol := rs.Fields.GetColumn(milvusMetaField)
	if textCol == nil || metaCol == nil {
		return nil, fmt.Errorf("milvus: search on %q returned no output fields", mname)
	}
	hits := make([]ScoredUnit, 0, rs.ResultCount)
	for i := 0; i < rs.ResultCount; i++ {
		id, err := rs.IDs.Get(i)
		if err != nil {
			return nil, fmt.Errorf("milvus: read id %d: %w", i, err)
		}
		text, err := textCol.Get(i)
		if err != nil {
			return nil, fmt.Errorf("milvus: read text %d: %w", i, err)
		}
		rawMeta, err := metaCol.Get(i)
		if err != nil {
			return nil, fmt.Errorf("milvus: read metadata %d: %w", i, err)
		}
		md := map[string]string{}
		if s, ok := rawMeta.(string); ok {
			_ = json.Unmarshal([]byte(s), &md)
		}
		content, _ := text.(string)
		hits = append(hits, ScoredUnit{
			ID:    fmt.Sprint(id),
			Unit:  ContentUnit{Content: content, Metadata: md},
			Score: rs.Scores[i],
		})
	}
	return hits, nil
}

// Drop implements Backend. A Milvus collection holding a different docrag
// collection is left alone.
func (m *MilvusBackend) Drop(ctx context.Context, name string) error {
	_, ok, err := m.lookup(ctx, name)
	if err != nil || !ok {
		return err
	}
	mname := MilvusCollectionName(name)
	if err := m.client.DropCollection(ctx, mname); err != nil {
		return fmt.Errorf("milvus: failed to drop %q: %w", mname, err)
	}
	return nil
}

// Close implements Backend.
func (m *MilvusBackend) Close() error {
	return m.client.Close()
}
