package rag

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func Test_ChromemBackend_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	emb := newFakeEmbedder()

	backend, err := NewChromemBackend(dir, false)
	if err != nil {
		t.Fatalf("NewChromemBackend: %v", err)
	}
	s, err := NewCollectionStore(backend, StoreConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Write(ctx, "report_collection", textUnits("net income rose", "headcount flat"), emb); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewChromemBackend(dir, false)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	s2, err := NewCollectionStore(reopened, StoreConfig{})
	if err != nil {
		t.Fatal(err)
	}
	opt, err := s2.Lookup(ctx, "report_collection")
	if err != nil {
		t.Fatal(err)
	}
	info, ok := opt.Get()
	if !ok {
		t.Fatal("collection lost after reopen")
	}
	if info.Count != 2 || info.EmbeddingModel != "fake-embed" {
		t.Errorf("info = %+v", info)
	}

	names, err := reopened.Names(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if slices.Contains(names, catalogCollection) {
		t.Errorf("catalog collection leaked into Names: %v", names)
	}

	// Re-ingestion of the same name is rejected after a restart too.
	if err := s2.Write(ctx, "report_collection", textUnits("x"), emb); !errors.Is(err, ErrCollectionExists) {
		t.Errorf("rewrite err = %v", err)
	}
}

func Test_ChromemBackend_SearchAndDrop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend, err := NewChromemBackend("", false)
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewCollectionStore(backend, StoreConfig{})
	if err != nil {
		t.Fatal(err)
	}
	emb := newFakeEmbedder()
	if err := s.Write(ctx, "c", textUnits("apples and pears", "engine torque curve"), emb); err != nil {
		t.Fatal(err)
	}

	q, _ := emb.Embed(ctx, []string{"apples and pears"})
	hits, err := s.Search(ctx, "c", q[0], 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %d, want 2", len(hits))
	}
	if hits[0].Unit.Content != "apples and pears" {
		t.Errorf("top hit = %q", hits[0].Unit.Content)
	}
	if hits[0].Unit.Metadata[MetaPageNumber] != "1" {
		t.Errorf("metadata not round-tripped: %v", hits[0].Unit.Metadata)
	}

	if err := s.Delete(ctx, "c"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if exists, _ := s.Exists(ctx, "c"); exists {
		t.Error("collection exists after delete")
	}
	if err := s.Delete(ctx, "c"); !errors.Is(err, ErrCollectionNotFound) {
		t.Errorf("second delete err = %v", err)
	}
}

func Test_ChromemBackend_ReservedName(t *testing.T) {
	t.Parallel()
	backend, err := NewChromemBackend("", false)
	if err != nil {
		t.Fatal(err)
	}
	if err := backend.Create(context.Background(), catalogCollection, nil, 4); err == nil {
		t.Error("reserved catalog name accepted")
	}
}

func Test_MilvusCollectionName(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"annual_report_collection": "annual_report_collection",
		"my report-v2_collection":  "my_report_v2_collection",
		"2024_q1_collection":       "c_2024_q1_collection",
		"café":                     "caf_",
		"":                         "c_",
	}
	for in, want := range cases {
		if got := MilvusCollectionName(in); got != want {
			t.Errorf("MilvusCollectionName(%q) = %q, want %q", in, got, want)
		}
	}
}

func Test_NewBackendFromEnv(t *testing.T) {
	t.Setenv("VECTOR_STORE", "memory")
	b, err := NewBackendFromEnv(context.Background())
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if b.Name() != StoreMemory {
		t.Errorf("Name = %q", b.Name())
	}

	t.Setenv("VECTOR_STORE", "chromem")
	t.Setenv("RAG_PERSIST_DIR", t.TempDir())
	b, err = NewBackendFromEnv(context.Background())
	if err != nil {
		t.Fatalf("chromem: %v", err)
	}
	if b.Name() != StoreChromem {
		t.Errorf("Name = %q", b.Name())
	}

	t.Setenv("VECTOR_STORE", "faiss")
	if _, err := NewBackendFromEnv(context.Background()); err == nil {
		t.Error("unknown backend accepted")
	}
}
