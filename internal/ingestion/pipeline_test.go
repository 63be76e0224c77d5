package ingestion

import (
	"context"
	"errors"
	"hash/fnv"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/54b3r/docrag-go/internal/chunker"
	"github.com/54b3r/docrag-go/internal/extract"
	"github.com/54b3r/docrag-go/internal/extract/extracttest"
	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/rag"
)

// hashEmbedder is a deterministic bag-of-words embedder.
type hashEmbedder struct {
	mu    sync.Mutex
	texts []string
}

func (h *hashEmbedder) Model() string { return "hash-embed" }

func (h *hashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	h.mu.Lock()
	h.texts = append(h.texts, texts...)
	h.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, 8)
		for _, w := range strings.Fields(t) {
			f := fnv.New32a()
			_, _ = f.Write([]byte(w))
			v[f.Sum32()%7]++
		}
		v[7] = 1
		out[i] = v
	}
	return out, nil
}

func (h *hashEmbedder) embedded() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.texts...)
}

// stubExtractor returns fixed units or an error.
type stubExtractor struct {
	name  string
	units []rag.ContentUnit
	err   error
	panic bool
}

func (s stubExtractor) Name() string { return s.name }

func (s stubExtractor) Extract(context.Context, *extract.Document) ([]rag.ContentUnit, error) {
	if s.panic {
		panic("boom")
	}
	return s.units, s.err
}

// reportPDF writes the three-page fixture: prose on every page and one
// ruled table on page 2.
func reportPDF(t *testing.T) string {
	t.Helper()
	d := &extracttest.Doc{Title: "Annual Report"}
	d.AddPage().Paragraph(72, 720, 12, 14,
		"Introduction to the annual report.",
		"This year focused on reliability.",
	)
	p2 := d.AddPage()
	p2.Text(72, 740, 12, "Regional results are summarized below.")
	p2.Table(72, 700, 100, 20, [][]string{
		{"Region", "Q1", "Q2"},
		{"North", "10", "12"},
		{"South", "7", "9"},
	})
	d.AddPage().Text(72, 720, 12, "Conclusions and outlook.")

	path := filepath.Join(t.TempDir(), "Annual Report.pdf")
	if err := d.WriteFile(path); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func newTestPipeline(t *testing.T, cfg *Config) (*Pipeline, *rag.CollectionStore, *hashEmbedder) {
	t.Helper()
	gw, err := rag.NewCollectionStore(rag.NewMemoryBackend(), rag.StoreConfig{Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("NewCollectionStore() error = %v", err)
	}
	emb := &hashEmbedder{}
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.Logger = logging.Discard()
	p, err := NewPipeline(gw, emb, cfg)
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}
	return p, gw, emb
}

func collectionCount(t *testing.T, gw rag.Gateway, name string) int {
	t.Helper()
	info, ok, err := lookup(gw, name)
	if err != nil {
		t.Fatalf("Lookup(%q) error = %v", name, err)
	}
	if !ok {
		t.Fatalf("collection %q does not exist", name)
	}
	return info.Count
}

func lookup(gw rag.Gateway, name string) (rag.CollectionInfo, bool, error) {
	opt, err := gw.Lookup(context.Background(), name)
	if err != nil {
		return rag.CollectionInfo{}, false, err
	}
	info, ok := opt.Get()
	return info, ok, nil
}

func TestIngest_ThreePagesOneTable(t *testing.T) {
	t.Parallel()

	p, gw, emb := newTestPipeline(t, nil)
	path := reportPDF(t)

	res, err := p.Ingest(context.Background(), path, "")
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if res.Skipped {
		t.Fatal("Ingest() skipped a new collection")
	}
	if res.Collection != "Annual_Report_collection" {
		t.Errorf("Collection = %q, want Annual_Report_collection", res.Collection)
	}
	if res.Pages != 3 {
		t.Errorf("Pages = %d, want 3", res.Pages)
	}
	// One chunk per page with the default chunk size.
	if res.TextChunks != 3 {
		t.Errorf("TextChunks = %d, want 3", res.TextChunks)
	}
	if res.Tables != 1 {
		t.Errorf("Tables = %d, want 1", res.Tables)
	}
	if res.Images != 0 {
		t.Errorf("Images = %d, want 0", res.Images)
	}
	if res.Total != res.TextChunks+res.Tables+res.Images {
		t.Errorf("Total = %d, want %d", res.Total, res.TextChunks+res.Tables+res.Images)
	}
	if got := collectionCount(t, gw, res.Collection); got != res.Total {
		t.Errorf("stored count = %d, want %d", got, res.Total)
	}

	var table string
	for _, s := range emb.embedded() {
		if s != Normalize(s) {
			t.Errorf("embedded text %q is not normalized", s)
		}
		if strings.HasPrefix(s, "| region") {
			table = s
		}
	}
	want := "| region | q1 | q2 | | --- | --- | --- | | north | 10 | 12 | | south | 7 | 9 |"
	if table != want {
		t.Errorf("embedded table = %q, want %q", table, want)
	}

	// The table unit is retrievable with its page metadata.
	hits, err := gw.Search(context.Background(), res.Collection, mustEmbed(t, emb, want), 1)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Unit.ContentType() != rag.ContentTable || hits[0].Unit.Metadata[rag.MetaPageNumber] != "2" {
		t.Errorf("Search() = %+v, want the page 2 table", hits)
	}
}

func mustEmbed(t *testing.T, emb rag.Embedder, s string) []float32 {
	t.Helper()
	v, err := emb.Embed(context.Background(), []string{s})
	if err != nil {
		t.Fatal(err)
	}
	return v[0]
}

func TestIngest_Idempotent(t *testing.T) {
	t.Parallel()

	p, gw, emb := newTestPipeline(t, nil)
	path := reportPDF(t)

	first, err := p.Ingest(context.Background(), path, "report")
	if err != nil {
		t.Fatalf("first Ingest() error = %v", err)
	}
	embeddedBefore := len(emb.embedded())

	second, err := p.Ingest(context.Background(), path, "report")
	if err != nil {
		t.Fatalf("second Ingest() error = %v", err)
	}
	if !second.Skipped {
		t.Error("second Ingest() did not skip")
	}
	if got := collectionCount(t, gw, "report"); got != first.Total {
		t.Errorf("count after second ingest = %d, want %d", got, first.Total)
	}
	if got := len(emb.embedded()); got != embeddedBefore {
		t.Errorf("second Ingest() embedded %d more texts, want 0", got-embeddedBefore)
	}
}

func TestIngest_SpacingKeepsDocumentsApart(t *testing.T) {
	t.Parallel()

	p, gw, _ := newTestPipeline(t, nil)
	dir := t.TempDir()

	var names []string
	for _, file := range []string{"Q3 report.pdf", "Q3  report.pdf"} {
		d := &extracttest.Doc{}
		d.AddPage().Text(72, 720, 12, "Contents of "+file)
		path := filepath.Join(dir, file)
		if err := d.WriteFile(path); err != nil {
			t.Fatalf("write fixture: %v", err)
		}

		res, err := p.Ingest(context.Background(), path, "")
		if err != nil {
			t.Fatalf("Ingest(%q) error = %v", file, err)
		}
		if res.Skipped {
			t.Fatalf("Ingest(%q) skipped into %q", file, res.Collection)
		}
		names = append(names, res.Collection)
	}

	if names[0] == names[1] {
		t.Fatalf("both files ingested into %q", names[0])
	}
	list, err := gw.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 {
		t.Errorf("List() = %d collections, want 2", len(list))
	}
}

func TestIngest_ConcurrentSameCollection(t *testing.T) {
	t.Parallel()

	p, gw, _ := newTestPipeline(t, nil)
	path := reportPDF(t)

	const n = 4
	results := make([]*Result, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Go(func() {
			results[i], errs[i] = p.Ingest(context.Background(), path, "shared")
		})
	}
	wg.Wait()

	written := 0
	total := 0
	for i := range n {
		if errs[i] != nil {
			t.Fatalf("Ingest() #%d error = %v", i, errs[i])
		}
		if !results[i].Skipped {
			written++
			total = results[i].Total
		}
	}
	if written != 1 {
		t.Errorf("%d ingestions wrote, want exactly 1", written)
	}
	if got := collectionCount(t, gw, "shared"); got != total {
		t.Errorf("stored count = %d, want %d", got, total)
	}
}

func TestIngest_ExtractorIsolation(t *testing.T) {
	t.Parallel()

	text := stubExtractor{name: "text", units: []rag.ContentUnit{
		{Content: "Body TEXT", Metadata: map[string]string{rag.MetaContentType: rag.ContentText, rag.MetaPageNumber: "1"}},
		{Content: " \n ", Metadata: map[string]string{rag.MetaContentType: rag.ContentText, rag.MetaPageNumber: "1"}},
	}}

	tests := []struct {
		name   string
		tables extract.Extractor
		images extract.Extractor
	}{
		{
			name:   "table extractor error",
			tables: stubExtractor{name: "tables", err: errors.New("no lattice")},
			images: stubExtractor{name: "images"},
		},
		{
			name:   "image extractor panic",
			tables: stubExtractor{name: "tables"},
			images: stubExtractor{name: "images", panic: true},
		},
		{
			name:   "both fail",
			tables: stubExtractor{name: "tables", panic: true},
			images: stubExtractor{name: "images", err: rag.ErrExtraction},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p, gw, _ := newTestPipeline(t, &Config{Text: text, Tables: tc.tables, Images: tc.images})

			res, err := p.Ingest(context.Background(), reportPDF(t), "isolated")
			if err != nil {
				t.Fatalf("Ingest() error = %v", err)
			}
			if res.Tables != 0 || res.Images != 0 {
				t.Errorf("Tables, Images = %d, %d, want 0, 0", res.Tables, res.Images)
			}
			if res.Total != 1 || res.Dropped != 1 {
				t.Errorf("Total, Dropped = %d, %d, want 1, 1", res.Total, res.Dropped)
			}
			if got := collectionCount(t, gw, "isolated"); got != 1 {
				t.Errorf("stored count = %d, want 1", got)
			}
		})
	}
}

func TestIngest_TextExtractorFailureIsFatal(t *testing.T) {
	t.Parallel()

	for _, text := range []stubExtractor{
		{name: "text", err: errors.New("unreadable page")},
		{name: "text", panic: true},
	} {
		p, gw, _ := newTestPipeline(t, &Config{Text: text})

		_, err := p.Ingest(context.Background(), reportPDF(t), "broken")
		if !errors.Is(err, rag.ErrExtraction) {
			t.Errorf("Ingest() error = %v, want ErrExtraction", err)
		}
		if ok, _ := gw.Exists(context.Background(), "broken"); ok {
			t.Error("collection exists after a failed ingestion")
		}
	}
}

func TestIngest_InvalidInput(t *testing.T) {
	t.Parallel()

	p, gw, _ := newTestPipeline(t, nil)
	missing := filepath.Join(t.TempDir(), "missing.pdf")

	for _, path := range []string{"", "  ", missing} {
		_, err := p.Ingest(context.Background(), path, "")
		if !errors.Is(err, rag.ErrInvalidInput) {
			t.Errorf("Ingest(%q) error = %v, want ErrInvalidInput", path, err)
		}
	}
	if ok, _ := gw.Exists(context.Background(), CollectionName(missing)); ok {
		t.Error("collection created for a missing document")
	}
}

func TestIngest_ChunkingConfig(t *testing.T) {
	t.Parallel()

	p, _, emb := newTestPipeline(t, &Config{Chunking: chunker.Config{Size: 12, Overlap: 0}})
	res, err := p.Ingest(context.Background(), reportPDF(t), "")
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if res.TextChunks <= 3 {
		t.Errorf("TextChunks = %d, want more than one chunk per page", res.TextChunks)
	}
	for _, s := range emb.embedded() {
		if !strings.HasPrefix(s, "|") && len([]rune(s)) > 12 {
			t.Errorf("text chunk %q exceeds 12 runes", s)
		}
	}
}

func TestNewPipeline_Validation(t *testing.T) {
	t.Parallel()

	gw, err := rag.NewCollectionStore(rag.NewMemoryBackend(), rag.StoreConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewPipeline(nil, &hashEmbedder{}, nil); err == nil {
		t.Error("NewPipeline(nil gateway) succeeded")
	}
	if _, err := NewPipeline(gw, nil, nil); err == nil {
		t.Error("NewPipeline(nil embedder) succeeded")
	}
	if _, err := NewPipeline(gw, &hashEmbedder{}, &Config{Chunking: chunker.Config{Size: 10, Overlap: 10}}); !errors.Is(err, rag.ErrInvalidInput) {
		t.Errorf("NewPipeline(bad chunking) error = %v, want ErrInvalidInput", err)
	}
}
