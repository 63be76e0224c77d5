package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/54b3r/docrag-go/internal/chunker"
	"github.com/54b3r/docrag-go/internal/extract/extracttest"
	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/rag"
)

func newTextExtractor(t *testing.T, cfg chunker.Config) *TextExtractor {
	t.Helper()
	sp, err := chunker.New(cfg)
	if err != nil {
		t.Fatalf("chunker.New() error = %v", err)
	}
	e, err := NewTextExtractor(sp, logging.Discard())
	if err != nil {
		t.Fatalf("NewTextExtractor() error = %v", err)
	}
	return e
}

func TestTextExtractor_PagesAndMetadata(t *testing.T) {
	t.Parallel()

	d := &extracttest.Doc{Title: "Quarterly Report"}
	d.AddPage().Paragraph(72, 720, 12, 14,
		"Revenue grew in the third quarter.",
		"Costs were flat.",
	)
	d.AddPage().Text(72, 720, 12, "Second page text.")
	doc := openPDF(t, d)

	units, err := newTextExtractor(t, chunker.Default).Extract(context.Background(), doc)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(units) != 2 {
		t.Fatalf("Extract() returned %d units, want 2: %+v", len(units), units)
	}

	want := []struct {
		content string
		page    string
	}{
		{"Revenue grew in the third quarter.\nCosts were flat.", "1"},
		{"Second page text.", "2"},
	}
	for i, w := range want {
		u := units[i]
		if u.Content != w.content {
			t.Errorf("units[%d].Content = %q, want %q", i, u.Content, w.content)
		}
		if got := u.Metadata[rag.MetaPageNumber]; got != w.page {
			t.Errorf("units[%d] page_number = %q, want %q", i, got, w.page)
		}
		if got := u.Metadata[rag.MetaChunkIndex]; got != "0" {
			t.Errorf("units[%d] chunk_index_in_page = %q, want 0", i, got)
		}
		if got := u.ContentType(); got != rag.ContentText {
			t.Errorf("units[%d] content_type = %q, want %q", i, got, rag.ContentText)
		}
		if got := u.Metadata[MetaTitle]; got != "Quarterly Report" {
			t.Errorf("units[%d] title = %q, want document title", i, got)
		}
		if got := u.Metadata[rag.MetaTotalPages]; got != "2" {
			t.Errorf("units[%d] total_pages = %q, want 2", i, got)
		}
	}
}

func TestTextExtractor_ChunkIndexPerPage(t *testing.T) {
	t.Parallel()

	d := &extracttest.Doc{}
	d.AddPage().Paragraph(72, 720, 10, 12,
		"alpha beta gamma",
		"delta epsilon zeta",
		"eta theta iota",
	)
	d.AddPage().Text(72, 720, 10, "kappa lambda")
	doc := openPDF(t, d)

	units, err := newTextExtractor(t, chunker.Config{Size: 20, Overlap: 0}).Extract(context.Background(), doc)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	var page1 []string
	for _, u := range units {
		if len([]rune(u.Content)) > 20 {
			t.Errorf("chunk %q exceeds 20 runes", u.Content)
		}
		if u.Metadata[rag.MetaPageNumber] == "1" {
			page1 = append(page1, u.Metadata[rag.MetaChunkIndex])
		}
	}
	if strings.Join(page1, ",") != "0,1,2" {
		t.Errorf("page 1 chunk indexes = %v, want [0 1 2]", page1)
	}
	last := units[len(units)-1]
	if last.Metadata[rag.MetaPageNumber] != "2" || last.Metadata[rag.MetaChunkIndex] != "0" {
		t.Errorf("last unit metadata = %v, want page 2 chunk 0", last.Metadata)
	}
}

func TestTextExtractor_TJSpacing(t *testing.T) {
	t.Parallel()

	d := &extracttest.Doc{}
	d.AddPage().Raw("BT /F1 10 Tf 72 700 Td [(Hello) -1000 (world)] TJ ET")
	doc := openPDF(t, d)

	units, err := newTextExtractor(t, chunker.Default).Extract(context.Background(), doc)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(units) != 1 || units[0].Content != "Hello world" {
		t.Errorf("Extract() = %+v, want one unit \"Hello world\"", units)
	}
}

func TestTextExtractor_BlankPage(t *testing.T) {
	t.Parallel()

	d := &extracttest.Doc{}
	d.AddPage()
	d.AddPage().Text(72, 720, 12, "only text")
	doc := openPDF(t, d)

	units, err := newTextExtractor(t, chunker.Default).Extract(context.Background(), doc)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(units) != 1 || units[0].Metadata[rag.MetaPageNumber] != "2" {
		t.Errorf("Extract() = %+v, want a single unit from page 2", units)
	}
}

func TestTextExtractor_Cancelled(t *testing.T) {
	t.Parallel()

	d := &extracttest.Doc{}
	d.AddPage().Text(72, 720, 12, "text")
	doc := openPDF(t, d)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newTextExtractor(t, chunker.Default).Extract(ctx, doc); !errors.Is(err, context.Canceled) {
		t.Errorf("Extract() error = %v, want context.Canceled", err)
	}
}

func TestNewTextExtractor_NilSplitter(t *testing.T) {
	t.Parallel()

	if _, err := NewTextExtractor(nil, nil); err == nil {
		t.Error("NewTextExtractor(nil) succeeded, want error")
	}
}
