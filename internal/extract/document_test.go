package extract

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/54b3r/docrag-go/internal/extract/extracttest"
	"github.com/54b3r/docrag-go/internal/rag"
)

// writePDF serializes d into a temporary file and returns its path.
func writePDF(t *testing.T, d *extracttest.Doc) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.pdf")
	if err := d.WriteFile(path); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

// openPDF writes d and opens it, closing it when the test ends.
func openPDF(t *testing.T, d *extracttest.Doc) *Document {
	t.Helper()
	doc, err := Open(writePDF(t, d))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = doc.Close() })
	return doc
}

func TestOpen_InvalidInput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	notPDF := filepath.Join(dir, "notes.pdf")
	if err := os.WriteFile(notPDF, []byte("just some text, not a PDF"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
	}{
		{name: "empty path", path: ""},
		{name: "blank path", path: "   "},
		{name: "missing file", path: filepath.Join(dir, "missing.pdf")},
		{name: "directory", path: dir},
		{name: "not a pdf", path: notPDF},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			doc, err := Open(tc.path)
			if err == nil {
				_ = doc.Close()
				t.Fatalf("Open(%q) succeeded, want error", tc.path)
			}
			if !errors.Is(err, rag.ErrInvalidInput) {
				t.Errorf("Open(%q) error = %v, want ErrInvalidInput", tc.path, err)
			}
		})
	}
}

func TestDocument_Metadata(t *testing.T) {
	t.Parallel()

	d := &extracttest.Doc{Title: "Quarterly Report", Author: "Finance (EMEA)"}
	d.AddPage().Text(72, 720, 12, "one")
	d.AddPage().Text(72, 720, 12, "two")
	doc := openPDF(t, d)

	if got := doc.NumPages(); got != 2 {
		t.Fatalf("NumPages() = %d, want 2", got)
	}
	if doc.Name != "doc.pdf" {
		t.Errorf("Name = %q, want doc.pdf", doc.Name)
	}

	md := doc.Metadata()
	want := map[string]string{
		rag.MetaSource:     "doc.pdf",
		rag.MetaFilePath:   doc.Path,
		rag.MetaTotalPages: "2",
		MetaTitle:          "Quarterly Report",
		MetaAuthor:         "Finance (EMEA)",
		MetaProducer:       "extracttest",
	}
	for k, v := range want {
		if md[k] != v {
			t.Errorf("Metadata()[%q] = %q, want %q", k, md[k], v)
		}
	}
	if _, ok := md[MetaSubject]; ok {
		t.Errorf("Metadata() has %q although the PDF declares none", MetaSubject)
	}

	// The returned map is a copy.
	md[MetaTitle] = "changed"
	if doc.Metadata()[MetaTitle] != "Quarterly Report" {
		t.Error("Metadata() exposes internal state")
	}
}

func TestMediaBox_Inherited(t *testing.T) {
	t.Parallel()

	d := &extracttest.Doc{}
	d.AddPage()
	doc := openPDF(t, d)

	// The fixture declares MediaBox on the page tree root only.
	if !doc.Page(1).V.Key("MediaBox").IsNull() {
		t.Fatal("fixture page carries its own MediaBox")
	}
	if got, want := mediaBox(doc.Page(1)), (box{0, 0, 612, 792}); got != want {
		t.Errorf("mediaBox() = %+v, want %+v", got, want)
	}
}
