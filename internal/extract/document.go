package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/54b3r/docrag-go/internal/rag"
)

// Letter-size media box used when a page declares none.
const (
	defaultPageWidth  = 612
	defaultPageHeight = 792
)

// Document-level metadata keys merged into text units.
const (
	MetaTitle    = "title"
	MetaAuthor   = "author"
	MetaSubject  = "subject"
	MetaKeywords = "keywords"
	MetaCreator  = "creator"
	MetaProducer = "producer"
)

// infoKeys maps PDF Info dictionary entries onto metadata keys.
var infoKeys = map[string]string{
	"Title":    MetaTitle,
	"Author":   MetaAuthor,
	"Subject":  MetaSubject,
	"Keywords": MetaKeywords,
	"Creator":  MetaCreator,
	"Producer": MetaProducer,
}

// Document is an open PDF. Its reader is safe for concurrent use by the
// extractors: every read goes through io.ReaderAt and nothing is cached.
type Document struct {
	// Path is the file path as given to Open.
	Path string
	// Name is the base file name.
	Name string

	file   *os.File
	reader *pdf.Reader
	pages  int
	meta   map[string]string
}

// Open validates path and opens the PDF. A missing file, a directory or a
// file that does not parse as PDF is reported as rag.ErrInvalidInput.
func Open(path string) (doc *Document, err error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("extract: document path is empty: %w", rag.ErrInvalidInput)
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("extract: %s: %w: %w", path, rag.ErrInvalidInput, err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("extract: %s is a directory: %w", path, rag.ErrInvalidInput)
	}

	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, fmt.Errorf("extract: %s: malformed PDF: %v: %w", path, r, rag.ErrInvalidInput)
		}
	}()
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("extract: %s: %w: %w", path, rag.ErrInvalidInput, err)
	}

	d := &Document{
		Path:   path,
		Name:   filepath.Base(path),
		file:   f,
		reader: reader,
		pages:  reader.NumPage(),
	}
	d.meta = d.readMetadata()
	return d, nil
}

// Close releases the underlying file.
func (d *Document) Close() error {
	if d.file == nil {
		return nil
	}
	return d.file.Close()
}

// NumPages returns the page count.
func (d *Document) NumPages() int { return d.pages }

// Page returns the 1-based page n.
func (d *Document) Page(n int) pdf.Page { return d.reader.Page(n) }

// Metadata returns a copy of the document-level metadata: Info dictionary
// entries plus source, file_path and total_pages.
func (d *Document) Metadata() map[string]string {
	out := make(map[string]string, len(d.meta))
	for k, v := range d.meta {
		out[k] = v
	}
	return out
}

func (d *Document) readMetadata() map[string]string {
	meta := map[string]string{
		rag.MetaSource:     d.Name,
		rag.MetaFilePath:   d.Path,
		rag.MetaTotalPages: strconv.Itoa(d.pages),
	}
	info := d.reader.Trailer().Key("Info")
	for pdfKey, key := range infoKeys {
		if v := strings.TrimSpace(info.Key(pdfKey).Text()); v != "" {
			meta[key] = v
		}
	}
	return meta
}

// mediaBox returns the page's MediaBox, inherited through the page tree,
// defaulting to US Letter.
func mediaBox(page pdf.Page) box {
	mb := inherited(page.V, "MediaBox")
	if mb.Len() != 4 {
		return box{0, 0, defaultPageWidth, defaultPageHeight}
	}
	xs := []float64{mb.Index(0).Float64(), mb.Index(2).Float64()}
	ys := []float64{mb.Index(1).Float64(), mb.Index(3).Float64()}
	b := boundsOf(xs, ys)
	if b.width() <= 0 || b.height() <= 0 {
		return box{0, 0, defaultPageWidth, defaultPageHeight}
	}
	return b
}

// toTopLeft converts a page-space box (y up) into top-left page
// coordinates (y down from the top edge of the media box).
func toTopLeft(b, media box) box {
	return box{
		x0: b.x0 - media.x0,
		y0: media.y1 - b.y1,
		x1: b.x1 - media.x0,
		y1: media.y1 - b.y0,
	}
}
