package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/54b3r/docrag-go/internal/chunker"
	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/rag"
)

// TextExtractor reconstructs each page's text from positioned glyphs and
// splits it into chunks. Every chunk carries the document metadata plus
// its page number and position within the page.
type TextExtractor struct {
	splitter *chunker.Splitter
	log      *slog.Logger
}

var _ Extractor = (*TextExtractor)(nil)

// NewTextExtractor returns a TextExtractor chunking with splitter.
func NewTextExtractor(splitter *chunker.Splitter, log *slog.Logger) (*TextExtractor, error) {
	if splitter == nil {
		return nil, fmt.Errorf("extract: splitter must not be nil")
	}
	return &TextExtractor{splitter: splitter, log: logging.Component(log, "extract.text")}, nil
}

// Name implements Extractor.
func (e *TextExtractor) Name() string { return "text" }

// Extract implements Extractor. Any page that cannot be read fails the
// whole extraction with rag.ErrExtraction.
func (e *TextExtractor) Extract(ctx context.Context, doc *Document) ([]rag.ContentUnit, error) {
	docMeta := doc.Metadata()
	var units []rag.ContentUnit
	for n := 1; n <= doc.NumPages(); n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := doc.Page(n)
		if page.V.IsNull() {
			return nil, fmt.Errorf("extract: page %d not found: %w", n, rag.ErrExtraction)
		}
		text, err := pageText(page)
		if err != nil {
			return nil, fmt.Errorf("extract: text of page %d: %w: %w", n, rag.ErrExtraction, err)
		}
		for i, chunk := range e.splitter.Split(text) {
			md := make(map[string]string, len(docMeta)+1)
			for k, v := range docMeta {
				md[k] = v
			}
			md[rag.MetaChunkIndex] = strconv.Itoa(i)
			units = append(units, unit(chunk, rag.ContentText, n, md))
		}
	}
	e.log.Debug("text extracted", slog.String("document", doc.Name), slog.Int("chunks", len(units)))
	return units, nil
}

// pageText lays out the page's glyphs, falling back to the library's plain
// text stream when the content cannot be interpreted. A page without
// content yields empty text.
func pageText(page pdf.Page) (string, error) {
	scan, scanErr := scanPage(page)
	if scanErr == nil {
		return layoutText(scan.glyphs), nil
	}
	plain, err := plainText(page)
	if err != nil {
		return "", scanErr
	}
	return strings.TrimSpace(plain), nil
}

func plainText(page pdf.Page) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("plain text: %v", r)
		}
	}()
	return page.GetPlainText(nil)
}
