// Package extract turns a PDF into content units. Three extractors share
// one page scanner built on github.com/ledongthuc/pdf:
//
//   - TextExtractor rebuilds reading-order text per page and chunks it.
//   - TableExtractor finds ruled (lattice) tables and renders them as
//     markdown.
//   - ImageExtractor describes every placed image with the text directly
//     below it as caption.
//
// Extractors hold no mutable state, so one Document can be handed to all
// three concurrently. Panics raised by the PDF library are recovered and
// returned as errors wrapping rag.ErrExtraction.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/54b3r/docrag-go/internal/rag"
)

// Extractor produces content units from an open document.
type Extractor interface {
	// Name identifies the extractor in logs ("text", "tables", "images").
	Name() string

	// Extract returns the document's units in page order.
	Extract(ctx context.Context, doc *Document) ([]rag.ContentUnit, error)
}

// pageFunc handles one scanned page and returns its units.
type pageFunc func(pageNum int, scan *pageScan, media box) ([]rag.ContentUnit, error)

// eachPage scans every page and calls fn. When strict is false a page that
// fails to scan is logged and skipped; otherwise the first failure is
// returned. Cancellation is checked between pages.
func eachPage(ctx context.Context, doc *Document, log *slog.Logger, strict bool, fn pageFunc) ([]rag.ContentUnit, error) {
	var units []rag.ContentUnit
	for n := 1; n <= doc.NumPages(); n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := doc.Page(n)
		if page.V.IsNull() {
			if strict {
				return nil, fmt.Errorf("extract: page %d not found: %w", n, rag.ErrExtraction)
			}
			continue
		}
		scan, err := scanPage(page)
		if err != nil {
			if strict {
				return nil, fmt.Errorf("extract: page %d: %w: %w", n, rag.ErrExtraction, err)
			}
			log.Warn("page skipped", slog.Int("page", n), slog.Any("error", err))
			continue
		}
		got, err := safePage(n, scan, mediaBox(page), fn)
		if err != nil {
			if strict {
				return nil, err
			}
			log.Warn("page skipped", slog.Int("page", n), slog.Any("error", err))
			continue
		}
		units = append(units, got...)
	}
	return units, nil
}

// safePage runs fn, converting a panic into an ErrExtraction.
func safePage(n int, scan *pageScan, media box, fn pageFunc) (units []rag.ContentUnit, err error) {
	defer func() {
		if r := recover(); r != nil {
			units, err = nil, fmt.Errorf("extract: page %d: %v: %w", n, r, rag.ErrExtraction)
		}
	}()
	return fn(n, scan, media)
}

// unit builds a ContentUnit with the common page metadata set.
func unit(content, contentType string, page int, extra map[string]string) rag.ContentUnit {
	md := make(map[string]string, len(extra)+2)
	for k, v := range extra {
		md[k] = v
	}
	md[rag.MetaContentType] = contentType
	md[rag.MetaPageNumber] = strconv.Itoa(page)
	return rag.ContentUnit{Content: content, Metadata: md}
}
