package extract

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/rag"
)

// CaptionBandHeight is how far below an image, in points, caption text is
// looked for.
const CaptionBandHeight = 50.0

// NoCaption is the caption recorded when nothing is found below an image.
const NoCaption = "No caption found"

// ImageExtractor emits one synthetic unit per placed image describing it
// and quoting the text immediately below it. Images are numbered per page
// from top to bottom.
type ImageExtractor struct {
	log *slog.Logger
}

var _ Extractor = (*ImageExtractor)(nil)

// NewImageExtractor returns an ImageExtractor.
func NewImageExtractor(log *slog.Logger) *ImageExtractor {
	return &ImageExtractor{log: logging.Component(log, "extract.images")}
}

// Name implements Extractor.
func (e *ImageExtractor) Name() string { return "images" }

// Extract implements Extractor. Pages that fail to scan are skipped.
func (e *ImageExtractor) Extract(ctx context.Context, doc *Document) ([]rag.ContentUnit, error) {
	units, err := eachPage(ctx, doc, e.log, false, func(n int, scan *pageScan, media box) ([]rag.ContentUnit, error) {
		var out []rag.ContentUnit
		for i, bb := range imageBoxes(scan, media) {
			out = append(out, unit(ImageDescription(caption(scan.glyphs, bb, media)), rag.ContentImageCaption, n, map[string]string{
				rag.MetaImageIndex: strconv.Itoa(i),
				rag.MetaImageBBox:  formatBBox(bb),
			}))
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Debug("images extracted", slog.String("document", doc.Name), slog.Int("images", len(units)))
	return units, nil
}

// ImageDescription renders the unit content for an image with caption.
func ImageDescription(caption string) string {
	return fmt.Sprintf("[Image: An image is present on the page. Caption: '%s']", caption)
}

// imageBoxes maps every image placement to its bounding box in top-left
// page coordinates, sorted by bottom edge then left edge.
func imageBoxes(scan *pageScan, media box) []box {
	boxes := make([]box, 0, len(scan.images))
	for _, ctm := range scan.images {
		var xs, ys [4]float64
		for i, c := range [4][2]float64{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
			xs[i], ys[i] = ctm.apply(c[0], c[1])
		}
		boxes = append(boxes, toTopLeft(boundsOf(xs[:], ys[:]), media))
	}
	slices.SortStableFunc(boxes, func(a, b box) int {
		if c := cmp.Compare(a.y1, b.y1); c != 0 {
			return c
		}
		return cmp.Compare(a.x0, b.x0)
	})
	return boxes
}

// caption returns the text whose glyph centres fall in the band of
// CaptionBandHeight points directly below bb, or NoCaption.
func caption(glyphs []glyph, bb, media box) string {
	var in []glyph
	for _, g := range glyphs {
		cx, cy := g.centre()
		x, y := cx-media.x0, media.y1-cy
		if x >= bb.x0 && x <= bb.x1 && y >= bb.y1 && y <= bb.y1+CaptionBandHeight {
			in = append(in, g)
		}
	}
	if c := strings.TrimSpace(flatText(in)); c != "" {
		return c
	}
	return NoCaption
}

// formatBBox renders a box as "[x0, y0, x1, y1]" with coordinates rounded
// to two decimals and always carrying a fractional part.
func formatBBox(b box) string {
	return fmt.Sprintf("[%s, %s, %s, %s]", coord(b.x0), coord(b.y0), coord(b.x1), coord(b.y1))
}

func coord(v float64) string {
	s := strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
