package extract

import (
	"cmp"
	"context"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/rag"
)

// Lattice detection tolerances, in points.
const (
	// rulingThickness: a filled rectangle thinner than this is a ruling.
	rulingThickness = 2.0
	// snapTolerance: ruling positions closer than this are the same line.
	snapTolerance = 2.0
	// joinTolerance: slack allowed when testing whether rulings touch.
	joinTolerance = 3.0
)

// TableExtractor finds lattice tables: text enclosed by a grid of ruled
// lines drawn as stroked paths or thin filled rectangles. Each table
// becomes one markdown unit.
type TableExtractor struct {
	log *slog.Logger
}

var _ Extractor = (*TableExtractor)(nil)

// NewTableExtractor returns a TableExtractor.
func NewTableExtractor(log *slog.Logger) *TableExtractor {
	return &TableExtractor{log: logging.Component(log, "extract.tables")}
}

// Name implements Extractor.
func (e *TableExtractor) Name() string { return "tables" }

// Extract implements Extractor. Pages that fail to scan are skipped.
func (e *TableExtractor) Extract(ctx context.Context, doc *Document) ([]rag.ContentUnit, error) {
	units, err := eachPage(ctx, doc, e.log, false, func(n int, scan *pageScan, _ box) ([]rag.ContentUnit, error) {
		var out []rag.ContentUnit
		for i, grid := range findTables(scan) {
			out = append(out, unit(markdownTable(grid), rag.ContentTable, n, map[string]string{
				rag.MetaTableIndex: strconv.Itoa(i),
			}))
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Debug("tables extracted", slog.String("document", doc.Name), slog.Int("tables", len(units)))
	return units, nil
}

type hRule struct{ y, x0, x1 float64 }
type vRule struct{ x, y0, y1 float64 }

// findTables returns the cell text of every table on the page, ordered top
// to bottom then left to right. Grids without any text are ignored.
func findTables(scan *pageScan) [][][]string {
	hs, vs := rulings(scan)
	if len(hs) < 2 || len(vs) < 2 {
		return nil
	}

	type table struct {
		top, left float64
		cells     [][]string
	}
	var tables []table
	for _, comp := range components(hs, vs) {
		var ys, xs []float64
		for _, h := range comp.h {
			ys = append(ys, h.y)
		}
		for _, v := range comp.v {
			xs = append(xs, v.x)
		}
		ys = cluster(ys)
		xs = cluster(xs)
		slices.Reverse(ys) // top row first
		rows, cols := len(ys)-1, len(xs)-1
		if rows < 1 || cols < 1 || rows*cols < 2 {
			continue
		}
		cells, ok := fillCells(scan.glyphs, xs, ys)
		if !ok {
			continue
		}
		tables = append(tables, table{top: ys[0], left: xs[0], cells: cells})
	}
	slices.SortStableFunc(tables, func(a, b table) int {
		if c := cmp.Compare(b.top, a.top); c != 0 {
			return c
		}
		return cmp.Compare(a.left, b.left)
	})

	out := make([][][]string, len(tables))
	for i, t := range tables {
		out[i] = t.cells
	}
	return out
}

// rulings collects horizontal and vertical rulings from stroked segments
// and rectangles, merging collinear overlapping pieces.
func rulings(scan *pageScan) ([]hRule, []vRule) {
	var hs []hRule
	var vs []vRule
	addH := func(y, x0, x1 float64) { hs = append(hs, hRule{y, math.Min(x0, x1), math.Max(x0, x1)}) }
	addV := func(x, y0, y1 float64) { vs = append(vs, vRule{x, math.Min(y0, y1), math.Max(y0, y1)}) }

	for _, l := range scan.lines {
		dx, dy := math.Abs(l.x1-l.x0), math.Abs(l.y1-l.y0)
		switch {
		case dy <= snapTolerance && dx > snapTolerance:
			addH((l.y0+l.y1)/2, l.x0, l.x1)
		case dx <= snapTolerance && dy > snapTolerance:
			addV((l.x0+l.x1)/2, l.y0, l.y1)
		}
	}
	for _, r := range scan.rects {
		w, h := r.width(), r.height()
		switch {
		case h <= rulingThickness && w > rulingThickness:
			addH((r.y0+r.y1)/2, r.x0, r.x1)
		case w <= rulingThickness && h > rulingThickness:
			addV((r.x0+r.x1)/2, r.y0, r.y1)
		case r.stroked && w > rulingThickness && h > rulingThickness:
			addH(r.y0, r.x0, r.x1)
			addH(r.y1, r.x0, r.x1)
			addV(r.x0, r.y0, r.y1)
			addV(r.x1, r.y0, r.y1)
		}
	}
	return mergeH(hs), mergeV(vs)
}

func mergeH(hs []hRule) []hRule {
	slices.SortFunc(hs, func(a, b hRule) int {
		if c := cmp.Compare(a.y, b.y); c != 0 {
			return c
		}
		return cmp.Compare(a.x0, b.x0)
	})
	var out []hRule
	for _, h := range hs {
		if n := len(out); n > 0 {
			last := &out[n-1]
			if math.Abs(h.y-last.y) <= snapTolerance && h.x0 <= last.x1+joinTolerance {
				last.x1 = math.Max(last.x1, h.x1)
				continue
			}
		}
		out = append(out, h)
	}
	return out
}

func mergeV(vs []vRule) []vRule {
	slices.SortFunc(vs, func(a, b vRule) int {
		if c := cmp.Compare(a.x, b.x); c != 0 {
			return c
		}
		return cmp.Compare(a.y0, b.y0)
	})
	var out []vRule
	for _, v := range vs {
		if n := len(out); n > 0 {
			last := &out[n-1]
			if math.Abs(v.x-last.x) <= snapTolerance && v.y0 <= last.y1+joinTolerance {
				last.y1 = math.Max(last.y1, v.y1)
				continue
			}
		}
		out = append(out, v)
	}
	return out
}

type rulingSet struct {
	h []hRule
	v []vRule
}

// components groups rulings that touch each other. Only groups with at
// least two rulings in each direction are returned.
func components(hs []hRule, vs []vRule) []rulingSet {
	parent := make([]int, len(hs)+len(vs))
	for i := range parent {
		parent[i] = i
	}
	find := func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	for i, h := range hs {
		for j, v := range vs {
			if v.x >= h.x0-joinTolerance && v.x <= h.x1+joinTolerance &&
				h.y >= v.y0-joinTolerance && h.y <= v.y1+joinTolerance {
				parent[find(i)] = find(len(hs) + j)
			}
		}
	}

	groups := map[int]*rulingSet{}
	var order []int
	get := func(root int) *rulingSet {
		g, ok := groups[root]
		if !ok {
			g = &rulingSet{}
			groups[root] = g
			order = append(order, root)
		}
		return g
	}
	for i, h := range hs {
		g := get(find(i))
		g.h = append(g.h, h)
	}
	for j, v := range vs {
		g := get(find(len(hs) + j))
		g.v = append(g.v, v)
	}

	var out []rulingSet
	for _, root := range order {
		if g := groups[root]; len(g.h) >= 2 && len(g.v) >= 2 {
			out = append(out, *g)
		}
	}
	return out
}

// cluster sorts values ascending and collapses runs closer than
// snapTolerance into their mean.
func cluster(values []float64) []float64 {
	slices.Sort(values)
	var out []float64
	var sum float64
	var n int
	for i, v := range values {
		if i > 0 && v-values[i-1] > snapTolerance {
			out = append(out, sum/float64(n))
			sum, n = 0, 0
		}
		sum += v
		n++
	}
	if n > 0 {
		out = append(out, sum/float64(n))
	}
	return out
}

// fillCells assigns glyphs to grid cells by their centre. xs ascend and ys
// descend. It reports false when no cell received any text.
func fillCells(glyphs []glyph, xs, ys []float64) ([][]string, bool) {
	rows, cols := len(ys)-1, len(xs)-1
	buckets := make([][]glyph, rows*cols)
	for _, g := range glyphs {
		cx, cy := g.centre()
		col := -1
		for i := 0; i < cols; i++ {
			if cx >= xs[i] && cx < xs[i+1] {
				col = i
				break
			}
		}
		row := -1
		for j := 0; j < rows; j++ {
			if cy <= ys[j] && cy > ys[j+1] {
				row = j
				break
			}
		}
		if row < 0 || col < 0 {
			continue
		}
		buckets[row*cols+col] = append(buckets[row*cols+col], g)
	}

	cells := make([][]string, rows)
	filled := false
	for r := 0; r < rows; r++ {
		cells[r] = make([]string, cols)
		for c := 0; c < cols; c++ {
			cells[r][c] = flatText(buckets[r*cols+c])
			if cells[r][c] != "" {
				filled = true
			}
		}
	}
	return cells, filled
}

// markdownTable renders rows as a pipe table whose first row is the header.
func markdownTable(rows [][]string) string {
	var b strings.Builder
	for i, row := range rows {
		b.WriteByte('|')
		for _, cell := range row {
			b.WriteString(" ")
			b.WriteString(escapeCell(cell))
			b.WriteString(" |")
		}
		b.WriteByte('\n')
		if i == 0 {
			b.WriteByte('|')
			for range row {
				b.WriteString(" --- |")
			}
			b.WriteByte('\n')
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}
