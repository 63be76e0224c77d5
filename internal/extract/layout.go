package extract

import (
	"cmp"
	"math"
	"slices"
	"strings"
)

// Layout tolerances, as fractions of the font size.
const (
	// sameLineFactor: glyphs whose baselines differ by less than this share a line.
	sameLineFactor = 0.5
	// wordGapFactor: a horizontal gap wider than this starts a new word.
	wordGapFactor = 0.25
	// paragraphGapFactor: a vertical gap wider than this many line heights
	// starts a new paragraph.
	paragraphGapFactor = 1.8
)

type textLine struct {
	y      float64
	size   float64
	glyphs []glyph
}

// groupLines clusters glyphs into lines ordered top to bottom, each line
// ordered left to right. Control characters are dropped.
func groupLines(glyphs []glyph) []textLine {
	gs := make([]glyph, 0, len(glyphs))
	for _, g := range glyphs {
		if g.S == "" || g.S == "\n" || g.S == "\r" || g.S == "\t" {
			continue
		}
		gs = append(gs, g)
	}
	slices.SortStableFunc(gs, func(a, b glyph) int {
		if c := cmp.Compare(b.Y, a.Y); c != 0 {
			return c
		}
		return cmp.Compare(a.X, b.X)
	})

	var lines []textLine
	for _, g := range gs {
		if n := len(lines); n > 0 {
			last := &lines[n-1]
			tol := math.Max(math.Max(last.size, g.Size)*sameLineFactor, 1)
			if math.Abs(last.y-g.Y) <= tol {
				last.glyphs = append(last.glyphs, g)
				last.size = math.Max(last.size, g.Size)
				continue
			}
		}
		lines = append(lines, textLine{y: g.Y, size: g.Size, glyphs: []glyph{g}})
	}
	for i := range lines {
		slices.SortStableFunc(lines[i].glyphs, func(a, b glyph) int { return cmp.Compare(a.X, b.X) })
	}
	return lines
}

// lineText renders one line, inserting a single space wherever the gap
// between consecutive glyphs is wider than a fraction of the font size.
func lineText(l textLine) string {
	var b strings.Builder
	prevSpace := true
	for i, g := range l.glyphs {
		if i > 0 {
			prev := l.glyphs[i-1]
			gap := g.X - (prev.X + prev.W)
			if gap > math.Max(prev.Size, g.Size)*wordGapFactor && !prevSpace && g.S != " " {
				b.WriteByte(' ')
				prevSpace = true
			}
		}
		if g.S == " " {
			if !prevSpace {
				b.WriteByte(' ')
			}
			prevSpace = true
			continue
		}
		b.WriteString(g.S)
		prevSpace = false
	}
	return strings.TrimSpace(b.String())
}

// layoutText reconstructs reading-order text: lines separated by newlines
// and paragraphs (large vertical gaps) by a blank line.
func layoutText(glyphs []glyph) string {
	lines := groupLines(glyphs)
	var b strings.Builder
	for i, l := range lines {
		s := lineText(l)
		if s == "" {
			continue
		}
		if b.Len() > 0 {
			gap := lines[i-1].y - l.y
			if gap > math.Max(l.size, lines[i-1].size)*paragraphGapFactor {
				b.WriteString("\n\n")
			} else {
				b.WriteByte('\n')
			}
		}
		b.WriteString(s)
	}
	return b.String()
}

// flatText renders glyphs as a single line of words, used for table cells
// and captions where line structure is not meaningful.
func flatText(glyphs []glyph) string {
	lines := groupLines(glyphs)
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		if s := lineText(l); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}
