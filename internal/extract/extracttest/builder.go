// Package extracttest writes small, valid PDF files for tests: text in a
// monospaced standard font, stroked lines and rectangles, ruled tables and
// placeholder images, with a correct cross-reference table.
//
// All text uses Courier (600/1000 em per glyph), so a 10pt string of n
// characters is exactly 6n points wide.
package extracttest

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Page accumulates the content stream of one page.
type Page struct {
	content bytes.Buffer
}

// Text draws s at baseline (x, y) in size-point Courier.
func (p *Page) Text(x, y, size float64, s string) *Page {
	fmt.Fprintf(&p.content, "BT /F1 %s Tf %s %s Td (%s) Tj ET\n", num(size), num(x), num(y), escape(s))
	return p
}

// Paragraph draws lines top-down from (x, y) with the given leading.
func (p *Page) Paragraph(x, y, size, leading float64, lines ...string) *Page {
	for i, l := range lines {
		p.Text(x, y-float64(i)*leading, size, l)
	}
	return p
}

// Line strokes a straight line.
func (p *Page) Line(x0, y0, x1, y1 float64) *Page {
	fmt.Fprintf(&p.content, "%s %s m %s %s l S\n", num(x0), num(y0), num(x1), num(y1))
	return p
}

// Rect strokes a rectangle with lower-left corner (x, y).
func (p *Page) Rect(x, y, w, h float64) *Page {
	fmt.Fprintf(&p.content, "%s %s %s %s re S\n", num(x), num(y), num(w), num(h))
	return p
}

// Image places the shared 1x1 image XObject over the rectangle with
// lower-left corner (x, y).
func (p *Page) Image(x, y, w, h float64) *Page {
	fmt.Fprintf(&p.content, "q %s 0 0 %s %s %s cm /Im1 Do Q\n", num(w), num(h), num(x), num(y))
	return p
}

// Table draws a fully ruled grid whose top-left corner is (x, top) and
// writes each cell's text in 10pt Courier.
func (p *Page) Table(x, top, colWidth, rowHeight float64, rows [][]string) *Page {
	nrows := len(rows)
	ncols := 0
	for _, r := range rows {
		ncols = max(ncols, len(r))
	}
	right := x + float64(ncols)*colWidth
	bottom := top - float64(nrows)*rowHeight
	for r := 0; r <= nrows; r++ {
		y := top - float64(r)*rowHeight
		p.Line(x, y, right, y)
	}
	for c := 0; c <= ncols; c++ {
		xx := x + float64(c)*colWidth
		p.Line(xx, top, xx, bottom)
	}
	for r, row := range rows {
		for c, cell := range row {
			if cell == "" {
				continue
			}
			p.Text(x+float64(c)*colWidth+4, top-float64(r+1)*rowHeight+6, 10, cell)
		}
	}
	return p
}

// Raw appends content stream operators verbatim.
func (p *Page) Raw(ops string) *Page {
	p.content.WriteString(ops)
	if !strings.HasSuffix(ops, "\n") {
		p.content.WriteByte('\n')
	}
	return p
}

// Doc is a PDF under construction. Pages inherit a US Letter MediaBox from
// the page tree root.
type Doc struct {
	Title  string
	Author string
	pages  []*Page
}

// AddPage appends an empty page and returns it.
func (d *Doc) AddPage() *Page {
	p := &Page{}
	d.pages = append(d.pages, p)
	return p
}

// Bytes serializes the document.
func (d *Doc) Bytes() []byte {
	const firstPageObj = 6
	var objs []string

	kids := make([]string, len(d.pages))
	for i := range d.pages {
		kids[i] = fmt.Sprintf("%d 0 R", firstPageObj+2*i)
	}
	widths := strings.TrimSpace(strings.Repeat("600 ", 126-32+1))

	objs = append(objs,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d /MediaBox [0 0 612 792] >>", strings.Join(kids, " "), len(d.pages)),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Courier /Encoding /WinAnsiEncoding /FirstChar 32 /LastChar 126 /Widths ["+widths+"] >>",
		"<< /Type /XObject /Subtype /Image /Width 1 /Height 1 /ColorSpace /DeviceGray /BitsPerComponent 8 /Length 1 >>\nstream\n\xff\nendstream",
		fmt.Sprintf("<< /Title (%s) /Author (%s) /Producer (extracttest) >>", escape(d.Title), escape(d.Author)),
	)
	for i, p := range d.pages {
		data := p.content.String()
		objs = append(objs,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /Resources << /Font << /F1 3 0 R >> /XObject << /Im1 4 0 R >> >> /Contents %d 0 R >>", firstPageObj+2*i+1),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(data), data),
		)
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objs)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R /Info 5 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return buf.Bytes()
}

// WriteFile serializes the document to path.
func (d *Doc) WriteFile(path string) error {
	return os.WriteFile(path, d.Bytes(), 0o600)
}

func num(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}
