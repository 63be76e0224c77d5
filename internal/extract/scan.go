package extract

import (
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// maxFormDepth bounds recursion into nested form XObjects.
const maxFormDepth = 8

// fallbackGlyphWidth is the advance, in thousandths of an em, used when a
// font carries no width for a code (CID fonts, missing Widths arrays).
const fallbackGlyphWidth = 500

// matrix is a PDF affine transform [a b c d e f] in row-vector convention:
// a point maps as x' = a*x + c*y + e, y' = b*x + d*y + f.
type matrix [6]float64

var identity = matrix{1, 0, 0, 1, 0, 0}

// mul returns m followed by n.
func (m matrix) mul(n matrix) matrix {
	return matrix{
		m[0]*n[0] + m[1]*n[2],
		m[0]*n[1] + m[1]*n[3],
		m[2]*n[0] + m[3]*n[2],
		m[2]*n[1] + m[3]*n[3],
		m[4]*n[0] + m[5]*n[2] + n[4],
		m[4]*n[1] + m[5]*n[3] + n[5],
	}
}

func (m matrix) apply(x, y float64) (float64, float64) {
	return x*m[0] + y*m[2] + m[4], x*m[1] + y*m[3] + m[5]
}

func translate(tx, ty float64) matrix { return matrix{1, 0, 0, 1, tx, ty} }

func matrixFrom(args []pdf.Value) matrix {
	var m matrix
	for i := 0; i < 6 && i < len(args); i++ {
		m[i] = args[i].Float64()
	}
	return m
}

// box is an axis-aligned rectangle with x0 <= x1 and y0 <= y1.
type box struct{ x0, y0, x1, y1 float64 }

func (b box) width() float64  { return b.x1 - b.x0 }
func (b box) height() float64 { return b.y1 - b.y0 }

// boundsOf returns the box enclosing the given points.
func boundsOf(xs, ys []float64) box {
	b := box{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	for i := range xs {
		b.x0 = math.Min(b.x0, xs[i])
		b.x1 = math.Max(b.x1, xs[i])
		b.y0 = math.Min(b.y0, ys[i])
		b.y1 = math.Max(b.y1, ys[i])
	}
	return b
}

// glyph is one shown character in page space (points, y up).
type glyph struct {
	X, Y float64 // baseline origin
	W    float64 // advance width
	Size float64 // effective font size
	S    string
}

// centre approximates the visual centre of the glyph.
func (g glyph) centre() (float64, float64) {
	return g.X + g.W/2, g.Y + g.Size*0.3
}

// segment is a straight stroked line in page space.
type segment struct{ x0, y0, x1, y1 float64 }

// paintedRect is a rectangle drawn with the re operator.
type paintedRect struct {
	box
	stroked bool
}

// pageScan is everything the extractors need from one page's content.
type pageScan struct {
	glyphs []glyph
	lines  []segment
	rects  []paintedRect
	// images holds the CTM in force at each image XObject placement; the
	// image occupies the unit square under it.
	images []matrix
}

type textState struct {
	font      pdf.Font
	enc       pdf.TextEncoding
	size      float64
	charSpace float64
	wordSpace float64
	scale     float64
	leading   float64
	rise      float64
}

type graphicsState struct {
	ctm  matrix
	text textState
}

type point struct{ x, y float64 }

// scanner interprets content streams. It follows the PDF imaging model
// only as far as positions go: colours, clipping and shading are ignored.
type scanner struct {
	out   *pageScan
	gs    graphicsState
	saved []graphicsState
	res   pdf.Value
	depth int

	tm, tlm matrix

	// current path
	pathLines []segment
	pathRects []box
	cur       point
	start     point
}

// scanPage interprets every content stream of page. Panics raised by the
// PDF library on malformed content are returned as errors.
func scanPage(page pdf.Page) (scan *pageScan, err error) {
	defer func() {
		if r := recover(); r != nil {
			scan, err = nil, fmt.Errorf("interpret page content: %v", r)
		}
	}()

	s := &scanner{
		out: &pageScan{},
		gs:  graphicsState{ctm: identity, text: textState{scale: 1}},
		res: inherited(page.V, "Resources"),
		tm:  identity,
		tlm: identity,
	}
	contents := page.V.Key("Contents")
	switch contents.Kind() {
	case pdf.Stream:
		s.run(contents)
	case pdf.Array:
		for i := 0; i < contents.Len(); i++ {
			if strm := contents.Index(i); strm.Kind() == pdf.Stream {
				s.run(strm)
			}
		}
	}
	return s.out, nil
}

func (s *scanner) run(strm pdf.Value) {
	pdf.Interpret(strm, func(stk *pdf.Stack, op string) {
		n := stk.Len()
		args := make([]pdf.Value, n)
		for i := n - 1; i >= 0; i-- {
			args[i] = stk.Pop()
		}
		s.do(op, args)
	})
}

func (s *scanner) do(op string, args []pdf.Value) {
	switch op {
	// graphics state
	case "q":
		s.saved = append(s.saved, s.gs)
	case "Q":
		if n := len(s.saved); n > 0 {
			s.gs = s.saved[n-1]
			s.saved = s.saved[:n-1]
		}
	case "cm":
		if len(args) == 6 {
			s.gs.ctm = matrixFrom(args).mul(s.gs.ctm)
		}

	// path construction
	case "m":
		if len(args) == 2 {
			s.cur = s.toPage(args[0].Float64(), args[1].Float64())
			s.start = s.cur
		}
	case "l":
		if len(args) == 2 {
			p := s.toPage(args[0].Float64(), args[1].Float64())
			s.pathLines = append(s.pathLines, segment{s.cur.x, s.cur.y, p.x, p.y})
			s.cur = p
		}
	case "c":
		if len(args) == 6 {
			s.cur = s.toPage(args[4].Float64(), args[5].Float64())
		}
	case "v", "y":
		if len(args) == 4 {
			s.cur = s.toPage(args[2].Float64(), args[3].Float64())
		}
	case "h":
		if s.cur != s.start {
			s.pathLines = append(s.pathLines, segment{s.cur.x, s.cur.y, s.start.x, s.start.y})
			s.cur = s.start
		}
	case "re":
		if len(args) == 4 {
			x, y, w, h := args[0].Float64(), args[1].Float64(), args[2].Float64(), args[3].Float64()
			var xs, ys [4]float64
			for i, c := range [4][2]float64{{x, y}, {x + w, y}, {x + w, y + h}, {x, y + h}} {
				p := s.toPage(c[0], c[1])
				xs[i], ys[i] = p.x, p.y
			}
			s.pathRects = append(s.pathRects, boundsOf(xs[:], ys[:]))
			s.cur = s.toPage(x, y)
			s.start = s.cur
		}

	// path painting
	case "S", "s", "B", "B*", "b", "b*":
		s.paint(true)
	case "f", "F", "f*":
		s.paint(false)
	case "n":
		s.clearPath()

	// XObjects
	case "Do":
		if len(args) == 1 {
			s.doXObject(args[0].Name())
		}

	// text objects and state
	case "BT":
		s.tm, s.tlm = identity, identity
	case "Tf":
		if len(args) == 2 {
			s.gs.text.font = pdf.Font{V: s.res.Key("Font").Key(args[0].Name())}
			s.gs.text.enc = s.gs.text.font.Encoder()
			s.gs.text.size = args[1].Float64()
		}
	case "Tc":
		if len(args) == 1 {
			s.gs.text.charSpace = args[0].Float64()
		}
	case "Tw":
		if len(args) == 1 {
			s.gs.text.wordSpace = args[0].Float64()
		}
	case "Tz":
		if len(args) == 1 {
			s.gs.text.scale = args[0].Float64() / 100
		}
	case "TL":
		if len(args) == 1 {
			s.gs.text.leading = args[0].Float64()
		}
	case "Ts":
		if len(args) == 1 {
			s.gs.text.rise = args[0].Float64()
		}
	case "Td":
		if len(args) == 2 {
			s.moveLine(args[0].Float64(), args[1].Float64())
		}
	case "TD":
		if len(args) == 2 {
			s.gs.text.leading = -args[1].Float64()
			s.moveLine(args[0].Float64(), args[1].Float64())
		}
	case "Tm":
		if len(args) == 6 {
			s.tm = matrixFrom(args)
			s.tlm = s.tm
		}
	case "T*":
		s.moveLine(0, -s.gs.text.leading)

	// text showing
	case "Tj":
		if len(args) == 1 {
			s.show(args[0].RawString())
		}
	case "'":
		if len(args) == 1 {
			s.moveLine(0, -s.gs.text.leading)
			s.show(args[0].RawString())
		}
	case "\"":
		if len(args) == 3 {
			s.gs.text.wordSpace = args[0].Float64()
			s.gs.text.charSpace = args[1].Float64()
			s.moveLine(0, -s.gs.text.leading)
			s.show(args[2].RawString())
		}
	case "TJ":
		if len(args) == 1 {
			arr := args[0]
			for i := 0; i < arr.Len(); i++ {
				v := arr.Index(i)
				if v.Kind() == pdf.String {
					s.show(v.RawString())
					continue
				}
				tx := -v.Float64() / 1000 * s.gs.text.size * s.gs.text.scale
				s.tm = translate(tx, 0).mul(s.tm)
			}
		}
	}
}

func (s *scanner) toPage(x, y float64) point {
	px, py := s.gs.ctm.apply(x, y)
	return point{px, py}
}

func (s *scanner) moveLine(tx, ty float64) {
	s.tlm = translate(tx, ty).mul(s.tlm)
	s.tm = s.tlm
}

func (s *scanner) paint(stroke bool) {
	if stroke {
		s.out.lines = append(s.out.lines, s.pathLines...)
	}
	for _, b := range s.pathRects {
		s.out.rects = append(s.out.rects, paintedRect{box: b, stroked: stroke})
	}
	s.clearPath()
}

func (s *scanner) clearPath() {
	s.pathLines = s.pathLines[:0]
	s.pathRects = s.pathRects[:0]
}

func (s *scanner) doXObject(name string) {
	xobj := s.res.Key("XObject").Key(name)
	switch xobj.Key("Subtype").Name() {
	case "Image":
		s.out.images = append(s.out.images, s.gs.ctm)
	case "Form":
		if s.depth >= maxFormDepth || xobj.Kind() != pdf.Stream {
			return
		}
		saved, savedRes := s.gs, s.res
		if m := xobj.Key("Matrix"); m.Len() == 6 {
			var fm matrix
			for i := 0; i < 6; i++ {
				fm[i] = m.Index(i).Float64()
			}
			s.gs.ctm = fm.mul(s.gs.ctm)
		}
		if r := xobj.Key("Resources"); !r.IsNull() {
			s.res = r
		}
		s.depth++
		s.run(xobj)
		s.depth--
		s.gs, s.res = saved, savedRes
	}
}

// show renders a string operand, emitting one glyph per decoded rune and
// advancing the text matrix.
func (s *scanner) show(raw string) {
	ts := &s.gs.text
	if ts.enc == nil {
		ts.enc = ts.font.Encoder()
	}
	decoded := ts.enc.Decode(raw)
	runes := utf8.RuneCountInString(decoded)
	// Map decoded runes back onto character codes: one byte per rune for
	// simple fonts, two for Identity-H style encodings.
	codeLen := 0
	switch {
	case runes == len(raw):
		codeLen = 1
	case runes*2 == len(raw):
		codeLen = 2
	}

	i := 0
	for _, r := range decoded {
		w0 := 0.0
		isSpace := false
		if codeLen == 1 {
			code := int(raw[i])
			w0 = ts.font.Width(code)
			isSpace = code == ' '
		}
		if w0 == 0 {
			w0 = fallbackGlyphWidth
		}
		i++

		trm := matrix{ts.size * ts.scale, 0, 0, ts.size, 0, ts.rise}.mul(s.tm).mul(s.gs.ctm)
		hScale := math.Hypot(trm[0], trm[1])
		vScale := math.Hypot(trm[2], trm[3])
		s.out.glyphs = append(s.out.glyphs, glyph{
			X:    trm[4],
			Y:    trm[5],
			W:    w0 / 1000 * hScale,
			Size: vScale,
			S:    string(r),
		})

		tx := w0/1000*ts.size + ts.charSpace
		if isSpace {
			tx += ts.wordSpace
		}
		tx *= ts.scale
		s.tm = translate(tx, 0).mul(s.tm)
	}
}

// inherited looks key up on v and then on its Parent chain.
func inherited(v pdf.Value, key string) pdf.Value {
	for depth := 0; !v.IsNull() && depth < 32; depth++ {
		if r := v.Key(key); !r.IsNull() {
			return r
		}
		v = v.Key("Parent")
	}
	return pdf.Value{}
}
