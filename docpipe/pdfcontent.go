// CLAUDE:SUMMARY PDF content-stream lexer: text operators for the stream fallback, q/Q/cm/Do tracking for image placement.
package docpipe

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// maxOperands bounds the operand stack; real operators take at most six.
const maxOperands = 64

type operandKind int

const (
	operandOther operandKind = iota
	operandNumber
	operandName
	operandString
	operandArray
)

type operand struct {
	kind operandKind
	num  float64
	str  string // decoded string bytes or name without the slash
	arr  []operand
}

// contentLexer splits a content stream into operators and their operands.
type contentLexer struct {
	data []byte
	pos  int
}

// each calls fn for every operator in order until fn returns false.
func (l *contentLexer) each(fn func(op string, args []operand) bool) {
	var args []operand
	for {
		l.skipSpace()
		if l.pos >= len(l.data) {
			return
		}
		if v, ok := l.operand(); ok {
			if len(args) == maxOperands {
				args = args[:0]
			}
			args = append(args, v)
			continue
		}
		word := l.regular()
		if word == "" {
			// A stray delimiter such as ')' or '>'.
			l.pos++
			continue
		}
		if word == "BI" {
			l.skipInlineImage()
			args = args[:0]
			continue
		}
		if !fn(word, args) {
			return
		}
		args = args[:0]
	}
}

func isPDFSpace(c byte) bool {
	switch c {
	case 0, '\t', '\n', '\f', '\r', ' ':
		return true
	}
	return false
}

func isPDFDelim(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func (l *contentLexer) skipSpace() {
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		switch {
		case isPDFSpace(c):
			l.pos++
		case c == '%':
			for l.pos < len(l.data) && l.data[l.pos] != '\n' && l.data[l.pos] != '\r' {
				l.pos++
			}
		default:
			return
		}
	}
}

// regular reads a run of regular characters.
func (l *contentLexer) regular() string {
	start := l.pos
	for l.pos < len(l.data) && !isPDFSpace(l.data[l.pos]) && !isPDFDelim(l.data[l.pos]) {
		l.pos++
	}
	return string(l.data[start:l.pos])
}

// operand reads one operand at the current position. It reports false and
// consumes nothing when the next token is an operator.
func (l *contentLexer) operand() (operand, bool) {
	c := l.data[l.pos]
	switch {
	case c == '(':
		l.pos++
		return operand{kind: operandString, str: l.literal()}, true
	case c == '<' && l.pos+1 < len(l.data) && l.data[l.pos+1] == '<':
		l.skipDict()
		return operand{}, true
	case c == '<':
		l.pos++
		return operand{kind: operandString, str: l.hex()}, true
	case c == '[':
		l.pos++
		var arr []operand
		for {
			l.skipSpace()
			if l.pos >= len(l.data) {
				return operand{kind: operandArray, arr: arr}, true
			}
			if l.data[l.pos] == ']' {
				l.pos++
				return operand{kind: operandArray, arr: arr}, true
			}
			v, ok := l.operand()
			if !ok {
				// Keywords inside arrays are not operators.
				if l.regular() == "" {
					l.pos++
				}
				continue
			}
			if len(arr) < maxOperands*16 {
				arr = append(arr, v)
			}
		}
	case c == '/':
		l.pos++
		return operand{kind: operandName, str: l.regular()}, true
	case c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9'):
		start := l.pos
		w := l.regular()
		if n, err := strconv.ParseFloat(w, 64); err == nil {
			return operand{kind: operandNumber, num: n}, true
		}
		l.pos = start
		return operand{}, false
	}
	start := l.pos
	switch w := l.regular(); w {
	case "true", "false", "null":
		return operand{}, true
	default:
		l.pos = start
		return operand{}, false
	}
}

// literal reads a (string) body after the opening parenthesis.
func (l *contentLexer) literal() string {
	var sb strings.Builder
	depth := 1
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		l.pos++
		switch c {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return sb.String()
			}
		case '\\':
			if l.pos >= len(l.data) {
				return sb.String()
			}
			e := l.data[l.pos]
			l.pos++
			switch e {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case 'b', 'f':
			case '\r':
				if l.pos < len(l.data) && l.data[l.pos] == '\n' {
					l.pos++
				}
			case '\n':
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for i := 0; i < 2 && l.pos < len(l.data) && l.data[l.pos] >= '0' && l.data[l.pos] <= '7'; i++ {
						v = v*8 + int(l.data[l.pos]-'0')
						l.pos++
					}
					sb.WriteByte(byte(v))
					continue
				}
				sb.WriteByte(e)
			}
			continue
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

// hex reads a <hex string> body after the opening bracket.
func (l *contentLexer) hex() string {
	var out []byte
	var hi byte
	half := false
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		l.pos++
		if c == '>' {
			break
		}
		v, ok := hexNibble(c)
		if !ok {
			continue
		}
		if half {
			out = append(out, hi<<4|v)
		} else {
			hi = v
		}
		half = !half
	}
	if half {
		out = append(out, hi<<4)
	}
	return string(out)
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

func (l *contentLexer) skipDict() {
	depth := 0
	for l.pos+1 < len(l.data) {
		switch {
		case l.data[l.pos] == '<' && l.data[l.pos+1] == '<':
			depth++
			l.pos += 2
		case l.data[l.pos] == '>' && l.data[l.pos+1] == '>':
			depth--
			l.pos += 2
			if depth == 0 {
				return
			}
		case l.data[l.pos] == '(':
			l.pos++
			l.literal()
		default:
			l.pos++
		}
	}
	l.pos = len(l.data)
}

// skipInlineImage moves past "... ID <binary> EI" following BI.
func (l *contentLexer) skipInlineImage() {
	for {
		l.skipSpace()
		if l.pos >= len(l.data) {
			return
		}
		if _, ok := l.operand(); ok {
			continue
		}
		w := l.regular()
		if w == "ID" {
			break
		}
		if w == "" {
			l.pos++
		}
	}
	for l.pos+2 < len(l.data) {
		if isPDFSpace(l.data[l.pos]) && l.data[l.pos+1] == 'E' && l.data[l.pos+2] == 'I' &&
			(l.pos+3 == len(l.data) || isPDFSpace(l.data[l.pos+3])) {
			l.pos += 3
			return
		}
		l.pos++
	}
	l.pos = len(l.data)
}

// readPageContent returns the content stream of a page, refusing streams
// larger than limit.
func readPageContent(mctx *model.Context, pageNr int, limit int64) ([]byte, error) {
	r, err := pdfcpu.ExtractPageContent(mctx, pageNr)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: page %d content stream", ErrTooLarge, pageNr)
	}
	return data, nil
}

// tjSpace is the TJ adjustment, in thousandths of an em, read as a word gap.
const tjSpace = -250

// streamText renders the text-showing operators of a content stream as
// lines. Line moves and text blocks break lines; horizontal moves and large
// TJ gaps become spaces.
func streamText(data []byte) string {
	var lines []string
	var cur strings.Builder
	brk := func() {
		if s := strings.Join(strings.Fields(cur.String()), " "); s != "" {
			lines = append(lines, s)
		}
		cur.Reset()
	}
	space := func() {
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
	}
	lex := &contentLexer{data: data}
	lex.each(func(op string, args []operand) bool {
		switch op {
		case "Tj":
			if s, ok := lastString(args); ok {
				cur.WriteString(s)
			}
		case "'", "\"":
			brk()
			if s, ok := lastString(args); ok {
				cur.WriteString(s)
			}
		case "TJ":
			if len(args) == 0 || args[len(args)-1].kind != operandArray {
				break
			}
			for _, el := range args[len(args)-1].arr {
				switch el.kind {
				case operandString:
					cur.WriteString(el.str)
				case operandNumber:
					if el.num <= tjSpace {
						space()
					}
				}
			}
		case "Td", "TD":
			if len(args) >= 2 && args[len(args)-1].num != 0 {
				brk()
			} else {
				space()
			}
		case "T*", "Tm", "ET":
			brk()
		}
		return true
	})
	brk()
	return strings.Join(lines, "\n")
}

func lastString(args []operand) (string, bool) {
	if len(args) == 0 || args[len(args)-1].kind != operandString {
		return "", false
	}
	return args[len(args)-1].str, true
}

// matrix is a PDF transformation [a b c d e f].
type matrix [6]float64

var identity = matrix{1, 0, 0, 1, 0, 0}

// then returns the transformation m followed by n.
func (m matrix) then(n matrix) matrix {
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
	return m[0]*x + m[2]*y + m[4], m[1]*x + m[3]*y + m[5]
}

// pdfRect is an axis-aligned box in default user space.
type pdfRect struct {
	X0, Y0, X1, Y1 float64
}

// unitSquare returns the bounding box of the unit square under m, which is
// where an image XObject lands when drawn with m as the CTM.
func (m matrix) unitSquare() pdfRect {
	r := pdfRect{X0: math.Inf(1), Y0: math.Inf(1), X1: math.Inf(-1), Y1: math.Inf(-1)}
	for _, c := range [4][2]float64{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
		x, y := m.apply(c[0], c[1])
		r.X0, r.X1 = min(r.X0, x), max(r.X1, x)
		r.Y0, r.Y1 = min(r.Y0, y), max(r.Y1, y)
	}
	return r
}

// placement is one XObject drawn by the page, in drawing order.
type placement struct {
	Name string
	Rect pdfRect
}

// maxGraphicsDepth bounds the q/Q stack.
const maxGraphicsDepth = 256

// xobjectPlacements returns the first placement of every XObject the stream
// draws with Do, in drawing order.
func xobjectPlacements(data []byte) []placement {
	var (
		out   []placement
		seen  = map[string]bool{}
		ctm   = identity
		stack []matrix
	)
	lex := &contentLexer{data: data}
	lex.each(func(op string, args []operand) bool {
		switch op {
		case "q":
			if len(stack) < maxGraphicsDepth {
				stack = append(stack, ctm)
			}
		case "Q":
			if n := len(stack); n > 0 {
				ctm, stack = stack[n-1], stack[:n-1]
			}
		case "cm":
			if len(args) < 6 {
				break
			}
			var m matrix
			for i, a := range args[len(args)-6:] {
				if a.kind != operandNumber {
					return true
				}
				m[i] = a.num
			}
			ctm = m.then(ctm)
		case "Do":
			if len(args) == 0 || args[len(args)-1].kind != operandName {
				break
			}
			name := args[len(args)-1].str
			if !seen[name] {
				seen[name] = true
				out = append(out, placement{Name: name, Rect: ctm.unitSquare()})
			}
		}
		return true
	})
	return out
}
