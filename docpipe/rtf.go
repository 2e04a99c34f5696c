// CLAUDE:SUMMARY RTF control-word stripper with \ansicpg code page decoding of \'hh escapes and \uN runes.
package docpipe

import (
	"bytes"
	"errors"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

const maxRTFGroupDepth = 10000

var errNotRTF = errors.New("docpipe: not an rtf document")

// rtfDestinations are groups whose content is not document text.
var rtfDestinations = map[string]bool{
	"fonttbl": true, "colortbl": true, "stylesheet": true, "info": true,
	"pict": true, "object": true, "objdata": true, "datastore": true,
	"themedata": true, "colorschememapping": true, "latentstyles": true,
	"listtable": true, "listoverridetable": true, "rsidtbl": true,
	"generator": true, "xmlnstbl": true, "mmathPr": true, "filetbl": true,
	"revtbl": true, "header": true, "footer": true, "headerl": true,
	"headerr": true, "headerf": true, "footerl": true, "footerr": true,
	"footerf": true, "fldinst": true, "bkmkstart": true, "bkmkend": true,
}

// rtfSymbols are control words that stand for text.
var rtfSymbols = map[string]string{
	"par": "\n", "line": "\n", "sect": "\n\n", "page": "\n\n", "row": "\n",
	"tab": "\t", "cell": "\t",
	"emdash": "—", "endash": "–", "bullet": "•",
	"lquote": "‘", "rquote": "’", "ldblquote": "“", "rdblquote": "”",
	"emspace": " ", "enspace": " ", "qmspace": " ",
}

func rtfCodepage(n int) encoding.Encoding {
	switch n {
	case 437:
		return charmap.CodePage437
	case 850:
		return charmap.CodePage850
	case 866:
		return charmap.CodePage866
	case 1250:
		return charmap.Windows1250
	case 1251:
		return charmap.Windows1251
	case 1252:
		return charmap.Windows1252
	case 1253:
		return charmap.Windows1253
	case 1254:
		return charmap.Windows1254
	case 1255:
		return charmap.Windows1255
	case 1256:
		return charmap.Windows1256
	case 1257:
		return charmap.Windows1257
	case 1258:
		return charmap.Windows1258
	case 10000:
		return charmap.Macintosh
	case 10007:
		return charmap.MacintoshCyrillic
	case 20866:
		return charmap.KOI8R
	case 28595:
		return charmap.ISO8859_5
	}
	return nil
}

type rtfGroup struct {
	skip bool
	uc   int // bytes to skip after \uN
}

type rtfWriter struct {
	out     strings.Builder
	pending []byte
	enc     encoding.Encoding
}

func (w *rtfWriter) flush() {
	if len(w.pending) == 0 {
		return
	}
	s, err := w.enc.NewDecoder().Bytes(w.pending)
	if err != nil {
		s = bytes.ToValidUTF8(w.pending, []byte("�"))
	}
	w.out.Write(s)
	w.pending = w.pending[:0]
}

func (w *rtfWriter) text(s string) {
	w.flush()
	w.out.WriteString(s)
}

// extractRTF strips control words and groups from an RTF document.
func extractRTF(data []byte) (string, error) {
	trimmed := bytes.TrimLeft(data, "\xef\xbb\xbf \t\r\n")
	if !bytes.HasPrefix(trimmed, []byte(`{\rtf`)) {
		return "", errNotRTF
	}
	data = trimmed

	w := &rtfWriter{enc: charmap.Windows1252}
	cur := rtfGroup{uc: 1}
	var stack []rtfGroup
	skipChars := 0

	for i := 0; i < len(data); {
		c := data[i]
		switch c {
		case '{':
			if len(stack) >= maxRTFGroupDepth {
				return "", errors.New("docpipe: rtf group nesting depth exceeded")
			}
			stack = append(stack, cur)
			i++
			continue
		case '}':
			w.flush()
			if n := len(stack); n > 0 {
				cur = stack[n-1]
				stack = stack[:n-1]
			}
			skipChars = 0
			i++
			continue
		case '\r', '\n':
			i++
			continue
		case '\\':
		default:
			if skipChars > 0 {
				skipChars--
			} else if !cur.skip {
				if c < 0x80 {
					w.flush()
					w.out.WriteByte(c)
				} else {
					w.pending = append(w.pending, c)
				}
			}
			i++
			continue
		}

		// Control sequence.
		if i+1 >= len(data) {
			break
		}
		n := data[i+1]
		switch {
		case isASCIILetter(n):
			j := i + 1
			for j < len(data) && isASCIILetter(data[j]) {
				j++
			}
			word := string(data[i+1 : j])
			k := j
			if k < len(data) && data[k] == '-' {
				k++
			}
			for k < len(data) && data[k] >= '0' && data[k] <= '9' {
				k++
			}
			param, hasParam := 0, k > j
			if hasParam {
				param, _ = strconv.Atoi(string(data[j:k]))
			}
			if k < len(data) && data[k] == ' ' {
				k++
			}
			i = k

			if skipChars > 0 {
				skipChars--
				continue
			}
			switch {
			case word == "ansicpg":
				if enc := rtfCodepage(param); enc != nil {
					w.flush()
					w.enc = enc
				}
			case word == "uc":
				cur.uc = param
			case word == "u":
				if param < 0 {
					param += 65536
				}
				if !cur.skip {
					w.text(string(rune(param)))
				}
				skipChars = cur.uc
			case rtfDestinations[word]:
				cur.skip = true
			default:
				if s, ok := rtfSymbols[word]; ok && !cur.skip {
					w.text(s)
				}
			}

		case n == '\'':
			if i+3 < len(data) {
				if b, err := strconv.ParseUint(string(data[i+2:i+4]), 16, 8); err == nil {
					if skipChars > 0 {
						skipChars--
					} else if !cur.skip {
						w.pending = append(w.pending, byte(b))
					}
				}
			}
			i += 4

		case n == '*':
			cur.skip = true
			i += 2

		default:
			i += 2
			if skipChars > 0 {
				skipChars--
				continue
			}
			if cur.skip {
				continue
			}
			switch n {
			case '\\', '{', '}':
				w.text(string(n))
			case '~':
				w.text(" ")
			case '_':
				w.text("-")
			case '\r', '\n':
				w.text("\n")
			}
		}
	}
	w.flush()
	return w.out.String(), nil
}

func isASCIILetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
