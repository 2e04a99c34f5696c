// CLAUDE:SUMMARY Per-page PDF text scoring: sparse pages of scanned documents and garbled glyph runs are sent to page-render OCR.
package docpipe

import (
	"strings"
	"unicode"
)

const (
	// minPageChars is the text length below which a page of a document
	// carrying images is treated as scanned.
	minPageChars = 50
	// minPrintable is the printable share under which page text is noise.
	minPrintable = 0.85
	// minWordlike is the share of 2–15 rune tokens expected from real prose.
	minWordlike = 0.4
	// wordlikeSample is the token count from which minWordlike is enforced.
	wordlikeSample = 10
)

// pageQuality describes the text recovered from one PDF page.
type pageQuality struct {
	Chars     int
	Tokens    int
	Printable float64
	Wordlike  float64
}

func scorePage(text string) pageQuality {
	q := pageQuality{Printable: 1}
	printable := 0
	for _, r := range text {
		q.Chars++
		if !isGlyphNoise(r) && (unicode.IsPrint(r) || unicode.IsSpace(r)) {
			printable++
		}
	}
	if q.Chars > 0 {
		q.Printable = float64(printable) / float64(q.Chars)
	}

	fields := strings.Fields(text)
	q.Tokens = len(fields)
	if q.Tokens > 0 {
		words := 0
		for _, f := range fields {
			if n := len([]rune(f)); n >= 2 && n <= 15 {
				words++
			}
		}
		q.Wordlike = float64(words) / float64(q.Tokens)
	}
	return q
}

// garbled reports text produced by fonts without a usable ToUnicode map:
// private-use glyphs, control bytes, or one character per token.
func (q pageQuality) garbled() bool {
	if q.Chars == 0 {
		return false
	}
	if q.Printable < minPrintable {
		return true
	}
	return q.Tokens >= wordlikeSample && q.Wordlike < minWordlike
}

// needsOCR reports whether the page should be rasterized and OCRed.
// hasImages is true when the document embeds image streams.
func (q pageQuality) needsOCR(hasImages bool) bool {
	return q.garbled() || (hasImages && q.Chars < minPageChars)
}

func isGlyphNoise(r rune) bool {
	switch {
	case r >= 0xE000 && r <= 0xF8FF: // private use area
		return true
	case r == unicode.ReplacementChar:
		return true
	case r < 0x20 && r != '\n' && r != '\r' && r != '\t':
		return true
	}
	return false
}
