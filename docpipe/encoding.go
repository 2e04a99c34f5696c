package docpipe

import (
	"bytes"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	utf16 "golang.org/x/text/encoding/unicode"
)

// Decoding thresholds. Tunable heuristics, not protocol.
var (
	// MaxReplacementRatio is the largest share of U+FFFD a candidate
	// decoding may contain and still be accepted.
	MaxReplacementRatio = 0.10

	// MinCyrillicRatio is the smallest share of Cyrillic among letters a
	// Mac-Cyrillic decoding must have when it contains any Cyrillic.
	MinCyrillicRatio = 0.70
)

type candidate struct {
	name string
	enc  encoding.Encoding // nil = UTF-8 strict
}

// candidates are tried in order. Single-byte code pages never fail to
// decode, so the order decides ambiguous input.
var candidates = []candidate{
	{"utf-8", nil},
	{"mac-cyrillic", charmap.MacintoshCyrillic},
	{"cp1251", charmap.Windows1251},
	{"koi8-r", charmap.KOI8R},
	{"cp866", charmap.CodePage866},
	{"iso-8859-5", charmap.ISO8859_5},
	{"utf-16", utf16.UTF16(utf16.LittleEndian, utf16.ExpectBOM)},
	{"utf-16le", utf16.UTF16(utf16.LittleEndian, utf16.IgnoreBOM)},
	{"utf-16be", utf16.UTF16(utf16.BigEndian, utf16.IgnoreBOM)},
	{"latin-1", charmap.ISO8859_1},
}

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// decodeText decodes bytes of unknown encoding. It never fails: the last
// resort is UTF-8 with replacement characters.
func decodeText(data []byte) string {
	text, _ := detectAndDecode(data)
	return text
}

// detectAndDecode returns the decoded text and the name of the encoding used.
func detectAndDecode(data []byte) (string, string) {
	switch {
	case bytes.HasPrefix(data, bomUTF8):
		return strings.ToValidUTF8(string(data[3:]), "�"), "utf-8"
	case bytes.HasPrefix(data, bomUTF16LE):
		if s, ok := decodeWith(utf16.UTF16(utf16.LittleEndian, utf16.UseBOM), data); ok {
			return s, "utf-16"
		}
	case bytes.HasPrefix(data, bomUTF16BE):
		if s, ok := decodeWith(utf16.UTF16(utf16.BigEndian, utf16.UseBOM), data); ok {
			return s, "utf-16"
		}
	}

	for _, c := range candidates {
		var (
			s  string
			ok bool
		)
		if c.enc == nil {
			ok = utf8.Valid(data)
			s = string(data)
		} else {
			s, ok = decodeWith(c.enc, data)
		}
		if !ok || !acceptable(s) {
			continue
		}
		if c.name == "mac-cyrillic" && !plausibleMacCyrillic(s) {
			continue
		}
		return s, c.name
	}
	return strings.ToValidUTF8(string(data), "�"), "utf-8-replace"
}

func decodeWith(enc encoding.Encoding, data []byte) (string, bool) {
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", false
	}
	return string(out), true
}

// acceptable reports whether the share of replacement characters is within
// MaxReplacementRatio.
func acceptable(s string) bool {
	if !strings.ContainsRune(s, utf8.RuneError) {
		return true
	}
	total := utf8.RuneCountInString(s)
	bad := strings.Count(s, "�")
	return float64(bad)/float64(total) <= MaxReplacementRatio
}

// suspiciousLead are first characters that betray a wrong Mac-Cyrillic guess.
const suspiciousLead = "\"'`«»“”"

// plausibleMacCyrillic guards the Mac-Cyrillic candidate: it shares the
// lower-case letter block with cp1251 and would otherwise win on cp1251 text.
func plausibleMacCyrillic(s string) bool {
	if s == "" {
		return true
	}
	first, _ := utf8.DecodeRuneInString(s)
	if utf8.RuneCountInString(s) > 1 && strings.ContainsRune(suspiciousLead, first) {
		return false
	}
	var cyr, lat int
	for _, r := range s {
		switch {
		case r >= 0x0400 && r <= 0x04FF:
			cyr++
		case r < unicode.MaxASCII && unicode.IsLetter(r):
			lat++
		}
	}
	if cyr == 0 {
		return true
	}
	return float64(cyr)/float64(cyr+lat) >= MinCyrillicRatio
}
