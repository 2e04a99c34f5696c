// CLAUDE:SUMMARY Outlook .msg extractor: MAPI property streams via mscfb, with a lossy string-scan fallback.
package docpipe

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf16"

	"github.com/richardlehane/mscfb"
)

// MAPI property streams of the top-level message (PT_UNICODE).
var msgProps = []struct {
	stream string
	label  string
}{
	{"__substg1.0_0C1A001F", "From"},
	{"__substg1.0_0E04001F", "To"},
	{"__substg1.0_0037001F", "Subject"},
	{"__substg1.0_1000001F", ""}, // body
}

// extractMSG reads the sender, recipients, subject and body properties.
// When the compound file cannot be read or carries none of them, it falls
// back to scanning the raw bytes for readable strings.
func extractMSG(data []byte) (string, error) {
	props, err := msgProperties(data)
	if err == nil {
		var lines []string
		var body string
		for _, p := range msgProps {
			v := strings.TrimSpace(props[p.stream])
			if v == "" {
				continue
			}
			if p.label == "" {
				body = v
				continue
			}
			lines = append(lines, p.label+": "+v)
		}
		if len(lines) > 0 || body != "" {
			lines = append(lines, "---")
			if body != "" {
				lines = append(lines, body)
			}
			return strings.Join(lines, "\n"), nil
		}
	}
	return scanMSGStrings(data), nil
}

// msgProperties returns the wanted property streams decoded from UTF-16LE.
// Streams of recipients and attachments are ignored.
func msgProperties(data []byte) (props map[string]string, err error) {
	defer func() {
		if r := recover(); r != nil {
			props, err = nil, fmt.Errorf("msg reader panic: %v", r)
		}
	}()
	doc, err := mscfb.New(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open msg: %w", err)
	}
	want := map[string]bool{}
	for _, p := range msgProps {
		want[p.stream] = true
	}
	props = map[string]string{}
	for {
		entry, err := doc.Next()
		if err != nil {
			break
		}
		if !want[entry.Name] || len(entry.Path) > 0 {
			continue
		}
		raw, err := io.ReadAll(entry)
		if err != nil {
			continue
		}
		props[entry.Name] = decodeUTF16LE(raw)
	}
	return props, nil
}

func decodeUTF16LE(b []byte) string {
	u := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		u = append(u, uint16(b[i])|uint16(b[i+1])<<8)
	}
	return strings.TrimRight(string(utf16.Decode(u)), "\x00")
}

// scanMSGStrings is the lossy fallback: UTF-16LE lines, cleaned of control
// characters and deduplicated, then ASCII lines not already present.
func scanMSGStrings(data []byte) string {
	var out []string
	seen := map[string]bool{}

	for _, line := range strings.Split(decodeUTF16LE(data), "\n") {
		line = strings.TrimSpace(strings.Map(func(r rune) rune {
			if r < 32 && r != '\t' && r != '\n' && r != '\r' {
				return -1
			}
			if r == unicode.ReplacementChar {
				return -1
			}
			return r
		}, line))
		if len([]rune(line)) <= 5 || strings.HasPrefix(line, "_") || !hasLetter(line) || seen[line] {
			continue
		}
		seen[line] = true
		out = append(out, line)
	}

	for _, line := range strings.Split(asciiOnly(data), "\n") {
		line = strings.TrimSpace(line)
		if len(line) <= 10 || !hasLetter(line) || seen[line] {
			continue
		}
		seen[line] = true
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// asciiOnly drops every byte outside 7-bit ASCII.
func asciiOnly(data []byte) string {
	b := make([]byte, 0, len(data))
	for _, c := range data {
		if c < 0x80 {
			b = append(b, c)
		}
	}
	return string(b)
}

func hasLetter(s string) bool {
	return strings.IndexFunc(s, unicode.IsLetter) >= 0
}
