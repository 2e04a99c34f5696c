// CLAUDE:SUMMARY Extracts text from .odt (OpenDocument) files by parsing content.xml from the ZIP archive.
package docpipe

import (
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

// extractODT returns the non-blank headings and paragraphs of content.xml,
// one per line, in document order.
func (p *Pipeline) extractODT(data []byte) (string, error) {
	zr, err := openZip(data)
	if err != nil {
		return "", err
	}
	content, err := readZipMember(zr, "content.xml", p.cfg.MaxExtractedSize)
	if err != nil {
		return "", err
	}
	paras, err := odfParagraphs(content)
	if err != nil {
		return "", err
	}
	return strings.Join(paras, "\n"), nil
}

// odfParagraphs collects text:h and text:p blocks. Nested paragraphs
// (footnote bodies, frames) are flushed as their own blocks.
func odfParagraphs(data []byte) ([]string, error) {
	s := newXMLStream(data)
	var (
		out   []string
		stack []*strings.Builder
	)
	for {
		tok, err := s.Token()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "h", "p":
				stack = append(stack, &strings.Builder{})
			case "s":
				if n := len(stack); n > 0 {
					stack[n-1].WriteString(strings.Repeat(" ", repeatCount(attr(t, "c"))))
				}
			case "tab":
				if n := len(stack); n > 0 {
					stack[n-1].WriteByte('\t')
				}
			case "line-break":
				if n := len(stack); n > 0 {
					stack[n-1].WriteByte('\n')
				}
			}

		case xml.CharData:
			if n := len(stack); n > 0 {
				stack[n-1].Write(t)
			}

		case xml.EndElement:
			if t.Name.Local != "h" && t.Name.Local != "p" {
				continue
			}
			n := len(stack)
			if n == 0 {
				continue
			}
			text := stack[n-1].String()
			stack = stack[:n-1]
			if strings.TrimSpace(text) != "" {
				out = append(out, text)
			}
		}
	}
}
