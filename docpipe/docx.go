// CLAUDE:SUMMARY Extracts text from .docx: body paragraphs, tables, section headers/footers, footnotes, comments.
package docpipe

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// extractDocx reads word/document.xml and the parts it references. Output
// blocks, joined by blank lines, come in a fixed order: paragraphs, tables,
// per-section header and footer, footnotes, comments.
func (p *Pipeline) extractDocx(data []byte) (string, error) {
	zr, err := openZip(data)
	if err != nil {
		return "", err
	}
	limit := p.cfg.MaxExtractedSize
	docXML, err := readZipMember(zr, "word/document.xml", limit)
	if err != nil {
		return "", err
	}
	body, err := parseDocxBody(docXML)
	if err != nil {
		return "", err
	}

	parts := append([]string(nil), body.paragraphs...)
	parts = append(parts, body.tables...)

	rels := zipRels(zr, "word/_rels/document.xml.rels", "word", limit)
	for _, sec := range body.sections {
		if t := docxPartText(zr, rels[sec.header].target, limit); t != "" {
			parts = append(parts, "[Header]\n"+t)
		}
		if t := docxPartText(zr, rels[sec.footer].target, limit); t != "" {
			parts = append(parts, "[Footer]\n"+t)
		}
	}
	if t := docxPartText(zr, "word/footnotes.xml", limit); t != "" {
		parts = append(parts, "[Footnotes]\n"+t)
	}
	if t := docxPartText(zr, "word/comments.xml", limit); t != "" {
		parts = append(parts, "[Comments]\n"+t)
	}
	return strings.Join(parts, "\n\n"), nil
}

type docxSection struct {
	header string // relationship ids of the default header/footer
	footer string
}

type docxBodyText struct {
	paragraphs []string
	tables     []string
	sections   []docxSection
}

// docxTable accumulates one table; nested tables are folded into the
// enclosing cell.
type docxTable struct {
	rows [][]string
	row  []string
	cell []string
}

func (t *docxTable) render() string {
	lines := make([]string, 0, len(t.rows))
	for _, r := range t.rows {
		lines = append(lines, strings.Join(r, "\t"))
	}
	return strings.Join(lines, "\n")
}

func parseDocxBody(data []byte) (*docxBodyText, error) {
	s := newXMLStream(data)
	out := &docxBodyText{}
	var (
		tables []*docxTable
		para   strings.Builder
		inPara bool
		inText bool
	)

	for {
		tok, err := s.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				inPara = true
				para.Reset()
			case "t":
				inText = inPara
			case "tab":
				if inPara {
					para.WriteByte('\t')
				}
			case "br", "cr":
				if inPara {
					para.WriteByte('\n')
				}
			case "tbl":
				tables = append(tables, &docxTable{})
			case "tr":
				if n := len(tables); n > 0 {
					tables[n-1].row = nil
				}
			case "tc":
				if n := len(tables); n > 0 {
					tables[n-1].cell = nil
				}
			case "sectPr":
				out.sections = append(out.sections, docxSection{})
			case "headerReference", "footerReference":
				if len(out.sections) == 0 || attr(t, "type") != "default" {
					continue
				}
				sec := &out.sections[len(out.sections)-1]
				if t.Name.Local == "headerReference" {
					sec.header = relID(t)
				} else {
					sec.footer = relID(t)
				}
			}

		case xml.CharData:
			if inText {
				para.Write(t)
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if !inPara {
					continue
				}
				inPara = false
				text := para.String()
				if n := len(tables); n > 0 {
					tables[n-1].cell = append(tables[n-1].cell, text)
				} else if strings.TrimSpace(text) != "" {
					out.paragraphs = append(out.paragraphs, text)
				}
			case "tc":
				if n := len(tables); n > 0 {
					tb := tables[n-1]
					tb.row = append(tb.row, strings.TrimSpace(strings.Join(tb.cell, "\n")))
				}
			case "tr":
				if n := len(tables); n > 0 {
					tb := tables[n-1]
					tb.rows = append(tb.rows, tb.row)
				}
			case "tbl":
				n := len(tables)
				if n == 0 {
					continue
				}
				tb := tables[n-1]
				tables = tables[:n-1]
				if len(tb.rows) == 0 {
					continue
				}
				if n > 1 {
					parent := tables[n-2]
					parent.cell = append(parent.cell, tb.render())
				} else {
					out.tables = append(out.tables, tb.render())
				}
			}
		}
	}
	return out, nil
}

// docxPartText returns the non-empty paragraphs of a header, footer,
// footnotes or comments part joined by spaces. Missing or unreadable parts
// yield "".
func docxPartText(zr *zip.Reader, name string, limit int64) string {
	if name == "" {
		return ""
	}
	f := zipFile(zr, name)
	if f == nil {
		return ""
	}
	data, err := readZipFile(f, limit)
	if err != nil {
		return ""
	}
	paras, err := docxParagraphs(data)
	if err != nil {
		return ""
	}
	return strings.Join(paras, " ")
}

func docxParagraphs(data []byte) ([]string, error) {
	s := newXMLStream(data)
	var (
		out    []string
		para   strings.Builder
		inPara bool
		inText bool
	)
	for {
		tok, err := s.Token()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("docx part: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				inPara = true
				para.Reset()
			case "t":
				inText = inPara
			case "tab":
				if inPara {
					para.WriteByte('\t')
				}
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				inPara = false
				if text := para.String(); strings.TrimSpace(text) != "" {
					out = append(out, text)
				}
			}
		}
	}
}
