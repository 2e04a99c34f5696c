// CLAUDE:SUMMARY Extracts slide text and speaker notes from .pptx in presentation order.
package docpipe

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// notesPlaceholders are the stock titles of an empty notes page.
var notesPlaceholders = map[string]bool{"Notes": true, "Заметки": true}

// extractPPTX returns one block per slide with content: "[Slide N]", the
// text of each shape, then "[Speaker notes]" when the slide has notes.
func (p *Pipeline) extractPPTX(data []byte) (string, error) {
	zr, err := openZip(data)
	if err != nil {
		return "", err
	}
	limit := p.cfg.MaxExtractedSize
	slides, err := pptxSlideOrder(zr, limit)
	if err != nil {
		return "", err
	}

	var blocks []string
	for i, slide := range slides {
		lines := []string{fmt.Sprintf("[Slide %d]", i+1)}

		body, err := readZipMember(zr, slide, limit)
		if err != nil {
			return "", err
		}
		shapes, err := pptxShapeTexts(body)
		if err != nil {
			return "", fmt.Errorf("%s: %w", slide, err)
		}
		lines = append(lines, shapes...)

		if notes := pptxNotes(zr, slide, limit); notes != "" {
			lines = append(lines, "[Speaker notes]\n"+notes)
		}
		if len(lines) > 1 {
			blocks = append(blocks, strings.Join(lines, "\n"))
		}
	}
	return strings.Join(blocks, "\n\n"), nil
}

// pptxSlideOrder lists slide parts in the order of presentation.xml's
// sldIdLst.
func pptxSlideOrder(zr *zip.Reader, limit int64) ([]string, error) {
	pres, err := readZipMember(zr, "ppt/presentation.xml", limit)
	if err != nil {
		return nil, err
	}
	rels := zipRels(zr, "ppt/_rels/presentation.xml.rels", "ppt", limit)

	var slides []string
	s := newXMLStream(pres)
	for {
		tok, err := s.Token()
		if errors.Is(err, io.EOF) {
			return slides, nil
		}
		if err != nil {
			return nil, err
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "sldId" {
			continue
		}
		if r, ok := rels[relID(se)]; ok && r.target != "" {
			slides = append(slides, r.target)
		}
	}
}

// pptxNotes returns the speaker notes of a slide, stripped and joined by
// spaces, without the stock placeholder titles.
func pptxNotes(zr *zip.Reader, slide string, limit int64) string {
	relsName := path.Join(path.Dir(slide), "_rels", path.Base(slide)+".rels")
	var notesPart string
	for _, r := range zipRels(zr, relsName, path.Dir(slide), limit) {
		if r.kind == "notesSlide" {
			notesPart = r.target
			break
		}
	}
	if notesPart == "" {
		return ""
	}
	data, err := readZipMember(zr, notesPart, limit)
	if err != nil {
		return ""
	}
	shapes, err := pptxShapeTexts(data)
	if err != nil {
		return ""
	}
	var kept []string
	for _, t := range shapes {
		t = strings.TrimSpace(t)
		if !notesPlaceholders[t] {
			kept = append(kept, t)
		}
	}
	return strings.Join(kept, " ")
}

// pptxShapeTexts returns the text of every shape with non-blank text, its
// paragraphs joined by newlines. Slide-image and slide-number placeholders
// are skipped.
func pptxShapeTexts(data []byte) ([]string, error) {
	s := newXMLStream(data)
	var (
		out    []string
		paras  []string
		para   strings.Builder
		inSp   bool
		skipSp bool
		inPara bool
		inText bool
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
			case "sp":
				inSp, skipSp = true, false
				paras = nil
			case "ph":
				switch attr(t, "type") {
				case "sldImg", "sldNum":
					skipSp = true
				}
			case "p":
				if inSp {
					inPara = true
					para.Reset()
				}
			case "t":
				inText = inPara
			case "br":
				if inPara {
					para.WriteByte('\n')
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
				if inPara {
					paras = append(paras, para.String())
					inPara = false
				}
			case "sp":
				text := strings.Join(paras, "\n")
				if inSp && !skipSp && strings.TrimSpace(text) != "" {
					out = append(out, text)
				}
				inSp = false
			}
		}
	}
}
