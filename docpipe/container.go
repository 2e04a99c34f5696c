// CLAUDE:SUMMARY Shared helpers for ZIP-based containers (OOXML, ODF, EPUB) and a depth-guarded XML token stream.
package docpipe

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"golang.org/x/net/html/charset"
)

// maxXMLDepth bounds element nesting in every XML part we parse.
const maxXMLDepth = 256

var errXMLDepth = errors.New("docpipe: xml nesting depth exceeded")

func openZip(data []byte) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	return zr, nil
}

// zipFile returns the member called name, or nil.
func zipFile(zr *zip.Reader, name string) *zip.File {
	name = strings.TrimPrefix(name, "/")
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// readZipFile reads a member, refusing more than limit decompressed bytes
// whatever the header declares.
func readZipFile(f *zip.File, limit int64) ([]byte, error) {
	if limit > 0 && f.UncompressedSize64 > uint64(limit) {
		return nil, fmt.Errorf("%w: %s declares %d bytes", ErrTooLarge, f.Name, f.UncompressedSize64)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	r := io.Reader(rc)
	if limit > 0 {
		r = io.LimitReader(rc, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s", ErrTooLarge, f.Name)
	}
	return data, nil
}

// readZipMember is zipFile + readZipFile; a missing member is an error.
func readZipMember(zr *zip.Reader, name string, limit int64) ([]byte, error) {
	f := zipFile(zr, name)
	if f == nil {
		return nil, fmt.Errorf("%s not found in archive", name)
	}
	return readZipFile(f, limit)
}

// xmlStream is an xml.Decoder that fails once nesting exceeds maxXMLDepth.
// Only the predefined entities are expanded by encoding/xml, so entity
// expansion bombs do not apply.
type xmlStream struct {
	dec   *xml.Decoder
	depth int
}

func newXMLStream(data []byte) *xmlStream {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charset.NewReaderLabel
	return &xmlStream{dec: dec}
}

// Token returns the next token; io.EOF at the end of input.
func (s *xmlStream) Token() (xml.Token, error) {
	tok, err := s.dec.Token()
	if err != nil {
		return nil, err
	}
	switch tok.(type) {
	case xml.StartElement:
		s.depth++
		if s.depth > maxXMLDepth {
			return nil, fmt.Errorf("%w (max %d)", errXMLDepth, maxXMLDepth)
		}
	case xml.EndElement:
		s.depth--
	}
	return tok, nil
}

// Depth is the number of currently open elements.
func (s *xmlStream) Depth() int { return s.depth }

// relID returns the r:id attribute, which shares its local name with
// plain id attributes.
func relID(se xml.StartElement) string {
	for _, a := range se.Attr {
		if a.Name.Local == "id" && a.Name.Space != "" {
			return a.Value
		}
	}
	return ""
}

func attr(se xml.StartElement, local string) string {
	for _, a := range se.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// rel is one package relationship.
type rel struct {
	target string // member name inside the zip
	kind   string // last segment of the relationship Type URI
}

// zipRels reads an OPC relationships part. Relative targets are resolved
// against baseDir. Missing or unreadable parts yield an empty map.
func zipRels(zr *zip.Reader, name, baseDir string, limit int64) map[string]rel {
	rels := map[string]rel{}
	data, err := readZipMember(zr, name, limit)
	if err != nil {
		return rels
	}
	s := newXMLStream(data)
	for {
		tok, err := s.Token()
		if err != nil {
			return rels
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "Relationship" || attr(se, "TargetMode") == "External" {
			continue
		}
		target := attr(se, "Target")
		if strings.HasPrefix(target, "/") {
			target = strings.TrimPrefix(target, "/")
		} else {
			target = path.Join(baseDir, target)
		}
		kind := attr(se, "Type")
		if i := strings.LastIndexByte(kind, '/'); i >= 0 {
			kind = kind[i+1:]
		}
		rels[attr(se, "Id")] = rel{target: target, kind: kind}
	}
}
