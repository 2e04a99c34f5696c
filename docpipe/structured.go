// CLAUDE:SUMMARY JSON, XML and YAML extractors: every non-blank string leaf as a "path: value" line.
package docpipe

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// maxTreeDepth bounds JSON and YAML nesting.
const maxTreeDepth = 512

var errTreeDepth = errors.New("docpipe: document nesting depth exceeded")

func childPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

func indexPath(parent string, i int) string {
	return parent + "[" + strconv.Itoa(i) + "]"
}

// extractJSON walks the token stream so object keys keep document order.
func extractJSON(data []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var lines []string
	if err := walkJSON(dec, "", 0, &lines); err != nil {
		return "", fmt.Errorf("parse json: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return "", errors.New("parse json: trailing data after top-level value")
	}
	return strings.Join(lines, "\n"), nil
}

func walkJSON(dec *json.Decoder, path string, depth int, lines *[]string) error {
	if depth > maxTreeDepth {
		return errTreeDepth
	}
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return err
				}
				key, _ := kt.(string)
				if err := walkJSON(dec, childPath(path, key), depth+1, lines); err != nil {
					return err
				}
			}
		case '[':
			for i := 0; dec.More(); i++ {
				if err := walkJSON(dec, indexPath(path, i), depth+1, lines); err != nil {
					return err
				}
			}
		}
		// Closing delimiter.
		if _, err := dec.Token(); err != nil {
			return err
		}
	case string:
		if strings.TrimSpace(v) != "" {
			*lines = append(*lines, path+": "+v)
		}
	}
	return nil
}

// extractYAML walks every document of the stream. Aliases are not
// followed, so anchors cannot be used to amplify output.
func extractYAML(data []byte) (string, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var lines []string
	for {
		var doc yaml.Node
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse yaml: %w", err)
		}
		if err := walkYAML(&doc, "", 0, &lines); err != nil {
			return "", err
		}
	}
	return strings.Join(lines, "\n"), nil
}

func walkYAML(n *yaml.Node, path string, depth int, lines *[]string) error {
	if depth > maxTreeDepth {
		return errTreeDepth
	}
	switch n.Kind {
	case yaml.DocumentNode:
		for _, c := range n.Content {
			if err := walkYAML(c, path, depth+1, lines); err != nil {
				return err
			}
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i].Value
			if err := walkYAML(n.Content[i+1], childPath(path, key), depth+1, lines); err != nil {
				return err
			}
		}
	case yaml.SequenceNode:
		for i, c := range n.Content {
			if err := walkYAML(c, indexPath(path, i), depth+1, lines); err != nil {
				return err
			}
		}
	case yaml.ScalarNode:
		if n.ShortTag() == "!!str" && strings.TrimSpace(n.Value) != "" {
			*lines = append(*lines, path+": "+n.Value)
		}
	}
	return nil
}

// xmlFrame is one open element. Its text line and attribute lines are
// emitted once, before the first child or at the end tag.
type xmlFrame struct {
	path    string
	attrs   []xml.Attr
	text    strings.Builder
	emitted bool
}

func (f *xmlFrame) emit(lines *[]string) {
	if f.emitted {
		return
	}
	f.emitted = true
	if t := strings.TrimSpace(f.text.String()); t != "" {
		*lines = append(*lines, f.path+": "+t)
	}
	for _, a := range f.attrs {
		if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" {
			continue
		}
		if strings.TrimSpace(a.Value) != "" {
			*lines = append(*lines, f.path+"@"+a.Name.Local+": "+a.Value)
		}
	}
}

// extractXML emits, per element in document order, its leading text as
// "path: text" and each attribute as "path@name: value". Paths use local
// names joined by dots, starting at the root tag.
func extractXML(data []byte) (string, error) {
	s := newXMLStream(data)
	var (
		lines  []string
		stack  []*xmlFrame
		rooted bool
	)
	for {
		tok, err := s.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			parent := ""
			if n := len(stack); n > 0 {
				stack[n-1].emit(&lines)
				parent = stack[n-1].path
			} else if rooted {
				return "", errors.New("parse xml: junk after document element")
			}
			rooted = true
			stack = append(stack, &xmlFrame{
				path:  childPath(parent, t.Name.Local),
				attrs: append([]xml.Attr(nil), t.Attr...),
			})
		case xml.CharData:
			if n := len(stack); n > 0 && !stack[n-1].emitted {
				stack[n-1].text.Write(t)
			}
		case xml.EndElement:
			n := len(stack)
			stack[n-1].emit(&lines)
			stack = stack[:n-1]
		}
	}
	if !rooted {
		return "", errors.New("parse xml: no root element")
	}
	return strings.Join(lines, "\n"), nil
}
