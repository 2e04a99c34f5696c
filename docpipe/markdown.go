package docpipe

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// extractMarkdown renders Markdown to HTML and returns its visible text.
// Raw HTML in the source is omitted by the renderer.
func extractMarkdown(data []byte) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(decodeText(data)), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return HTMLToText(buf.String()), nil
}
