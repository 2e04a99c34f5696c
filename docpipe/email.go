// CLAUDE:SUMMARY E-mail extractors: RFC 822 messages (enmime) and mbox mailboxes (go-mbox).
package docpipe

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"io"
	"strings"

	"github.com/emersion/go-mbox"
	"github.com/jhillyerd/enmime"
	"github.com/microcosm-cc/bluemonday"
)

var emailHeaders = []string{"From", "To", "Subject", "Date"}

// stripPolicy removes every tag; script and style content is dropped.
var stripPolicy = bluemonday.StrictPolicy()

// extractEML returns the decoded From/To/Subject/Date headers, a "---"
// separator, then every inline text/plain and text/html part in MIME order.
func extractEML(data []byte) (string, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parse eml: %w", err)
	}

	var lines []string
	for _, h := range emailHeaders {
		if v := strings.TrimSpace(env.GetHeader(h)); v != "" {
			lines = append(lines, h+": "+v)
		}
	}
	lines = append(lines, "---")

	bodies := emailBodies(env.Root)
	if len(bodies) == 0 {
		switch {
		case strings.TrimSpace(env.Text) != "":
			bodies = append(bodies, env.Text)
		case env.HTML != "":
			bodies = append(bodies, stripHTML(env.HTML))
		}
	}
	lines = append(lines, bodies...)
	return strings.Join(lines, "\n"), nil
}

// emailBodies walks the MIME tree depth-first. Attachments are skipped.
func emailBodies(root *enmime.Part) []string {
	var out []string
	var walk func(*enmime.Part)
	walk = func(p *enmime.Part) {
		for ; p != nil; p = p.NextSibling {
			if p.Disposition != "attachment" {
				var text string
				switch strings.ToLower(p.ContentType) {
				case "text/plain":
					text = string(p.Content)
				case "text/html":
					text = stripHTML(string(p.Content))
				}
				if strings.TrimSpace(text) != "" {
					out = append(out, text)
				}
			}
			walk(p.FirstChild)
		}
	}
	walk(root)
	return out
}

func stripHTML(src string) string {
	return strings.TrimSpace(html.UnescapeString(stripPolicy.Sanitize(src)))
}

// extractMbox runs every message of the mailbox through extractEML and
// separates them with "---" lines. Unparseable messages are skipped.
func extractMbox(data []byte) (string, error) {
	r := mbox.NewReader(bytes.NewReader(data))
	var (
		msgs  []string
		total int
	)
	for {
		msg, err := r.NextMessage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if total == 0 {
				return "", fmt.Errorf("parse mbox: %w", err)
			}
			break
		}
		total++
		raw, err := io.ReadAll(msg)
		if err != nil {
			continue
		}
		text, err := extractEML(raw)
		if err != nil {
			continue
		}
		msgs = append(msgs, text)
	}
	if total == 0 && len(bytes.TrimSpace(data)) > 0 {
		return "", errors.New("parse mbox: no messages found")
	}
	return strings.Join(msgs, "\n---\n"), nil
}
