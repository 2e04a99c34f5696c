package docpipe

import (
	"strings"
)

// extractEPUB returns the visible text of the HTML/XHTML members in
// archive order. Members stop being read once the cumulative declared size
// would pass MaxExtractedSize; an unreadable member is skipped.
func (p *Pipeline) extractEPUB(data []byte) (string, error) {
	zr, err := openZip(data)
	if err != nil {
		return "", err
	}
	limit := p.cfg.MaxExtractedSize

	var (
		parts []string
		total int64
	)
	for _, f := range zr.File {
		lower := strings.ToLower(f.Name)
		if !strings.HasSuffix(lower, ".html") && !strings.HasSuffix(lower, ".xhtml") && !strings.HasSuffix(lower, ".htm") {
			continue
		}
		size := int64(f.UncompressedSize64)
		if total+size > limit {
			p.logger.Warn("docpipe: epub extracted size limit reached", "member", f.Name, "limit", limit)
			break
		}
		body, err := readZipFile(f, max(limit-total, 1))
		if err != nil {
			p.logger.Debug("docpipe: epub member skipped", "member", f.Name, "error", err)
			continue
		}
		total += int64(len(body))
		text, err := extractHTML(body)
		if err != nil {
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}
