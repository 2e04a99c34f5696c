package webextract

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/hazyhaar/extracttext/docpipe"
	"github.com/hazyhaar/extracttext/sanitize"
)

// defaultDownloadName is used when neither the response nor the URL
// yields a name.
const defaultDownloadName = "downloaded_file"

// download fetches a non-HTML resource and runs it through the pipeline
// like an uploaded file.
func (e *Extractor) download(ctx context.Context, fileURL, ua string, s settings) ([]docpipe.Unit, error) {
	timeout := e.cfg.DownloadTimeout
	if s.explicitTimeout {
		timeout = s.pageTimeout
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	setHeaders(req, ua, acceptAny)
	resp, err := e.client(s, timeout).Do(req)
	if err != nil {
		return nil, classifyFetch(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: %s", ErrHTTPStatus, resp.Status)
	}
	if resp.ContentLength > e.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, resp.ContentLength, e.cfg.MaxFileSize)
	}

	filename := responseFilename(resp)
	data, err := e.readBody(resp.Body)
	if err != nil {
		return nil, err
	}
	e.logger.Info("webextract: file downloaded", "url", fileURL, "filename", filename, "size", len(data))
	return e.cfg.Pipeline.ExtractUnits(ctx, data, filename)
}

var dispositionName = regexp.MustCompile(`filename=["']*([^"';\r\n]*)`)

// responseFilename names a download: Content-Disposition first, then the
// last URL path segment, with an extension derived from Content-Type when
// the segment has none.
func responseFilename(resp *http.Response) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if name := dispositionFilename(cd); name != "" {
			return sanitize.Filename(name)
		}
	}

	name := urlFilename(resp.Request.URL)
	if _, ok := sanitize.Extension(name); !ok {
		if ext, ok := sanitize.ExtensionForMIME(resp.Header.Get("Content-Type")); ok {
			if name == "" {
				name = defaultDownloadName
			}
			name += "." + ext
		}
	}
	if name == "" {
		return defaultDownloadName
	}
	return sanitize.Filename(name)
}

// dispositionFilename parses the header properly (RFC 6266, including
// filename*), falling back to a lenient match for malformed values.
func dispositionFilename(cd string) string {
	if _, params, err := mime.ParseMediaType(cd); err == nil {
		if name := strings.TrimSpace(params["filename"]); name != "" {
			return name
		}
	}
	if m := dispositionName.FindStringSubmatch(cd); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// urlFilename returns the decoded last path segment of u.
func urlFilename(u *url.URL) string {
	if u == nil {
		return ""
	}
	seg := path.Base(u.Path)
	if seg == "/" || seg == "." {
		return ""
	}
	return seg
}
