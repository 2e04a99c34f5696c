package webextract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"github.com/hazyhaar/extracttext/browser"
	"github.com/hazyhaar/extracttext/docpipe"
	"github.com/hazyhaar/extracttext/horosafe"
)

// maxIdleWait caps the network-idle wait whatever js_render_timeout says.
const maxIdleWait = 15 * time.Second

// extractPage returns the page unit followed by the image units.
func (e *Extractor) extractPage(ctx context.Context, pageURL, ua string, s settings) ([]docpipe.Unit, error) {
	html, final, err := e.loadPage(ctx, pageURL, ua, s)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: html: %w", docpipe.ErrCorrupted, err)
	}
	var srcs []string
	if s.images {
		srcs = imageSources(doc, s.maxImages)
	}
	units := []docpipe.Unit{{
		Filename: "page_content",
		Path:     final,
		Size:     int64(len(html)),
		Type:     "html",
		Text:     visibleText(doc),
	}}
	units = append(units, e.images(ctx, srcs, final, s)...)
	e.logger.Info("webextract: page extracted", "url", final, "size", len(html), "images", len(units)-1)
	return units, nil
}

// loadPage renders the page when JS is requested and a renderer exists,
// falling back to a plain GET on any render failure.
func (e *Extractor) loadPage(ctx context.Context, pageURL, ua string, s settings) (string, string, error) {
	if s.javascript && e.cfg.Renderer != nil {
		p, err := e.cfg.Renderer.Render(ctx, browser.Request{
			URL:         pageURL,
			UserAgent:   ua,
			JavaScript:  true,
			NavTimeout:  s.pageTimeout,
			IdleTimeout: min(s.jsTimeout, maxIdleWait),
			LazyScroll:  s.lazyScroll,
			MaxScrolls:  s.maxScrolls,
			SettleDelay: s.delay,
		})
		switch {
		case err == nil:
			// The browser follows redirects on its own; the landing URL is
			// held to the same policy as the request.
			if verr := e.cfg.URLValidator(ctx, p.FinalURL); verr != nil {
				return "", "", fmt.Errorf("%w: rendered page landed on %s: %w", ErrBlocked, p.FinalURL, verr)
			}
			return p.HTML, p.FinalURL, nil
		case ctx.Err() != nil:
			return "", "", classifyFetch(ctx.Err())
		}
		e.logger.Warn("webextract: render failed, falling back to http", "url", pageURL, "error", err)
	} else if s.javascript {
		e.logger.Warn("webextract: javascript requested but no headless engine, using http", "url", pageURL)
	}
	return e.fetchHTML(ctx, pageURL, ua, s)
}

// fetchHTML GETs the page and decodes it to UTF-8 from the Content-Type
// charset, a BOM or a <meta> declaration.
func (e *Extractor) fetchHTML(ctx context.Context, pageURL, ua string, s settings) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrConnection, err)
	}
	setHeaders(req, ua, acceptHTML)
	resp, err := e.client(s, s.pageTimeout).Do(req)
	if err != nil {
		return "", "", classifyFetch(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", "", fmt.Errorf("%w: %s", ErrHTTPStatus, resp.Status)
	}
	body, err := e.readBody(resp.Body)
	if err != nil {
		return "", "", err
	}
	r, err := charset.NewReader(bytes.NewReader(body), resp.Header.Get("Content-Type"))
	if err != nil {
		return string(body), resp.Request.URL.String(), nil
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return string(body), resp.Request.URL.String(), nil
	}
	return string(decoded), resp.Request.URL.String(), nil
}

// readBody reads at most MaxFileSize bytes.
func (e *Extractor) readBody(r io.Reader) ([]byte, error) {
	data, err := horosafe.LimitedReadAll(r, e.cfg.MaxFileSize)
	if err != nil {
		if errors.Is(err, horosafe.ErrTooLarge) {
			return nil, fmt.Errorf("%w: exceeded %d bytes during download", ErrTooLarge, e.cfg.MaxFileSize)
		}
		return nil, classifyFetch(err)
	}
	return data, nil
}

// visibleText drops non-content elements and returns the trimmed,
// non-empty lines of what remains.
func visibleText(doc *goquery.Document) string {
	doc.Find("script, style, nav, header, footer, aside").Remove()
	var lines []string
	for _, line := range strings.Split(doc.Text(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// imageSources returns the src of the first limit <img src> elements,
// in document order.
func imageSources(doc *goquery.Document, limit int) []string {
	var srcs []string
	doc.Find("img[src]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if len(srcs) >= limit {
			return false
		}
		src, _ := sel.Attr("src")
		srcs = append(srcs, strings.TrimSpace(src))
		return true
	})
	return srcs
}
