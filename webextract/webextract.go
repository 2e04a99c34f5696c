// CLAUDE:SUMMARY Extracts text units from a URL: SSRF check, content-type check, then HTML page (render or fetch, text + image OCR) or file download through docpipe.
// CLAUDE:DEPENDS docpipe, browser, horosafe, sanitize
// Package webextract turns a URL into extracted units.
//
// The URL is validated before any network call and every redirect hop is
// validated again. A HEAD request (GET when HEAD fails) decides between the
// HTML path, which returns the page text followed by OCR text of its images,
// and the download path, which hands the file to the document pipeline.
//
// Usage:
//
//	ex := webextract.New(webextract.Config{Pipeline: pipe, Renderer: browser.NewRenderer(mgr)})
//	units, err := ex.Extract(ctx, "https://example.com/", "", webextract.Options{})
package webextract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/hazyhaar/extracttext/browser"
	"github.com/hazyhaar/extracttext/docpipe"
	"github.com/hazyhaar/extracttext/horosafe"
	"github.com/hazyhaar/extracttext/sanitize"
)

var (
	// ErrBlocked is returned when the URL, a redirect hop, an image URL or a
	// dialed address fails the SSRF policy. It wraps the validator's error.
	ErrBlocked = errors.New("webextract: access to this address is prohibited")

	// ErrFetchTimeout is returned when loading the page or file timed out.
	ErrFetchTimeout = errors.New("webextract: page loading timeout")

	// ErrConnection is returned for network failures other than timeouts.
	ErrConnection = errors.New("webextract: connection error")

	// ErrHTTPStatus is returned for 4xx/5xx responses.
	ErrHTTPStatus = errors.New("webextract: unexpected HTTP status")

	// ErrTooLarge is returned when a download exceeds MaxFileSize.
	ErrTooLarge = errors.New("webextract: content exceeds size limit")

	// ErrTooManyRedirects is returned past Options.MaxRedirects hops.
	ErrTooManyRedirects = errors.New("webextract: too many redirects")
)

// Renderer loads a page in a headless browser. browser.Renderer implements it.
type Renderer interface {
	Render(ctx context.Context, req browser.Request) (*browser.Page, error)
}

// Config configures an Extractor.
type Config struct {
	// Pipeline extracts downloaded files and runs image OCR. Required.
	Pipeline *docpipe.Pipeline

	// Renderer is used for JS rendering. Nil means plain HTTP only.
	Renderer Renderer

	// URLValidator rejects unsafe URLs. Default: horosafe.DefaultValidator().Validate.
	URLValidator func(ctx context.Context, rawURL string) error

	// AddrGuard is checked on every dialed address, which closes the DNS
	// rebinding window between validation and connect. Defaults to the
	// default validator's CheckAddr when URLValidator is also unset.
	AddrGuard func(netip.Addr) error

	// MaxFileSize caps downloaded files, pages and images (default: 20 MiB).
	MaxFileSize int64

	// UserAgent is sent when the caller gives none (default: "Text Extraction Bot 1.0").
	UserAgent string

	// HeadTimeout bounds the content-type request (default: 10s).
	HeadTimeout time.Duration

	// DownloadTimeout bounds file downloads (default: 60s).
	DownloadTimeout time.Duration

	// Defaults are merged under each request's Options.
	Defaults Options

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.URLValidator == nil {
		v := horosafe.DefaultValidator()
		c.URLValidator = v.Validate
		if c.AddrGuard == nil {
			c.AddrGuard = v.CheckAddr
		}
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 20 << 20
	}
	if c.UserAgent == "" {
		c.UserAgent = "Text Extraction Bot 1.0"
	}
	if c.HeadTimeout <= 0 {
		c.HeadTimeout = 10 * time.Second
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = 60 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Extractor extracts units from URLs.
type Extractor struct {
	cfg       Config
	logger    *slog.Logger
	transport *http.Transport
}

// New creates an Extractor.
func New(cfg Config) *Extractor {
	cfg.defaults()
	return &Extractor{
		cfg:       cfg,
		logger:    cfg.Logger,
		transport: newTransport(cfg.AddrGuard),
	}
}

// newTransport dials directly (no proxy) and checks every resolved address
// against guard before connecting.
func newTransport(guard func(netip.Addr) error) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if guard == nil {
		return t
	}
	d := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control: func(_, address string, _ syscall.RawConn) error {
			ap, err := netip.ParseAddrPort(address)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrBlocked, err)
			}
			if err := guard(ap.Addr().Unmap()); err != nil {
				return fmt.Errorf("%w: %w", ErrBlocked, err)
			}
			return nil
		},
	}
	t.Proxy = nil
	t.DialContext = d.DialContext
	return t
}

// client builds a per-request client honoring the redirect settings. Every
// hop is re-validated.
func (e *Extractor) client(s settings, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: e.transport,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if !s.follow {
				return http.ErrUseLastResponse
			}
			if len(via) > s.maxRedirects {
				return fmt.Errorf("%w (%d)", ErrTooManyRedirects, len(via))
			}
			if err := e.cfg.URLValidator(req.Context(), req.URL.String()); err != nil {
				return fmt.Errorf("%w: redirect: %w", ErrBlocked, err)
			}
			return nil
		},
	}
}

const (
	acceptHTML = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	acceptAny  = "*/*"
)

func setHeaders(req *http.Request, ua, accept string) {
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "ru,en;q=0.5")
}

// Extract returns the units of rawURL. An empty userAgent uses the
// configured default.
func (e *Extractor) Extract(ctx context.Context, rawURL, userAgent string, opts Options) ([]docpipe.Unit, error) {
	s := opts.resolve(e.cfg.Defaults)
	ua := strings.TrimSpace(userAgent)
	if ua == "" {
		ua = e.cfg.UserAgent
	}
	log := e.logger.With("url", rawURL)

	if err := e.cfg.URLValidator(ctx, rawURL); err != nil {
		log.Warn("webextract: url blocked", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrBlocked, err)
	}

	contentType, final, err := e.resolveType(ctx, rawURL, ua, s)
	if err != nil {
		log.Warn("webextract: content type check failed", "error", err)
		return nil, err
	}
	if isHTML(contentType, final) {
		log.Info("webextract: html page", "final_url", final, "content_type", contentType)
		return e.extractPage(ctx, final, ua, s)
	}
	log.Info("webextract: file download", "final_url", final, "content_type", contentType)
	return e.download(ctx, final, ua, s)
}

// resolveType returns the lower-cased Content-Type and the post-redirect URL.
func (e *Extractor) resolveType(ctx context.Context, rawURL, ua string, s settings) (string, string, error) {
	timeout := e.cfg.HeadTimeout
	if s.explicitTimeout {
		timeout = s.pageTimeout
	}
	c := e.client(s, timeout)
	contentType, final, err := e.peek(ctx, c, http.MethodHead, rawURL, ua)
	if err == nil {
		return contentType, final, nil
	}
	if errors.Is(err, ErrBlocked) || ctx.Err() != nil {
		return "", "", err
	}
	e.logger.Debug("webextract: head failed, trying get", "url", rawURL, "error", err)
	return e.peek(ctx, c, http.MethodGet, rawURL, ua)
}

// peek sends method and reads only the response headers.
func (e *Extractor) peek(ctx context.Context, c *http.Client, method, rawURL, ua string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrConnection, err)
	}
	setHeaders(req, ua, acceptHTML)
	resp, err := c.Do(req)
	if err != nil {
		return "", "", classifyFetch(err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", "", fmt.Errorf("%w: %s", ErrHTTPStatus, resp.Status)
	}
	return strings.ToLower(resp.Header.Get("Content-Type")), resp.Request.URL.String(), nil
}

// classifyFetch maps a client error onto the package error classes.
func classifyFetch(err error) error {
	var ne net.Error
	switch {
	case errors.Is(err, ErrBlocked), errors.Is(err, ErrTooLarge), errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &ne) && ne.Timeout():
		return fmt.Errorf("%w: %w", ErrFetchTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrConnection, err)
}

// isHTML decides the HTML path. text/plain counts as HTML only for
// .html/.htm URLs; a missing or octet-stream type also accepts URLs without
// an extension, which are usually dynamic pages.
func isHTML(contentType, finalURL string) bool {
	if strings.Contains(contentType, "text/html") || strings.Contains(contentType, "application/xhtml") {
		return true
	}
	ext := urlExtension(finalURL)
	if strings.Contains(contentType, "text/plain") {
		return ext == "html" || ext == "htm"
	}
	if contentType == "" || strings.Contains(contentType, "application/octet-stream") {
		return ext == "html" || ext == "htm" || ext == ""
	}
	return false
}

func urlExtension(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	}
	ext, _ := sanitize.Extension(path.Base(p))
	return ext
}
