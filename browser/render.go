// CLAUDE:SUMMARY Renders one URL in an isolated incognito stealth tab and returns the final HTML and URL.
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Request describes one page render.
type Request struct {
	URL       string
	UserAgent string

	// JavaScript enables script execution. When false the page is loaded
	// with scripts disabled and none of the JS waits run.
	JavaScript bool

	// NavTimeout bounds navigation and load.
	NavTimeout time.Duration

	// IdleTimeout bounds the network-idle wait (JS only).
	IdleTimeout time.Duration

	// LazyScroll scrolls the page to trigger lazy loading, at most
	// MaxScrolls times (JS only).
	LazyScroll bool
	MaxScrolls int

	// SettleDelay is slept after the JS waits before capturing the DOM.
	SettleDelay time.Duration
}

func (r *Request) defaults() {
	if r.NavTimeout <= 0 {
		r.NavTimeout = 30 * time.Second
	}
	if r.IdleTimeout <= 0 {
		r.IdleTimeout = 10 * time.Second
	}
}

// Page is a rendered page.
type Page struct {
	HTML     string
	FinalURL string
}

// Renderer renders pages through the managed browser.
type Renderer struct {
	mgr *Manager
}

// NewRenderer returns a Renderer backed by mgr.
func NewRenderer(mgr *Manager) *Renderer {
	return &Renderer{mgr: mgr}
}

const (
	viewportWidth  = 1280
	viewportHeight = 720
	scrollPause    = time.Second
)

// Render loads req.URL in a fresh incognito context. The context, and every
// tab in it, is disposed before returning.
func (r *Renderer) Render(ctx context.Context, req Request) (*Page, error) {
	log := r.mgr.cfg.Logger
	req.defaults()
	b, err := r.mgr.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	inc, err := b.Incognito()
	if err != nil {
		return nil, fmt.Errorf("browser: incognito: %w", err)
	}
	defer func() {
		if err := (proto.TargetDisposeBrowserContext{BrowserContextID: inc.BrowserContextID}).Call(b); err != nil {
			log.Debug("browser: dispose context", "error", err)
		}
	}()

	var page *rod.Page
	if req.JavaScript {
		page, err = stealth.Page(inc)
	} else {
		page, err = inc.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	defer page.Close()

	if err := r.setup(page, req); err != nil {
		return nil, err
	}
	if len(r.mgr.cfg.ResourceBlocking) > 0 {
		router := applyResourceBlocking(page, r.mgr.cfg.ResourceBlocking)
		defer router.Stop()
	}

	navCtx, cancel := context.WithTimeout(ctx, req.NavTimeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(req.URL); err != nil {
		return nil, fmt.Errorf("browser: navigate %s: %w", req.URL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		log.Warn("browser: wait load timeout", "url", req.URL, "error", err)
	}

	if req.JavaScript {
		if err := page.Context(ctx).Timeout(req.IdleTimeout).WaitIdle(req.IdleTimeout); err != nil {
			log.Warn("browser: network idle wait ended", "url", req.URL, "error", err)
		}
		if req.LazyScroll {
			lazyScroll(ctx, pageScroller{page.Context(ctx)}, req.MaxScrolls, scrollPause, log)
		}
		if err := sleep(ctx, req.SettleDelay); err != nil {
			return nil, err
		}
	}

	html, err := page.Context(ctx).HTML()
	if err != nil {
		return nil, fmt.Errorf("browser: get DOM: %w", err)
	}
	final := req.URL
	if info, err := page.Info(); err == nil && info.URL != "" {
		final = info.URL
	}
	log.Info("browser: rendered", "url", final, "size", len(html), "js", req.JavaScript)
	return &Page{HTML: html, FinalURL: final}, nil
}

func (r *Renderer) setup(page *rod.Page, req Request) error {
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             viewportWidth,
		Height:            viewportHeight,
		DeviceScaleFactor: 1,
	}).Call(page); err != nil {
		return fmt.Errorf("browser: viewport: %w", err)
	}
	if req.UserAgent != "" {
		if err := (proto.NetworkSetUserAgentOverride{UserAgent: req.UserAgent}).Call(page); err != nil {
			return fmt.Errorf("browser: user agent: %w", err)
		}
	}
	if !req.JavaScript {
		if err := (proto.EmulationSetScriptExecutionDisabled{Value: true}).Call(page); err != nil {
			return fmt.Errorf("browser: disable js: %w", err)
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
