package browser

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
)

// scroller is the part of a page the lazy-load loop drives.
type scroller interface {
	Height() (int, error)
	ScrollTo(y int) error
}

type pageScroller struct{ page *rod.Page }

func (p pageScroller) Height() (int, error) {
	res, err := p.page.Eval(`() => document.body ? document.body.scrollHeight : 0`)
	if err != nil {
		return 0, err
	}
	return res.Value.Int(), nil
}

func (p pageScroller) ScrollTo(y int) error {
	_, err := p.page.Eval(`(y) => window.scrollTo(0, y < 0 ? document.body.scrollHeight : y)`, y)
	return err
}

// lazyScroll scrolls to the bottom until the document height is unchanged
// on two consecutive measurements, maxAttempts is reached, or the page grows
// past ten times its initial height. It always returns to the top. Errors
// end the loop; they never fail the render.
func lazyScroll(ctx context.Context, s scroller, maxAttempts int, pause time.Duration, log *slog.Logger) int {
	initial, err := s.Height()
	if err != nil {
		log.Warn("browser: lazy scroll", "error", err)
		return 0
	}
	defer func() {
		if err := s.ScrollTo(0); err != nil {
			log.Debug("browser: scroll to top", "error", err)
		}
	}()

	last, stable, attempts := initial, 0, 0
	for attempts < maxAttempts {
		attempts++
		if err := s.ScrollTo(-1); err != nil {
			log.Warn("browser: lazy scroll", "error", err)
			return attempts
		}
		if err := sleep(ctx, pause); err != nil {
			return attempts
		}
		h, err := s.Height()
		if err != nil {
			log.Warn("browser: lazy scroll", "error", err)
			return attempts
		}
		if h == last {
			stable++
			if stable >= 2 {
				break
			}
		} else {
			stable, last = 0, h
		}
		if h > initial*10 {
			log.Warn("browser: page keeps growing, scroll stopped", "initial", initial, "height", h)
			break
		}
	}
	log.Debug("browser: lazy scroll done", "attempts", attempts, "height", last)
	return attempts
}
