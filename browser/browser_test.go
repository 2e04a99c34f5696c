package browser

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeScroller returns heights in order; the last one repeats.
type fakeScroller struct {
	heights []int
	reads   int
	scrolls []int
	err     error
}

func (f *fakeScroller) Height() (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	i := f.reads
	if i >= len(f.heights) {
		i = len(f.heights) - 1
	}
	f.reads++
	return f.heights[i], nil
}

func (f *fakeScroller) ScrollTo(y int) error {
	f.scrolls = append(f.scrolls, y)
	return nil
}

func TestLazyScroll(t *testing.T) {
	tests := []struct {
		name     string
		heights  []int
		max      int
		attempts int
	}{
		// WHAT: Two unchanged measurements in a row end the loop.
		{"stable page", []int{1000, 1000, 1000}, 5, 2},
		{"loads once then settles", []int{1000, 1500, 1500, 1500}, 5, 3},
		{"attempt cap", []int{100, 200, 300, 400, 500}, 3, 3},
		// WHY: Infinite feeds would otherwise scroll until the cap every time.
		{"runaway growth", []int{100, 5000}, 5, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeScroller{heights: tt.heights}
			got := lazyScroll(context.Background(), s, tt.max, 0, quiet)
			if got != tt.attempts {
				t.Errorf("attempts = %d, want %d", got, tt.attempts)
			}
			if len(s.scrolls) == 0 || s.scrolls[len(s.scrolls)-1] != 0 {
				t.Errorf("did not return to top: %v", s.scrolls)
			}
		})
	}
}

func TestLazyScroll_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &fakeScroller{heights: []int{100, 200, 300}}
	if got := lazyScroll(ctx, s, 5, time.Hour, quiet); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
	if s.scrolls[len(s.scrolls)-1] != 0 {
		t.Errorf("did not return to top: %v", s.scrolls)
	}
}

func TestLazyScroll_HeightError(t *testing.T) {
	s := &fakeScroller{err: errors.New("detached")}
	if got := lazyScroll(context.Background(), s, 3, 0, quiet); got != 0 {
		t.Errorf("attempts = %d", got)
	}
	if len(s.scrolls) != 0 {
		t.Errorf("scrolled without a page: %v", s.scrolls)
	}
}

func TestShouldBlock(t *testing.T) {
	set := blockSet([]string{"Fonts", " media ", "script"})
	tests := []struct {
		resType string
		want    bool
	}{
		{"Font", true},
		{"Media", true},
		{"Script", true},
		{"Image", false},
		{"Document", false},
		{"Stylesheet", false},
	}
	for _, tt := range tests {
		if got := shouldBlock(set, tt.resType); got != tt.want {
			t.Errorf("shouldBlock(%q) = %v, want %v", tt.resType, got, tt.want)
		}
	}
}

func TestManager_Closed(t *testing.T) {
	m := NewManager(Config{Logger: quiet})
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Acquire(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Acquire err = %v, want ErrClosed", err)
	}
	if err := m.Recycle(); !errors.Is(err, ErrClosed) {
		t.Errorf("Recycle err = %v, want ErrClosed", err)
	}
}

func TestManager_AcquireCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewManager(Config{Logger: quiet})
	defer m.Close()
	if _, err := m.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.defaults()
	if c.MemoryLimit != 1<<30 || c.RecycleInterval != 4*time.Hour || c.Logger == nil {
		t.Errorf("defaults = %+v", c)
	}
	var r Request
	r.defaults()
	if r.NavTimeout != 30*time.Second || r.IdleTimeout != 10*time.Second {
		t.Errorf("request defaults = %+v", r)
	}
}

func TestAvailable_Remote(t *testing.T) {
	if !Available(Config{RemoteURL: "ws://127.0.0.1:9222/devtools/browser/x"}) {
		t.Error("remote URL must count as available")
	}
}
