// CLAUDE:SUMMARY Manages the headless Chrome used for JS rendering: lazy launch, memory monitoring, time-based recycling.
// Package browser owns the headless Chrome instance behind web page
// rendering. Chrome is launched on first use (or reached through a remote
// DevTools URL), monitored for JS heap growth and recycled on a threshold
// or after a maximum lifetime.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// ErrClosed is returned once the manager has been closed.
var ErrClosed = errors.New("browser: manager is closed")

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty launches a local Chrome through the rod launcher.
	RemoteURL string `json:"remote_url" yaml:"remote_url"`

	// Bin overrides the Chrome binary. Empty lets the launcher find one.
	Bin string `json:"bin" yaml:"bin"`

	// NoSandbox disables the Chrome sandbox (required when running as root
	// in a container).
	NoSandbox bool `json:"no_sandbox" yaml:"no_sandbox"`

	// MemoryLimit in bytes of JS heap. Chrome is recycled when exceeded.
	// Default: 1 GiB.
	MemoryLimit int64 `json:"memory_limit" yaml:"memory_limit"`

	// RecycleInterval is the maximum lifetime of a Chrome process. Default: 4h.
	RecycleInterval time.Duration `json:"recycle_interval" yaml:"recycle_interval"`

	// ResourceBlocking lists resource types never fetched while rendering
	// (fonts, media, stylesheets, images).
	ResourceBlocking []string `json:"resource_blocking" yaml:"resource_blocking"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = 1 << 30
	}
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 4 * time.Hour
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Available reports whether a headless engine can be used with cfg: either a
// remote DevTools URL is configured or a local Chrome binary is found.
func Available(cfg Config) bool {
	if cfg.RemoteURL != "" || cfg.Bin != "" {
		return true
	}
	_, ok := launcher.LookPath()
	return ok
}

// Manager manages the Chrome lifecycle.
type Manager struct {
	cfg     Config
	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	startAt time.Time
	closed  bool
	stop    context.CancelFunc
}

// NewManager creates a Manager. Chrome is not started until the first
// call to Acquire.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Acquire returns the running browser, launching it (and the monitor
// goroutine) on first use. The browser outlives ctx.
func (m *Manager) Acquire(ctx context.Context) (*rod.Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	b, closed := m.browser, m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if b != nil {
		return b, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if m.browser != nil {
		return m.browser, nil
	}
	b, err := m.launch()
	if err != nil {
		return nil, err
	}
	m.browser = b
	m.startAt = time.Now()

	monCtx, cancel := context.WithCancel(context.Background())
	m.stop = cancel
	go m.monitorLoop(monCtx)
	return b, nil
}

// Recycle kills Chrome. The next Acquire launches a fresh one.
func (m *Manager) Recycle() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.cfg.Logger.Info("browser: recycling", "uptime", time.Since(m.startAt))
	m.cleanup()
	return nil
}

// Close shuts Chrome down. Further Acquire calls fail with ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cleanup()
	return nil
}

func (m *Manager) launch() (*rod.Browser, error) {
	log := m.cfg.Logger

	wsURL := m.cfg.RemoteURL
	if wsURL != "" {
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().Headless(true).
			Set("disable-blink-features", "AutomationControlled").
			Set("disable-dev-shm-usage").
			Set("disable-gpu").
			Set("disable-extensions")
		if m.cfg.Bin != "" {
			l = l.Bin(m.cfg.Bin)
		}
		if m.cfg.NoSandbox {
			l = l.NoSandbox(true)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		if m.lnch != nil {
			m.lnch.Cleanup()
			m.lnch = nil
		}
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	return b, nil
}

func (m *Manager) cleanup() {
	if m.stop != nil {
		m.stop()
		m.stop = nil
	}
	if m.browser != nil {
		m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
}

func (m *Manager) monitorLoop(ctx context.Context) {
	log := m.cfg.Logger
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.RLock()
			b, startAt := m.browser, m.startAt
			m.mu.RUnlock()
			if b == nil {
				return
			}

			if time.Since(startAt) > m.cfg.RecycleInterval {
				log.Info("browser: recycle interval reached")
				if err := m.Recycle(); err != nil {
					log.Error("browser: recycle failed", "error", err)
				}
				return
			}

			used, err := jsHeapUsage(b)
			if err != nil {
				log.Debug("browser: heap check failed", "error", err)
				continue
			}
			if used > m.cfg.MemoryLimit {
				log.Info("browser: memory limit exceeded", "used", used, "limit", m.cfg.MemoryLimit)
				if err := m.Recycle(); err != nil {
					log.Error("browser: recycle failed", "error", err)
				}
				return
			}
		}
	}
}

// jsHeapUsage sums the JS heap of every open page.
func jsHeapUsage(b *rod.Browser) (int64, error) {
	pages, err := b.Pages()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, p := range pages {
		res, err := p.Eval(`() => performance.memory ? performance.memory.usedJSHeapSize : 0`)
		if err != nil {
			continue
		}
		total += int64(res.Value.Int())
	}
	return total, nil
}
