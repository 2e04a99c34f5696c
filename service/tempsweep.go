package service

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// staleAge is the age past which startup and shutdown sweeps remove
	// leftovers.
	staleAge = time.Hour
	// recentWindow bounds the post-request sweep to fresh leftovers.
	recentWindow = 10 * time.Minute
)

// sweeper removes orphaned temp artifacts from the service temp root.
// Request directories are tracked while in flight and never swept.
type sweeper struct {
	root   string
	logger *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

func newSweeper(root string, logger *slog.Logger) *sweeper {
	return &sweeper{root: root, logger: logger, inflight: make(map[string]struct{})}
}

func (s *sweeper) track(path string) {
	s.mu.Lock()
	s.inflight[filepath.Base(path)] = struct{}{}
	s.mu.Unlock()
}

func (s *sweeper) untrack(path string) {
	s.mu.Lock()
	delete(s.inflight, filepath.Base(path))
	s.mu.Unlock()
}

// isTempName matches the names the pipeline and the service create.
func isTempName(name string) bool {
	return strings.HasPrefix(name, "tmp") ||
		strings.HasPrefix(name, "extract_") ||
		strings.HasPrefix(name, "temp_")
}

// sweepStale removes entries older than maxAge. Run at startup and shutdown.
func (s *sweeper) sweepStale(maxAge time.Duration) int {
	now := time.Now()
	return s.sweep(func(age time.Duration) bool { return age > maxAge }, now)
}

// sweepRecent removes entries younger than window that no in-flight
// request owns. Run after every request.
func (s *sweeper) sweepRecent(window time.Duration) int {
	now := time.Now()
	return s.sweep(func(age time.Duration) bool { return age < window }, now)
}

func (s *sweeper) sweep(match func(age time.Duration) bool, now time.Time) int {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("service: temp sweep failed", "dir", s.root, "error", err)
		}
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, e := range entries {
		name := e.Name()
		if !isTempName(name) {
			continue
		}
		if _, busy := s.inflight[name]; busy {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if !match(now.Sub(info.ModTime())) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, name)); err != nil {
			s.logger.Warn("service: temp entry not removed", "path", name, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("service: temp entries removed", "dir", s.root, "count", removed)
	}
	return removed
}
