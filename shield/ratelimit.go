package shield

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig defines the per-client request rate.
type RateLimitConfig struct {
	// PerMinute is the sustained request rate per client IP. <= 0 disables limiting.
	PerMinute int `yaml:"requests_per_minute"`

	// Burst is the bucket size (default: PerMinute/6, at least 1).
	Burst int `yaml:"burst"`

	// Exclude lists path prefixes that are never limited.
	Exclude []string `yaml:"exclude"`

	// IdleTTL is how long an idle client's bucket is kept (default: 10m).
	IdleTTL time.Duration `yaml:"-"`
}

func (c *RateLimitConfig) defaults() {
	if c.Burst <= 0 {
		c.Burst = max(1, c.PerMinute/6)
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 10 * time.Minute
	}
}

type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

// RateLimiter provides per-IP token-bucket rate limiting. Buckets of idle
// clients are garbage collected by the goroutine started with Start.
type RateLimiter struct {
	cfg      RateLimitConfig
	limit    rate.Limit
	mu       sync.Mutex
	visitors map[string]*visitor
}

// NewRateLimiter creates a rate limiter. Call Start to enable bucket GC.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	cfg.defaults()
	return &RateLimiter{
		cfg:      cfg,
		limit:    rate.Limit(float64(cfg.PerMinute) / 60),
		visitors: make(map[string]*visitor),
	}
}

// Start runs bucket GC every minute until done is closed.
func (rl *RateLimiter) Start(done <-chan struct{}) {
	tick := time.NewTicker(time.Minute)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				rl.gc(time.Now())
			}
		}
	}()
}

func (rl *RateLimiter) gc(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, v := range rl.visitors {
		if now.Sub(v.seen) > rl.cfg.IdleTTL {
			delete(rl.visitors, ip)
		}
	}
}

// reserve takes a token for ip and returns how long the client must wait
// when none is available.
func (rl *RateLimiter) reserve(ip string, now time.Time) (time.Duration, bool) {
	rl.mu.Lock()
	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(rl.limit, rl.cfg.Burst)}
		rl.visitors[ip] = v
	}
	v.seen = now
	rl.mu.Unlock()

	if v.lim.AllowN(now, 1) {
		return 0, true
	}
	r := v.lim.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	return delay, false
}

// Middleware enforces the limit. Rejected requests get a JSON 429 with
// Retry-After.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.cfg.PerMinute <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		for _, prefix := range rl.cfg.Exclude {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		ip := ExtractIP(r)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.cfg.PerMinute))
		delay, ok := rl.reserve(ip, time.Now())
		if ok {
			next.ServeHTTP(w, r)
			return
		}

		retry := int(math.Ceil(delay.Seconds()))
		if retry < 1 {
			retry = 1
		}
		slog.Warn("ratelimit: request blocked", "ip", ip, "path", r.URL.Path, "retry_after", retry)
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{
			"status":  "error",
			"message": "rate limit exceeded",
		})
	})
}

// ExtractIP returns the client IP from X-Forwarded-For or RemoteAddr.
func ExtractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
