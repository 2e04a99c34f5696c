// Package shield provides the HTTP middleware stack of the extraction API:
// security headers, a request body cap, request tracing and per-client
// rate limiting.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultAPIStack(64<<20, shield.NewRateLimiter(shield.RateLimitConfig{PerMinute: 60})) {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// DefaultAPIStack returns the middleware stack for the extraction API, in
// order: SecurityHeaders → MaxBody → TraceID → RateLimiter. A nil rl
// disables rate limiting.
func DefaultAPIStack(maxBody int64, rl *RateLimiter) []func(http.Handler) http.Handler {
	stack := []func(http.Handler) http.Handler{
		SecurityHeaders(DefaultHeaders()),
		MaxBody(maxBody),
		TraceID,
	}
	if rl != nil {
		stack = append(stack, rl.Middleware)
	}
	return stack
}

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
