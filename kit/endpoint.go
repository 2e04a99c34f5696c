// CLAUDE:SUMMARY Transport-agnostic Endpoint type with composable middleware (logging, panic recovery).
// Package kit holds the small pieces shared by every transport of the
// service: the Endpoint signature, its middleware and the request-scoped
// context values.
package kit

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"
)

// Endpoint is one operation exposed over a transport. Decoding and
// encoding are the transport's job.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint.
type Middleware func(next Endpoint) Endpoint

// Chain composes middlewares left-to-right: the first one is the outermost
// wrapper.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Logging logs every call with its duration, tagged with the request values
// found in ctx (see LogAttrs).
func Logging(logger *slog.Logger, name string) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			attrs := append([]any{
				"endpoint", name,
				"duration_ms", time.Since(start).Milliseconds(),
			}, LogAttrs(ctx)...)
			if err != nil {
				logger.WarnContext(ctx, "kit: call failed", append(attrs, "error", err)...)
			} else {
				logger.DebugContext(ctx, "kit: call ok", attrs...)
			}
			return resp, err
		}
	}
}

// Recovery turns a panic in next into a *PanicError.
func Recovery(logger *slog.Logger) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (resp any, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "kit: panic recovered", "panic", r, "stack", string(debug.Stack()))
					err = &PanicError{Value: r}
				}
			}()
			return next(ctx, req)
		}
	}
}

// PanicError wraps a recovered panic value.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return "kit: endpoint panicked"
}
