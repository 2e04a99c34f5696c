package kit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

type contextKey string

const (
	TransportKey  contextKey = "kit_transport" // "http", "mcp"
	TraceIDKey    contextKey = "kit_trace_id"
	RemoteAddrKey contextKey = "kit_remote_addr"
)

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}

// GetTransport defaults to "http".
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok {
		return v
	}
	return "http"
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey, id)
}
func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(TraceIDKey).(string)
	return v
}

// NewTraceID returns 8 random hex characters. Trace ids correlate log lines
// and journal entries of one call; they are not secrets.
func NewTraceID() string {
	b := make([]byte, 4)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// EnsureTraceID returns ctx unchanged when it carries a trace id, else a
// child context with a fresh one.
func EnsureTraceID(ctx context.Context) context.Context {
	if GetTraceID(ctx) != "" {
		return ctx
	}
	return WithTraceID(ctx, NewTraceID())
}

func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, RemoteAddrKey, addr)
}
func GetRemoteAddr(ctx context.Context) string {
	v, _ := ctx.Value(RemoteAddrKey).(string)
	return v
}

// LogAttrs returns the request-scoped values of ctx as slog key/value pairs.
// Unset values are omitted; the transport is always present.
func LogAttrs(ctx context.Context) []any {
	attrs := []any{"transport", GetTransport(ctx)}
	if id := GetTraceID(ctx); id != "" {
		attrs = append(attrs, "trace_id", id)
	}
	if addr := GetRemoteAddr(ctx); addr != "" {
		attrs = append(attrs, "remote_addr", addr)
	}
	return attrs
}
