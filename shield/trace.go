package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/extracttext/kit"
)

// TraceID tags every request with a trace id: in the context (kit.TraceIDKey),
// the X-Trace-ID response header and a per-request logger stored under
// LoggerKey. The client address is stored with kit.WithRemoteAddr.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := kit.NewTraceID()
		ctx := kit.WithRemoteAddr(kit.WithTraceID(r.Context(), traceID), ExtractIP(r))
		w.Header().Set("X-Trace-ID", traceID)

		logger := slog.Default().With(append(kit.LogAttrs(ctx), "method", r.Method, "path", r.URL.Path)...)
		logger.Debug("shield: request")

		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, LoggerKey, logger)))
	})
}
