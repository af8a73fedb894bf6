package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/andr-235/fullstack-parser-sub002/internal/api/shared"
	"github.com/andr-235/fullstack-parser-sub002/internal/platform/logger"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// TraceMiddleware adds a trace ID and a request-scoped logger to the request
// context and logs the request once it completes.
// This middleware should be applied early in the middleware chain to ensure
// that all subsequent handlers have access to the trace ID.
func TraceMiddleware(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := shared.SetTraceID(r.Context(), r.Header.Get(shared.TraceIDHeader))
			traceID := shared.GetTraceID(ctx)
			ctx, log := logger.With(ctx, base, "trace_id", traceID)

			w.Header().Set(shared.TraceIDHeader, traceID)
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r.WithContext(ctx))

			log.Debug("request completed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.String("remote_addr", r.RemoteAddr))
		})
	}
}
