package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/m3rciful/tgrelay/core/logger"
)

// RequestLogger stores the chi request id as the log rid, attaches the http
// component logger to the request context and writes one line per request.
// The bot token is masked in logged paths since it is part of the webhook URL.
func RequestLogger(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := r.Context()
			reqID := chimw.GetReqID(ctx)
			if reqID != "" {
				ctx = logger.WithRID(ctx, reqID)
			}
			ctx = logger.WithLogger(ctx, logger.HTTP)

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			code := ww.Status()
			if code == 0 {
				code = http.StatusOK
			}
			level := slog.LevelDebug
			switch {
			case code >= http.StatusInternalServerError:
				level = slog.LevelError
			case !logger.ShouldSampleDebug():
				return
			}
			logger.LogEvent(ctx, logger.HTTP, level, "http.request",
				slog.String("request_id", reqID),
				slog.String("method", r.Method),
				slog.String("path", MaskToken(r.URL.Path, token)),
				slog.Int("http_code", code),
				slog.Int("bytes", ww.BytesWritten()),
				slog.String("remote", r.RemoteAddr),
				slog.Duration("duration", logger.RoundMS(time.Since(start))),
			)
		})
	}
}

// MaskToken replaces every occurrence of token in p.
func MaskToken(p, token string) string {
	if token == "" {
		return p
	}
	return strings.ReplaceAll(p, token, "<token>")
}
