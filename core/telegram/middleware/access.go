package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/m3rciful/tgrelay/core/logger"
)

// SecretTokenHeader carries the secret_token registered through setWebhook.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// SecretToken rejects requests whose secret header does not match. Rejections
// answer 404 so the endpoint looks the same as an unknown path. An empty
// secret disables the check.
func SecretToken(secret string) func(http.Handler) http.Handler {
	want := []byte(secret)
	return func(next http.Handler) http.Handler {
		if len(want) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get(SecretTokenHeader))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				logger.LogEvent(r.Context(), logger.HTTP, slog.LevelWarn, "auth.rejected",
					slog.String("status", "rejected"),
					slog.String("cause", "secret_token"),
					slog.String("remote", r.RemoteAddr),
				)
				http.NotFound(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
