package middleware

import (
	"github.com/justinas/alice"
	"github.com/rs/zerolog/hlog"
	"metalink/internal/app/logger"
	"net/http"
	"time"
)

// Log attaches a request scoped logger with a request id and writes an access
// log line per request.
func Log(l logger.Logger) func(next http.Handler) http.Handler {
	chain := alice.New(
		hlog.NewHandler(l.Logger),
		hlog.RequestIDHandler("request_id", "X-Request-Id"),
		hlog.RemoteAddrHandler("remote_addr"),
		hlog.MethodHandler("method"),
		hlog.URLHandler("url"),
		hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			hlog.FromRequest(r).Info().
				Int("status", status).
				Int("size", size).
				Dur("duration", duration).
				Msg("Request")
		}),
	)
	return chain.Then
}
