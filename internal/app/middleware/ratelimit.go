package middleware

import (
	"errors"
	"metalink/internal/app/handler"
	"metalink/internal/app/logger"
	"metalink/internal/app/ratelimit"
	"net"
	"net/http"
	"strconv"
	"time"
)

var errTooManyRequests = errors.New("too many requests")

// RateLimit allows a fixed number of requests per client address and window.
// Limiter failures let the request through.
func RateLimit(limiter ratelimit.Limiter) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)

			res, err := limiter.Allow(r.Context(), key)
			if err != nil {
				l := logger.Get(r.Context(), "Middleware.RateLimit")
				l.Warn().Err(err).Msg("Limiter unavailable")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))

			if !res.Allowed {
				retry := int(time.Until(res.ResetAt).Seconds()) + 1
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				handler.WriteError(w, errTooManyRequests, http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
