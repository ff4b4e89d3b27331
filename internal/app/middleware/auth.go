package middleware

import (
	"metalink/internal/app/apperr"
	"metalink/internal/app/handler"
	"metalink/internal/app/logger"
	"metalink/internal/app/session"
	"net/http"
	"strings"
)

func Auth(jwt session.Reader) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := logger.Get(r.Context(), "Middleware.Auth")

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				log.Debug().Msg("Missing bearer token")
				handler.WriteError(w, apperr.ErrUnauthorized, http.StatusUnauthorized)
				return
			}

			a, err := jwt.Read(r.Context(), token)
			if err != nil {
				log.Debug().Err(err).Msg("Token validation failed")
				handler.WriteError(w, apperr.ErrUnauthorized, http.StatusUnauthorized)
				return
			}

			log.Debug().Str("account_id", a.ID).Msg("Account authorized")
			next.ServeHTTP(w, r.WithContext(handler.WithAccount(r.Context(), a)))
		})
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
