package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"payments-backend/apperr"
)

type contextKey string

const principalKey contextKey = "principal"

// Principal returns the authenticated account id placed in the request
// context by Authentication.
func Principal(r *http.Request) (uuid.UUID, error) {
	principal, ok := r.Context().Value(principalKey).(uuid.UUID)
	if !ok || principal == uuid.Nil {
		return uuid.Nil, apperr.New(apperr.Unauthenticated, "")
	}
	return principal, nil
}

// Authentication guards a route with bearer-token authentication. 401
// responses carry a WWW-Authenticate challenge per RFC 6750; token
// rejections include the reason for the failed check.
func Authentication(validator *TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := validator.Authenticate(r.Header.Get("Authorization"))
			if err != nil {
				switch apperr.KindOf(err) {
				case apperr.Unauthenticated:
					w.Header().Set("WWW-Authenticate", "Bearer")
				case apperr.MalformedRequest:
					w.Header().Set("WWW-Authenticate", fmt.Sprintf(
						`Bearer error="invalid_request",error_description=%q`, apperr.DetailOf(err)))
				case apperr.InvalidToken:
					w.Header().Set("WWW-Authenticate", fmt.Sprintf(
						`Bearer error="invalid_token",error_description=%q`, apperr.DetailOf(err)))
				}
				RespondWithError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), principalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// statusRecorder captures the response code for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// Logger logs one line per request with method, path, status and latency.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logrus.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
			"remote":   r.RemoteAddr,
		}).Info("request")
	})
}
