package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"payments-backend/apperr"
)

// ErrorResponse is the wire shape of every error body.
type ErrorResponse struct {
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
}

func JSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logrus.WithError(err).Error("could not encode response")
	}
}

// RespondWithError terminates a request with the error's taxonomy
// variant. Unknown errors become ServerError with the detail withheld
// from the caller and the full cause logged; a hit request deadline
// becomes a retryable ServiceUnavailable.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		w.Header().Set("Retry-After", "1")
		JSON(w, apperr.Status(apperr.ServiceUnavailable), ErrorResponse{Title: string(apperr.ServiceUnavailable)})
		return
	}

	kind := apperr.KindOf(err)
	if kind == apperr.ServerError {
		logrus.WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).WithError(err).Error("server error")
		JSON(w, apperr.Status(kind), ErrorResponse{Title: string(kind), Detail: "Something went wrong"})
		return
	}
	if kind == apperr.ServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}

	JSON(w, apperr.Status(kind), ErrorResponse{Title: string(kind), Detail: apperr.DetailOf(err)})
}
