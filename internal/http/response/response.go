package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nimbuschat/gatekeeper/internal/domain"
)

type envelope struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
	Meta    meta      `json:"meta"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type meta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data, Meta: buildMeta(r)})
}

func Error(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: &apiError{Code: code, Message: message, Details: details}, Meta: buildMeta(r)})
}

// FromError maps the admission error taxonomy onto HTTP statuses so every
// handler denies the same way. Unknown errors become an opaque 500.
func FromError(w http.ResponseWriter, r *http.Request, err error) {
	var quotaErr *domain.QuotaError
	switch {
	case errors.As(err, &quotaErr):
		Error(w, r, http.StatusForbidden, "QUOTA_EXCEEDED", "daily interaction limit reached", map[string]any{
			"limit":     quotaErr.Limit,
			"used":      quotaErr.Used,
			"resets_at": quotaErr.ResetsAt,
		})
	case errors.Is(err, domain.ErrSubscriptionNotFound):
		Error(w, r, http.StatusPaymentRequired, "SUBSCRIPTION_REQUIRED", "no active subscription", nil)
	case errors.Is(err, domain.ErrUnauthenticated):
		Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
	case errors.Is(err, domain.ErrStorageUnavailable):
		Error(w, r, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "temporarily unavailable, retry shortly", nil)
	default:
		Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}

func buildMeta(r *http.Request) meta {
	id := chimiddleware.GetReqID(r.Context())
	if id == "" {
		id = r.Header.Get("X-Request-Id")
	}
	if id == "" {
		id = "req-unknown"
	}
	return meta{RequestID: id, Timestamp: time.Now().UTC()}
}
