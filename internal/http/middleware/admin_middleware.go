package middleware

import (
	"net/http"
	"strings"

	"github.com/nimbuschat/gatekeeper/internal/http/response"
	"github.com/nimbuschat/gatekeeper/internal/security"
	"github.com/nimbuschat/gatekeeper/internal/service"
)

// AdminSessionCookie carries the opaque admin session token for browser
// clients; API clients may send the same token as a bearer header instead.
const AdminSessionCookie = "gk_admin_session"

// AdminToken extracts the admin session token from the request, cookie first.
// The user-facing access token cookies are deliberately not consulted; an
// admin session is its own credential.
func AdminToken(r *http.Request) string {
	if token := security.GetCookie(r, AdminSessionCookie); token != "" {
		return token
	}
	auth := r.Header.Get("Authorization")
	parts := strings.Fields(auth)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1]
	}
	return ""
}

// AdminAuth gates the operations surface on a live admin session.
func AdminAuth(sessions service.AdminSessionManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := AdminToken(r)
			if token == "" {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "admin session required", nil)
				return
			}
			valid, err := sessions.IsValid(r.Context(), token)
			if err != nil {
				response.Error(w, r, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "session store unavailable", nil)
				return
			}
			if !valid {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "admin session expired or revoked", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
