package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/nimbuschat/gatekeeper/internal/http/middleware"
	"github.com/nimbuschat/gatekeeper/internal/http/response"
	"github.com/nimbuschat/gatekeeper/internal/observability"
	"github.com/nimbuschat/gatekeeper/internal/service"
)

type AdminHandler struct {
	sessions service.AdminSessionManager
}

func NewAdminHandler(sessions service.AdminSessionManager) *AdminHandler {
	return &AdminHandler{sessions: sessions}
}

type adminLoginRequest struct {
	Secret string `json:"secret"`
}

// Login exchanges the shared admin secret for an opaque session token. The
// token is returned in the body for API clients and set as an HttpOnly
// cookie for the dashboard.
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Secret == "" {
		response.Error(w, r, http.StatusBadRequest, "INVALID_REQUEST", "secret is required", nil)
		return
	}

	token, session, err := h.sessions.Login(r.Context(), req.Secret, r.UserAgent(), clientIP(r))
	if err != nil {
		observability.Audit(r, "admin_login_failed")
		response.FromError(w, r, err)
		return
	}

	observability.Audit(r, "admin_login", "session_id", session.ID)
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AdminSessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	response.JSON(w, r, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": session.ExpiresAt,
	})
}

// Logout revokes the presented session. Logging out twice, or without a
// session at all, still succeeds.
func (h *AdminHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := middleware.AdminToken(r)
	if err := h.sessions.Destroy(r.Context(), token); err != nil {
		response.FromError(w, r, err)
		return
	}
	observability.Audit(r, "admin_logout")
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AdminSessionCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	response.JSON(w, r, http.StatusOK, map[string]any{"logged_out": true})
}

// Cleanup purges stale sessions on demand and reports how many were removed.
// The same routine also runs on a timer; this endpoint exists for runbooks.
func (h *AdminHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	removed, err := h.sessions.Cleanup(r.Context())
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	observability.Audit(r, "admin_session_cleanup", "removed", removed)
	response.JSON(w, r, http.StatusOK, map[string]any{"removed": removed})
}

// ListSessions pages through issued sessions, newest first. Only token hashes
// are stored, so nothing sensitive can leak here.
func (h *AdminHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 20)
	result, err := h.sessions.ListSessions(r.Context(), page, pageSize)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, result)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func clientIP(r *http.Request) string {
	return r.RemoteAddr
}
