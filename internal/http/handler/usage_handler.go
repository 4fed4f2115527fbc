package handler

import (
	"net/http"

	"github.com/nimbuschat/gatekeeper/internal/http/middleware"
	"github.com/nimbuschat/gatekeeper/internal/http/response"
	"github.com/nimbuschat/gatekeeper/internal/service"
)

// UsageHandler exposes the ledger over HTTP. All three endpoints sit behind
// IdentityAuth, so a missing identity here is a wiring bug, not a user error.
type UsageHandler struct {
	ledger service.UsageLedgerService
}

func NewUsageHandler(ledger service.UsageLedgerService) *UsageHandler {
	return &UsageHandler{ledger: ledger}
}

// Increment admits one chat interaction. The admission check and the counter
// bump are a single atomic step; there is no separate confirm call to race.
func (h *UsageHandler) Increment(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	usage, err := h.ledger.IncrementUsage(r.Context(), id.ID)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, usage)
}

// Remaining answers the non-mutating admission question for UI gating.
func (h *UsageHandler) Remaining(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	status, err := h.ledger.CheckQuota(r.Context(), id.ID)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, status)
}

// Today reports the standing counter for the usage meter display.
func (h *UsageHandler) Today(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	usage, err := h.ledger.GetDailyUsage(r.Context(), id.ID)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, usage)
}
