package handler

import (
	"net/http"

	"github.com/nimbuschat/gatekeeper/internal/http/response"
	"github.com/nimbuschat/gatekeeper/internal/service"
)

// PlanHandler serves the sellable plan catalog. The upgrade page renders this
// before the visitor has authenticated, so the endpoint is public.
type PlanHandler struct {
	catalog service.PlanCatalog
}

func NewPlanHandler(catalog service.PlanCatalog) *PlanHandler {
	return &PlanHandler{catalog: catalog}
}

func (h *PlanHandler) List(w http.ResponseWriter, r *http.Request) {
	plans, err := h.catalog.ListAvailable(r.Context())
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"plans": plans})
}
