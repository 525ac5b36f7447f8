package api

import (
	"net/http"

	"github.com/erazemk/izposoja/internal/circulation"
	"github.com/erazemk/izposoja/internal/model"
)

// ItemsHandler handles copy lookups and manual status changes.
type ItemsHandler struct {
	Svc *circulation.Service
}

type setItemStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=available lost repair withdrawn"`
}

// Get handles GET /api/items/{barcode}.
func (h *ItemsHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	item, err := h.Svc.GetItem(r.Context(), claims.OrganizationID, r.PathValue("barcode"))
	if err != nil {
		circulationError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, item)
}

// ListByBib handles GET /api/bibs/{id}/items.
func (h *ItemsHandler) ListByBib(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	items, err := h.Svc.ListItems(r.Context(), claims.OrganizationID, r.PathValue("id"))
	if err != nil {
		circulationError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, items)
}

// SetStatus handles PUT /api/items/{barcode}/status.
func (h *ItemsHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	var req setItemStatusRequest
	if !decodeValid(w, r, &req) {
		return
	}

	res, err := h.Svc.SetItemStatus(r.Context(), circulation.SetItemStatusRequest{
		OrgID:       claims.OrganizationID,
		ItemBarcode: r.PathValue("barcode"),
		Status:      req.Status,
		ActorID:     claims.UserID,
	})
	if err != nil {
		circulationError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, res)
}

// Policy handles GET /api/policies/{role}.
func (h *ItemsHandler) Policy(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	role := r.PathValue("role")
	if role != model.RoleStudent && role != model.RoleTeacher {
		jsonError(w, http.StatusBadRequest, "role must be one of: student teacher")
		return
	}

	p, err := h.Svc.ResolvePolicy(r.Context(), claims.OrganizationID, role)
	if err != nil {
		circulationError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, p)
}
