package api

import (
	"net/http"

	"github.com/erazemk/izposoja/internal/circulation"
	"github.com/erazemk/izposoja/internal/model"
)

// HoldsHandler handles hold placement, cancellation and pickup.
type HoldsHandler struct {
	Svc *circulation.Service
}

type placeHoldRequest struct {
	BibliographicID    string `json:"bibliographic_id" validate:"required"`
	BorrowerExternalID string `json:"borrower_external_id"`
	PickupLocationID   string `json:"pickup_location_id" validate:"required"`
}

type fulfillByBarcodeRequest struct {
	ItemBarcode string `json:"item_barcode" validate:"required"`
}

// Place handles POST /api/holds. Without borrower_external_id the hold is
// placed for the caller.
func (h *HoldsHandler) Place(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	var req placeHoldRequest
	if !decodeValid(w, r, &req) {
		return
	}
	if req.BorrowerExternalID == "" {
		req.BorrowerExternalID = claims.Username
	}

	hold, err := h.Svc.PlaceHold(r.Context(), circulation.PlaceHoldRequest{
		OrgID:              claims.OrganizationID,
		BibliographicID:    req.BibliographicID,
		BorrowerExternalID: req.BorrowerExternalID,
		PickupLocationID:   req.PickupLocationID,
		ActorID:            claims.UserID,
	})
	if err != nil {
		circulationError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, hold)
}

// Cancel handles DELETE /api/holds/{id}.
func (h *HoldsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	res, err := h.Svc.CancelHold(r.Context(), circulation.CancelHoldRequest{
		OrgID:   claims.OrganizationID,
		HoldID:  r.PathValue("id"),
		ActorID: claims.UserID,
	})
	if err != nil {
		circulationError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, res)
}

// Fulfill handles POST /api/holds/{id}/fulfill.
func (h *HoldsHandler) Fulfill(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	res, err := h.Svc.Fulfill(r.Context(), circulation.FulfillRequest{
		OrgID:   claims.OrganizationID,
		HoldID:  r.PathValue("id"),
		ActorID: claims.UserID,
	})
	if err != nil {
		circulationError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, res)
}

// FulfillByBarcode handles POST /api/holds/fulfill.
func (h *HoldsHandler) FulfillByBarcode(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	var req fulfillByBarcodeRequest
	if !decodeValid(w, r, &req) {
		return
	}

	res, err := h.Svc.FulfillByBarcode(r.Context(), circulation.FulfillByBarcodeRequest{
		OrgID:       claims.OrganizationID,
		ItemBarcode: req.ItemBarcode,
		ActorID:     claims.UserID,
	})
	if err != nil {
		circulationError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, res)
}

// List handles GET /api/holds. Patrons only ever see their own holds.
func (h *HoldsHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}

	f := circulation.HoldFilter{
		OrganizationID:  claims.OrganizationID,
		BibliographicID: r.URL.Query().Get("bibliographic_id"),
		UserID:          r.URL.Query().Get("user_id"),
		Status:          r.URL.Query().Get("status"),
		Limit:           limit,
	}
	if !model.IsStaff(claims.Role) {
		f.UserID = claims.UserID
	}

	holds, err := h.Svc.ListHolds(r.Context(), f)
	if err != nil {
		circulationError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, holds)
}

// Get handles GET /api/holds/{id}.
func (h *HoldsHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	hold, err := h.Svc.GetHold(r.Context(), claims.OrganizationID, r.PathValue("id"))
	if err != nil {
		circulationError(w, r, err)
		return
	}
	if !model.IsStaff(claims.Role) && hold.UserID != claims.UserID {
		jsonError(w, http.StatusNotFound, "hold not found")
		return
	}
	jsonResponse(w, http.StatusOK, hold)
}

// Queue handles GET /api/bibs/{id}/queue. Patrons see who else is waiting
// only as positions.
func (h *HoldsHandler) Queue(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	queue, err := h.Svc.ListQueue(r.Context(), claims.OrganizationID, r.PathValue("id"))
	if err != nil {
		circulationError(w, r, err)
		return
	}
	if !model.IsStaff(claims.Role) {
		for i := range queue {
			if queue[i].UserID != claims.UserID {
				queue[i].UserID = ""
			}
		}
	}
	jsonResponse(w, http.StatusOK, queue)
}
