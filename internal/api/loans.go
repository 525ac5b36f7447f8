package api

import (
	"net/http"
	"strconv"

	"github.com/erazemk/izposoja/internal/circulation"
	"github.com/erazemk/izposoja/internal/model"
)

// LoansHandler handles checkout, checkin, renewal and loan lookups.
type LoansHandler struct {
	Svc *circulation.Service
}

type checkoutRequest struct {
	BorrowerExternalID string `json:"borrower_external_id" validate:"required"`
	ItemBarcode        string `json:"item_barcode" validate:"required"`
}

type checkinRequest struct {
	ItemBarcode string `json:"item_barcode" validate:"required"`
}

// Checkout handles POST /api/loans/checkout.
func (h *LoansHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	var req checkoutRequest
	if !decodeValid(w, r, &req) {
		return
	}

	res, err := h.Svc.Checkout(r.Context(), circulation.CheckoutRequest{
		OrgID:              claims.OrganizationID,
		BorrowerExternalID: req.BorrowerExternalID,
		ItemBarcode:        req.ItemBarcode,
		ActorID:            claims.UserID,
	})
	if err != nil {
		circulationError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, res)
}

// Checkin handles POST /api/loans/checkin.
func (h *LoansHandler) Checkin(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	var req checkinRequest
	if !decodeValid(w, r, &req) {
		return
	}

	res, err := h.Svc.Checkin(r.Context(), circulation.CheckinRequest{
		OrgID:       claims.OrganizationID,
		ItemBarcode: req.ItemBarcode,
		ActorID:     claims.UserID,
	})
	if err != nil {
		circulationError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, res)
}

// Renew handles POST /api/loans/{id}/renew.
func (h *LoansHandler) Renew(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	res, err := h.Svc.Renew(r.Context(), circulation.RenewRequest{
		OrgID:   claims.OrganizationID,
		LoanID:  r.PathValue("id"),
		ActorID: claims.UserID,
	})
	if err != nil {
		circulationError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, res)
}

// List handles GET /api/loans. Patrons only ever see their own loans.
func (h *LoansHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}

	f := circulation.LoanFilter{
		OrganizationID: claims.OrganizationID,
		UserID:         r.URL.Query().Get("user_id"),
		ItemID:         r.URL.Query().Get("item_id"),
		Status:         r.URL.Query().Get("status"),
		Limit:          limit,
	}
	if !model.IsStaff(claims.Role) {
		f.UserID = claims.UserID
	}

	loans, err := h.Svc.ListLoans(r.Context(), f)
	if err != nil {
		circulationError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, loans)
}

// Get handles GET /api/loans/{id}.
func (h *LoansHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	loan, err := h.Svc.GetLoan(r.Context(), claims.OrganizationID, r.PathValue("id"))
	if err != nil {
		circulationError(w, r, err)
		return
	}
	if !model.IsStaff(claims.Role) && loan.UserID != claims.UserID {
		jsonError(w, http.StatusNotFound, "loan not found")
		return
	}
	jsonResponse(w, http.StatusOK, loan)
}

// limitParam parses the optional ?limit= query parameter. Zero means no limit.
func limitParam(w http.ResponseWriter, r *http.Request) (uint, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return uint(n), true
}
