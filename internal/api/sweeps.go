package api

import (
	"net/http"
	"time"

	"github.com/erazemk/izposoja/internal/circulation"
)

// SweepsHandler handles on-demand hold expiry sweeps and the audit log.
type SweepsHandler struct {
	Svc *circulation.Service
}

type sweepRequest struct {
	AsOf  *time.Time `json:"as_of"`
	Limit int        `json:"limit" validate:"gte=0"`
	Apply bool       `json:"apply"`
}

// Sweep handles POST /api/sweeps. Without apply it only previews.
func (h *SweepsHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	var req sweepRequest
	if !decodeValid(w, r, &req) {
		return
	}

	sr := circulation.SweepRequest{
		OrgID:   claims.OrganizationID,
		Limit:   req.Limit,
		Apply:   req.Apply,
		ActorID: claims.UserID,
	}
	if req.AsOf != nil {
		sr.AsOf = req.AsOf.UTC()
	}

	res, err := h.Svc.Sweep(r.Context(), sr)
	if err != nil {
		circulationError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, res)
}

// Audit handles GET /api/audit.
func (h *SweepsHandler) Audit(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	events, err := h.Svc.ListAudit(r.Context(), circulation.AuditFilter{
		OrganizationID: claims.OrganizationID,
		EntityType:     q.Get("entity_type"),
		EntityID:       q.Get("entity_id"),
		Action:         q.Get("action"),
		Limit:          limit,
	})
	if err != nil {
		circulationError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, events)
}
