package model

import "time"

// Hold is a patron's reservation for the next available copy of a title.
type Hold struct {
	ID               string     `json:"id" db:"id"`
	OrganizationID   string     `json:"organization_id" db:"organization_id"`
	BibliographicID  string     `json:"bibliographic_id" db:"bibliographic_id"`
	UserID           string     `json:"user_id,omitempty" db:"user_id"`
	PickupLocationID string     `json:"pickup_location_id" db:"pickup_location_id"`
	PlacedAt         time.Time  `json:"placed_at" db:"placed_at"`
	Status           string     `json:"status" db:"status"`
	AssignedItemID   *string    `json:"assigned_item_id,omitempty" db:"assigned_item_id"`
	ReadyAt          *time.Time `json:"ready_at,omitempty" db:"ready_at"`
	ReadyUntil       *time.Time `json:"ready_until,omitempty" db:"ready_until"`
	CancelledAt      *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`
	FulfilledAt      *time.Time `json:"fulfilled_at,omitempty" db:"fulfilled_at"`
	ExpiredAt        *time.Time `json:"expired_at,omitempty" db:"expired_at"`
}

// Hold statuses.
const (
	HoldStatusQueued    = "queued"
	HoldStatusReady     = "ready"
	HoldStatusCancelled = "cancelled"
	HoldStatusFulfilled = "fulfilled"
	HoldStatusExpired   = "expired"
)

// Active reports whether the hold still occupies a place in the queue.
func (h *Hold) Active() bool {
	return h.Status == HoldStatusQueued || h.Status == HoldStatusReady
}
