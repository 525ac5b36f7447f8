package model

import "time"

// ItemCopy is one physical, individually barcoded copy of a title.
type ItemCopy struct {
	ID              string    `json:"id" db:"id"`
	OrganizationID  string    `json:"organization_id" db:"organization_id"`
	BibliographicID string    `json:"bibliographic_id" db:"bibliographic_id"`
	Barcode         string    `json:"barcode" db:"barcode"`
	Status          string    `json:"status" db:"status"`
	LocationID      string    `json:"location_id" db:"location_id"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// Item copy statuses.
const (
	ItemStatusAvailable  = "available"
	ItemStatusCheckedOut = "checked_out"
	ItemStatusOnHold     = "on_hold"
	ItemStatusLost       = "lost"
	ItemStatusWithdrawn  = "withdrawn"
	ItemStatusRepair     = "repair"
)

// BibliographicRecord is the catalog title copies belong to. Only the fields
// circulation needs are kept.
type BibliographicRecord struct {
	ID             string `json:"id" db:"id"`
	OrganizationID string `json:"organization_id" db:"organization_id"`
	Title          string `json:"title" db:"title"`
}
