package model

import "time"

// Organization is a tenant. Every other entity belongs to exactly one.
type Organization struct {
	ID        string    `json:"id" db:"id"`
	Code      string    `json:"code" db:"code"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Location is a branch or shelf area where copies live and holds are picked up.
type Location struct {
	ID             string `json:"id" db:"id"`
	OrganizationID string `json:"organization_id" db:"organization_id"`
	Code           string `json:"code" db:"code"`
	Name           string `json:"name" db:"name"`
	Status         string `json:"status" db:"status"`
}

// AuditEvent is one persisted record of a mutating action.
type AuditEvent struct {
	ID             string    `json:"id" db:"id"`
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	ActorUserID    *string   `json:"actor_user_id,omitempty" db:"actor_user_id"`
	Action         string    `json:"action" db:"action"`
	EntityType     string    `json:"entity_type" db:"entity_type"`
	EntityID       string    `json:"entity_id" db:"entity_id"`
	Metadata       string    `json:"metadata" db:"metadata"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
