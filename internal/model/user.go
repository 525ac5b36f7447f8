package model

import (
	"fmt"
	"time"
)

// User is a member of an organization: staff, borrower, or both.
type User struct {
	ID             string    `json:"id" db:"id"`
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	ExternalID     string    `json:"external_id" db:"external_id"`
	Name           string    `json:"name" db:"name"`
	Role           string    `json:"role" db:"role"`
	Status         string    `json:"status" db:"status"`
	PasswordHash   *string   `json:"-" db:"password_hash"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Roles.
const (
	RoleAdmin     = "admin"
	RoleLibrarian = "librarian"
	RoleTeacher   = "teacher"
	RoleStudent   = "student"
)

// User and location statuses.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// RoleAtLeast checks if role meets or exceeds the minimum required role.
// Teachers and students rank equally as patrons.
func RoleAtLeast(role, minimum string) bool {
	levels := map[string]int{
		RoleAdmin:     3,
		RoleLibrarian: 2,
		RoleTeacher:   1,
		RoleStudent:   1,
	}
	return levels[role] >= levels[minimum] && levels[minimum] > 0
}

// IsStaff reports whether the role may act on other patrons' behalf.
func IsStaff(role string) bool {
	return RoleAtLeast(role, RoleLibrarian)
}

// ValidatePassword checks password requirements.
func ValidatePassword(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	return nil
}
