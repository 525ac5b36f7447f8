package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/erazemk/izposoja/internal/db"
	"github.com/erazemk/izposoja/internal/model"
)

const userColumns = `id, organization_id, external_id, name, role, status, password_hash, created_at`

// NewUser describes a user to create.
type NewUser struct {
	ID           string
	ExternalID   string
	Name         string
	Role         string
	Status       string
	PasswordHash string
}

// CreateUser creates a new user in an organization.
func CreateUser(ctx context.Context, q Queryer, orgID string, u NewUser, now time.Time) (*model.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Status == "" {
		u.Status = model.StatusActive
	}
	var hash *string
	if u.PasswordHash != "" {
		hash = &u.PasswordHash
	}

	_, err := q.ExecContext(ctx, q.Rebind(
		`INSERT INTO users (id, organization_id, external_id, name, role, status, password_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		u.ID, orgID, u.ExternalID, u.Name, u.Role, u.Status, hash, now,
	)
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}

	return GetUser(ctx, q, orgID, u.ID, db.LockNone)
}

// GetUser returns a user by ID within an organization.
func GetUser(ctx context.Context, q Queryer, orgID, id string, lock db.LockMode) (*model.User, error) {
	u := &model.User{}
	err := sqlx.GetContext(ctx, q, u, q.Rebind(
		`SELECT `+userColumns+` FROM users WHERE organization_id = ? AND id = ?`+lockClause(q, lock)),
		orgID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return u, nil
}

// GetUserByExternalID returns a user by the organization's own identifier
// (student number, staff login).
func GetUserByExternalID(ctx context.Context, q Queryer, orgID, externalID string, lock db.LockMode) (*model.User, error) {
	u := &model.User{}
	err := sqlx.GetContext(ctx, q, u, q.Rebind(
		`SELECT `+userColumns+` FROM users WHERE organization_id = ? AND external_id = ?`+lockClause(q, lock)),
		orgID, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user by external id: %w", err)
	}
	return u, nil
}

// UpdateUserPassword changes a user's password hash.
func UpdateUserPassword(ctx context.Context, q Queryer, orgID, id, passwordHash string) error {
	_, err := q.ExecContext(ctx, q.Rebind(
		`UPDATE users SET password_hash = ? WHERE organization_id = ? AND id = ?`),
		passwordHash, orgID, id,
	)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	return nil
}

// SetUserStatus activates or deactivates a user.
func SetUserStatus(ctx context.Context, q Queryer, orgID, id, status string) error {
	_, err := q.ExecContext(ctx, q.Rebind(
		`UPDATE users SET status = ? WHERE organization_id = ? AND id = ?`),
		status, orgID, id,
	)
	if err != nil {
		return fmt.Errorf("updating user status: %w", err)
	}
	return nil
}
