package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/erazemk/izposoja/internal/model"
)

const policyColumns = `id, organization_id, code, audience_role, loan_days, max_loans, max_renewals,
	max_holds, hold_pickup_days, overdue_block_days, is_active`

// CreatePolicy inserts a circulation policy.
func CreatePolicy(ctx context.Context, q Queryer, p model.Policy) (*model.Policy, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := q.ExecContext(ctx, q.Rebind(
		`INSERT INTO circulation_policies (`+policyColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		p.ID, p.OrganizationID, p.Code, p.AudienceRole, p.LoanDays, p.MaxLoans, p.MaxRenewals,
		p.MaxHolds, p.HoldPickupDays, p.OverdueBlockDays, p.IsActive,
	)
	if err != nil {
		return nil, fmt.Errorf("creating policy: %w", err)
	}
	return &p, nil
}

// GetActivePolicy returns the active policy for an audience role.
func GetActivePolicy(ctx context.Context, q Queryer, orgID, role string) (*model.Policy, error) {
	p := &model.Policy{}
	err := sqlx.GetContext(ctx, q, p, q.Rebind(
		`SELECT `+policyColumns+` FROM circulation_policies
		 WHERE organization_id = ? AND audience_role = ? AND is_active = ?`),
		orgID, role, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting active policy: %w", err)
	}
	return p, nil
}

// DeactivatePolicy marks a policy inactive so another can take its place.
func DeactivatePolicy(ctx context.Context, q Queryer, orgID, id string) error {
	_, err := q.ExecContext(ctx, q.Rebind(
		`UPDATE circulation_policies SET is_active = ? WHERE organization_id = ? AND id = ?`),
		false, orgID, id,
	)
	if err != nil {
		return fmt.Errorf("deactivating policy: %w", err)
	}
	return nil
}
