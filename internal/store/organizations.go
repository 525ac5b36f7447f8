package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/erazemk/izposoja/internal/model"
)

// CreateOrganization creates a new tenant.
func CreateOrganization(ctx context.Context, q Queryer, code, name string, now time.Time) (*model.Organization, error) {
	org := &model.Organization{ID: uuid.NewString(), Code: code, Name: name, CreatedAt: now}
	_, err := q.ExecContext(ctx, q.Rebind(
		`INSERT INTO organizations (id, code, name, created_at) VALUES (?, ?, ?, ?)`),
		org.ID, org.Code, org.Name, org.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("creating organization: %w", err)
	}
	return org, nil
}

// GetOrganizationByCode returns an organization by its unique code.
func GetOrganizationByCode(ctx context.Context, q Queryer, code string) (*model.Organization, error) {
	org := &model.Organization{}
	err := sqlx.GetContext(ctx, q, org, q.Rebind(
		`SELECT id, code, name, created_at FROM organizations WHERE code = ?`), code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting organization: %w", err)
	}
	return org, nil
}

// GetOrganization returns an organization by ID.
func GetOrganization(ctx context.Context, q Queryer, id string) (*model.Organization, error) {
	org := &model.Organization{}
	err := sqlx.GetContext(ctx, q, org, q.Rebind(
		`SELECT id, code, name, created_at FROM organizations WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting organization: %w", err)
	}
	return org, nil
}

// ListOrganizations returns all organizations ordered by code.
func ListOrganizations(ctx context.Context, q Queryer) ([]model.Organization, error) {
	var orgs []model.Organization
	if err := sqlx.SelectContext(ctx, q, &orgs,
		`SELECT id, code, name, created_at FROM organizations ORDER BY code`); err != nil {
		return nil, fmt.Errorf("listing organizations: %w", err)
	}
	return orgs, nil
}

// CreateLocation creates a pickup/shelving location.
func CreateLocation(ctx context.Context, q Queryer, orgID, code, name, status string) (*model.Location, error) {
	loc := &model.Location{ID: uuid.NewString(), OrganizationID: orgID, Code: code, Name: name, Status: status}
	_, err := q.ExecContext(ctx, q.Rebind(
		`INSERT INTO locations (id, organization_id, code, name, status) VALUES (?, ?, ?, ?, ?)`),
		loc.ID, loc.OrganizationID, loc.Code, loc.Name, loc.Status,
	)
	if err != nil {
		return nil, fmt.Errorf("creating location: %w", err)
	}
	return loc, nil
}

// GetLocation returns a location within an organization.
func GetLocation(ctx context.Context, q Queryer, orgID, id string) (*model.Location, error) {
	loc := &model.Location{}
	err := sqlx.GetContext(ctx, q, loc, q.Rebind(
		`SELECT id, organization_id, code, name, status FROM locations
		 WHERE organization_id = ? AND id = ?`), orgID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting location: %w", err)
	}
	return loc, nil
}

// CreateBib creates the minimal catalog record copies and holds refer to.
func CreateBib(ctx context.Context, q Queryer, orgID, title string) (*model.BibliographicRecord, error) {
	bib := &model.BibliographicRecord{ID: uuid.NewString(), OrganizationID: orgID, Title: title}
	_, err := q.ExecContext(ctx, q.Rebind(
		`INSERT INTO bibliographic_records (id, organization_id, title) VALUES (?, ?, ?)`),
		bib.ID, bib.OrganizationID, bib.Title,
	)
	if err != nil {
		return nil, fmt.Errorf("creating bibliographic record: %w", err)
	}
	return bib, nil
}

// GetBib returns a bibliographic record within an organization.
func GetBib(ctx context.Context, q Queryer, orgID, id string) (*model.BibliographicRecord, error) {
	bib := &model.BibliographicRecord{}
	err := sqlx.GetContext(ctx, q, bib, q.Rebind(
		`SELECT id, organization_id, title FROM bibliographic_records
		 WHERE organization_id = ? AND id = ?`), orgID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting bibliographic record: %w", err)
	}
	return bib, nil
}
