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

const itemColumns = `id, organization_id, bibliographic_id, barcode, status, location_id, created_at, updated_at`

// CreateItemCopy registers a new available copy of a title.
func CreateItemCopy(ctx context.Context, q Queryer, orgID, bibID, barcode, locationID string, now time.Time) (*model.ItemCopy, error) {
	item := &model.ItemCopy{
		ID:              uuid.NewString(),
		OrganizationID:  orgID,
		BibliographicID: bibID,
		Barcode:         barcode,
		Status:          model.ItemStatusAvailable,
		LocationID:      locationID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	_, err := q.ExecContext(ctx, q.Rebind(
		`INSERT INTO item_copies (`+itemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		item.ID, item.OrganizationID, item.BibliographicID, item.Barcode, item.Status,
		item.LocationID, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("creating item copy: %w", err)
	}
	return item, nil
}

// GetItem returns a copy by ID within an organization.
func GetItem(ctx context.Context, q Queryer, orgID, id string, lock db.LockMode) (*model.ItemCopy, error) {
	item := &model.ItemCopy{}
	err := sqlx.GetContext(ctx, q, item, q.Rebind(
		`SELECT `+itemColumns+` FROM item_copies WHERE organization_id = ? AND id = ?`+lockClause(q, lock)),
		orgID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item copy: %w", err)
	}
	return item, nil
}

// GetItemByBarcode returns a copy by its barcode within an organization.
func GetItemByBarcode(ctx context.Context, q Queryer, orgID, barcode string, lock db.LockMode) (*model.ItemCopy, error) {
	item := &model.ItemCopy{}
	err := sqlx.GetContext(ctx, q, item, q.Rebind(
		`SELECT `+itemColumns+` FROM item_copies WHERE organization_id = ? AND barcode = ?`+lockClause(q, lock)),
		orgID, barcode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item copy by barcode: %w", err)
	}
	return item, nil
}

// ListItemsByBib returns all copies of a title ordered by barcode.
func ListItemsByBib(ctx context.Context, q Queryer, orgID, bibID string) ([]model.ItemCopy, error) {
	var items []model.ItemCopy
	err := sqlx.SelectContext(ctx, q, &items, q.Rebind(
		`SELECT `+itemColumns+` FROM item_copies
		 WHERE organization_id = ? AND bibliographic_id = ? ORDER BY barcode`), orgID, bibID)
	if err != nil {
		return nil, fmt.Errorf("listing item copies: %w", err)
	}
	return items, nil
}

// CompareAndSetItemStatus moves a copy from one status to another. It returns
// false when the copy's status was no longer from, leaving it untouched.
func CompareAndSetItemStatus(ctx context.Context, q Queryer, orgID, id, from, to string, now time.Time) (bool, error) {
	result, err := q.ExecContext(ctx, q.Rebind(
		`UPDATE item_copies SET status = ?, updated_at = ?
		 WHERE organization_id = ? AND id = ? AND status = ?`),
		to, now, orgID, id, from,
	)
	if err != nil {
		return false, fmt.Errorf("updating item status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking item status update: %w", err)
	}
	return n == 1, nil
}
