package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"

	"github.com/erazemk/izposoja/internal/db"
	"github.com/erazemk/izposoja/internal/model"
)

var holdColumns = []any{"id", "organization_id", "bibliographic_id", "user_id", "pickup_location_id",
	"placed_at", "status", "assigned_item_id", "ready_at", "ready_until", "cancelled_at",
	"fulfilled_at", "expired_at"}

const holdSelect = `SELECT id, organization_id, bibliographic_id, user_id, pickup_location_id,
	placed_at, status, assigned_item_id, ready_at, ready_until, cancelled_at,
	fulfilled_at, expired_at FROM holds`

// CreateHold inserts a queued hold.
func CreateHold(ctx context.Context, q Queryer, h *model.Hold) error {
	_, err := q.ExecContext(ctx, q.Rebind(
		`INSERT INTO holds (id, organization_id, bibliographic_id, user_id, pickup_location_id, placed_at, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`),
		h.ID, h.OrganizationID, h.BibliographicID, h.UserID, h.PickupLocationID, h.PlacedAt, model.HoldStatusQueued,
	)
	if err != nil {
		return fmt.Errorf("creating hold: %w", err)
	}
	h.Status = model.HoldStatusQueued
	return nil
}

// GetHold returns a hold by ID within an organization.
func GetHold(ctx context.Context, q Queryer, orgID, id string, lock db.LockMode) (*model.Hold, error) {
	h := &model.Hold{}
	err := sqlx.GetContext(ctx, q, h, q.Rebind(
		holdSelect+` WHERE organization_id = ? AND id = ?`+lockClause(q, lock)), orgID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting hold: %w", err)
	}
	return h, nil
}

// NextQueuedHoldID returns the head of a title's queue: the queued hold with
// the earliest placed_at, ties broken by id. It returns "" for an empty queue.
func NextQueuedHoldID(ctx context.Context, q Queryer, orgID, bibID string) (string, error) {
	var id string
	err := sqlx.GetContext(ctx, q, &id, q.Rebind(
		`SELECT id FROM holds
		 WHERE organization_id = ? AND bibliographic_id = ? AND status = ?
		 ORDER BY placed_at, id LIMIT 1`),
		orgID, bibID, model.HoldStatusQueued)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("finding next queued hold: %w", err)
	}
	return id, nil
}

// HasActiveHold reports whether a borrower already has a queued or ready hold
// on a title.
func HasActiveHold(ctx context.Context, q Queryer, orgID, userID, bibID string) (bool, error) {
	var count int
	err := sqlx.GetContext(ctx, q, &count, q.Rebind(
		`SELECT COUNT(*) FROM holds
		 WHERE organization_id = ? AND user_id = ? AND bibliographic_id = ? AND status IN (?, ?)`),
		orgID, userID, bibID, model.HoldStatusQueued, model.HoldStatusReady)
	if err != nil {
		return false, fmt.Errorf("checking active hold: %w", err)
	}
	return count > 0, nil
}

// CountActiveHolds returns how many queued or ready holds a borrower has.
func CountActiveHolds(ctx context.Context, q Queryer, orgID, userID string) (int, error) {
	var count int
	err := sqlx.GetContext(ctx, q, &count, q.Rebind(
		`SELECT COUNT(*) FROM holds WHERE organization_id = ? AND user_id = ? AND status IN (?, ?)`),
		orgID, userID, model.HoldStatusQueued, model.HoldStatusReady)
	if err != nil {
		return 0, fmt.Errorf("counting active holds: %w", err)
	}
	return count, nil
}

// CountQueuedHolds returns the length of a title's waiting queue.
func CountQueuedHolds(ctx context.Context, q Queryer, orgID, bibID string) (int, error) {
	var count int
	err := sqlx.GetContext(ctx, q, &count, q.Rebind(
		`SELECT COUNT(*) FROM holds WHERE organization_id = ? AND bibliographic_id = ? AND status = ?`),
		orgID, bibID, model.HoldStatusQueued)
	if err != nil {
		return 0, fmt.Errorf("counting queued holds: %w", err)
	}
	return count, nil
}

// ListReadyHoldsForItem returns the ready holds a copy is assigned to. More
// than one means the data is inconsistent.
func ListReadyHoldsForItem(ctx context.Context, q Queryer, orgID, itemID string) ([]model.Hold, error) {
	var holds []model.Hold
	err := sqlx.SelectContext(ctx, q, &holds, q.Rebind(
		holdSelect+` WHERE organization_id = ? AND assigned_item_id = ? AND status = ? ORDER BY ready_at, id`),
		orgID, itemID, model.HoldStatusReady)
	if err != nil {
		return nil, fmt.Errorf("listing ready holds for item: %w", err)
	}
	return holds, nil
}

// MarkHoldReady assigns a copy to a queued hold and opens its pickup window.
// It returns false if the hold was no longer queued.
func MarkHoldReady(ctx context.Context, q Queryer, orgID, id, itemID string, readyAt, readyUntil time.Time) (bool, error) {
	return updateHold(ctx, q, "marking hold ready",
		`UPDATE holds SET status = ?, assigned_item_id = ?, ready_at = ?, ready_until = ?
		 WHERE organization_id = ? AND id = ? AND status = ?`,
		model.HoldStatusReady, itemID, readyAt, readyUntil, orgID, id, model.HoldStatusQueued,
	)
}

// CancelHold cancels a queued or ready hold and releases its copy assignment.
// It returns false if the hold was no longer active.
func CancelHold(ctx context.Context, q Queryer, orgID, id string, now time.Time) (bool, error) {
	return updateHold(ctx, q, "cancelling hold",
		`UPDATE holds SET status = ?, cancelled_at = ?, assigned_item_id = NULL
		 WHERE organization_id = ? AND id = ? AND status IN (?, ?)`,
		model.HoldStatusCancelled, now, orgID, id, model.HoldStatusQueued, model.HoldStatusReady,
	)
}

// FulfillHold marks a ready hold fulfilled. It returns false if the hold was
// no longer ready.
func FulfillHold(ctx context.Context, q Queryer, orgID, id string, now time.Time) (bool, error) {
	return updateHold(ctx, q, "fulfilling hold",
		`UPDATE holds SET status = ?, fulfilled_at = ?
		 WHERE organization_id = ? AND id = ? AND status = ?`,
		model.HoldStatusFulfilled, now, orgID, id, model.HoldStatusReady,
	)
}

// ExpireHold expires a ready hold and releases its copy assignment. It
// returns false if the hold was no longer ready.
func ExpireHold(ctx context.Context, q Queryer, orgID, id string, now time.Time) (bool, error) {
	return updateHold(ctx, q, "expiring hold",
		`UPDATE holds SET status = ?, expired_at = ?, assigned_item_id = NULL
		 WHERE organization_id = ? AND id = ? AND status = ?`,
		model.HoldStatusExpired, now, orgID, id, model.HoldStatusReady,
	)
}

func updateHold(ctx context.Context, q Queryer, what, query string, args ...any) (bool, error) {
	result, err := q.ExecContext(ctx, q.Rebind(query), args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", what, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", what, err)
	}
	return n == 1, nil
}

// ListActiveHoldsForBib returns a title's ready holds (oldest first) followed
// by its queued holds in promotion order.
func ListActiveHoldsForBib(ctx context.Context, q Queryer, orgID, bibID string) ([]model.Hold, error) {
	var holds []model.Hold
	err := sqlx.SelectContext(ctx, q, &holds, q.Rebind(
		holdSelect+` WHERE organization_id = ? AND bibliographic_id = ? AND status IN (?, ?)
		 ORDER BY CASE status WHEN 'ready' THEN 0 ELSE 1 END, ready_at, placed_at, id`),
		orgID, bibID, model.HoldStatusReady, model.HoldStatusQueued)
	if err != nil {
		return nil, fmt.Errorf("listing hold queue: %w", err)
	}
	return holds, nil
}

// HoldFilter narrows ListHolds. Empty fields are ignored.
type HoldFilter struct {
	OrganizationID  string
	BibliographicID string
	UserID          string
	Status          string
	Limit           uint
}

// ListHolds returns holds matching the filter in placement order.
func ListHolds(ctx context.Context, q Queryer, f HoldFilter) ([]model.Hold, error) {
	ds := builder(q).From("holds").Select(holdColumns...).
		Where(goqu.C("organization_id").Eq(f.OrganizationID)).
		Order(goqu.C("placed_at").Asc(), goqu.C("id").Asc()).
		Prepared(true)
	if f.BibliographicID != "" {
		ds = ds.Where(goqu.C("bibliographic_id").Eq(f.BibliographicID))
	}
	if f.UserID != "" {
		ds = ds.Where(goqu.C("user_id").Eq(f.UserID))
	}
	if f.Status != "" {
		ds = ds.Where(goqu.C("status").Eq(f.Status))
	}
	if f.Limit > 0 {
		ds = ds.Limit(f.Limit)
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("building hold query: %w", err)
	}

	var holds []model.Hold
	if err := sqlx.SelectContext(ctx, q, &holds, query, args...); err != nil {
		return nil, fmt.Errorf("listing holds: %w", err)
	}
	return holds, nil
}

// ExpiredReadyHolds selects ready holds whose pickup window closed before
// asOf, earliest deadline first, capped at limit. total counts every match
// regardless of the cap.
func ExpiredReadyHolds(ctx context.Context, q Queryer, orgID string, asOf time.Time, limit uint) (holds []model.Hold, total int, err error) {
	where := []goqu.Expression{
		goqu.C("organization_id").Eq(orgID),
		goqu.C("status").Eq(model.HoldStatusReady),
		goqu.C("ready_until").Lt(asOf),
	}

	countQuery, countArgs, err := builder(q).From("holds").
		Select(goqu.COUNT(goqu.Star())).Where(where...).Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("building expired hold count: %w", err)
	}
	if err := sqlx.GetContext(ctx, q, &total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("counting expired ready holds: %w", err)
	}
	if total == 0 {
		return nil, 0, nil
	}

	query, args, err := builder(q).From("holds").Select(holdColumns...).Where(where...).
		Order(goqu.C("ready_until").Asc(), goqu.C("id").Asc()).
		Limit(limit).Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("building expired hold query: %w", err)
	}
	if err := sqlx.SelectContext(ctx, q, &holds, query, args...); err != nil {
		return nil, 0, fmt.Errorf("selecting expired ready holds: %w", err)
	}
	return holds, total, nil
}
