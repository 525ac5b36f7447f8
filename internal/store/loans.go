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

var loanColumns = []any{"id", "organization_id", "item_id", "user_id", "checked_out_at", "due_at",
	"returned_at", "renewed_count", "status"}

const loanSelect = `SELECT id, organization_id, item_id, user_id, checked_out_at, due_at,
	returned_at, renewed_count, status FROM loans`

// CreateLoan inserts an open loan.
func CreateLoan(ctx context.Context, q Queryer, l *model.Loan) error {
	_, err := q.ExecContext(ctx, q.Rebind(
		`INSERT INTO loans (id, organization_id, item_id, user_id, checked_out_at, due_at, renewed_count, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		l.ID, l.OrganizationID, l.ItemID, l.UserID, l.CheckedOutAt, l.DueAt, l.RenewedCount, model.LoanStatusOpen,
	)
	if err != nil {
		return fmt.Errorf("creating loan: %w", err)
	}
	l.Status = model.LoanStatusOpen
	return nil
}

// GetLoan returns a loan by ID within an organization.
func GetLoan(ctx context.Context, q Queryer, orgID, id string, lock db.LockMode) (*model.Loan, error) {
	l := &model.Loan{}
	err := sqlx.GetContext(ctx, q, l, q.Rebind(
		loanSelect+` WHERE organization_id = ? AND id = ?`+lockClause(q, lock)), orgID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting loan: %w", err)
	}
	return l, nil
}

// GetOpenLoanByItem returns the open loan of a copy, if any.
func GetOpenLoanByItem(ctx context.Context, q Queryer, orgID, itemID string, lock db.LockMode) (*model.Loan, error) {
	l := &model.Loan{}
	err := sqlx.GetContext(ctx, q, l, q.Rebind(
		loanSelect+` WHERE organization_id = ? AND item_id = ? AND status = ?`+lockClause(q, lock)),
		orgID, itemID, model.LoanStatusOpen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting open loan: %w", err)
	}
	return l, nil
}

// ListOpenLoansByUser returns a borrower's open loans, oldest due date first.
func ListOpenLoansByUser(ctx context.Context, q Queryer, orgID, userID string) ([]model.Loan, error) {
	var loans []model.Loan
	err := sqlx.SelectContext(ctx, q, &loans, q.Rebind(
		loanSelect+` WHERE organization_id = ? AND user_id = ? AND status = ? ORDER BY due_at, id`),
		orgID, userID, model.LoanStatusOpen)
	if err != nil {
		return nil, fmt.Errorf("listing open loans: %w", err)
	}
	return loans, nil
}

// CloseLoan marks an open loan returned. It returns false if the loan was
// already closed.
func CloseLoan(ctx context.Context, q Queryer, orgID, id string, returnedAt time.Time) (bool, error) {
	result, err := q.ExecContext(ctx, q.Rebind(
		`UPDATE loans SET status = ?, returned_at = ?
		 WHERE organization_id = ? AND id = ? AND status = ?`),
		model.LoanStatusClosed, returnedAt, orgID, id, model.LoanStatusOpen,
	)
	if err != nil {
		return false, fmt.Errorf("closing loan: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking loan close: %w", err)
	}
	return n == 1, nil
}

// RenewLoan moves the due date of an open loan and bumps its renewal count.
// It returns false if the loan changed since renewedCount was read.
func RenewLoan(ctx context.Context, q Queryer, orgID, id string, dueAt time.Time, renewedCount int) (bool, error) {
	result, err := q.ExecContext(ctx, q.Rebind(
		`UPDATE loans SET due_at = ?, renewed_count = ?
		 WHERE organization_id = ? AND id = ? AND status = ? AND renewed_count = ?`),
		dueAt, renewedCount+1, orgID, id, model.LoanStatusOpen, renewedCount,
	)
	if err != nil {
		return false, fmt.Errorf("renewing loan: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking loan renewal: %w", err)
	}
	return n == 1, nil
}

// LoanFilter narrows ListLoans. Empty fields are ignored.
type LoanFilter struct {
	OrganizationID string
	UserID         string
	ItemID         string
	Status         string
	Limit          uint
}

// ListLoans returns loans matching the filter, most recent checkout first.
func ListLoans(ctx context.Context, q Queryer, f LoanFilter) ([]model.Loan, error) {
	ds := builder(q).From("loans").Select(loanColumns...).
		Where(goqu.C("organization_id").Eq(f.OrganizationID)).
		Order(goqu.C("checked_out_at").Desc(), goqu.C("id").Asc()).
		Prepared(true)
	if f.UserID != "" {
		ds = ds.Where(goqu.C("user_id").Eq(f.UserID))
	}
	if f.ItemID != "" {
		ds = ds.Where(goqu.C("item_id").Eq(f.ItemID))
	}
	if f.Status != "" {
		ds = ds.Where(goqu.C("status").Eq(f.Status))
	}
	if f.Limit > 0 {
		ds = ds.Limit(f.Limit)
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("building loan query: %w", err)
	}

	var loans []model.Loan
	if err := sqlx.SelectContext(ctx, q, &loans, query, args...); err != nil {
		return nil, fmt.Errorf("listing loans: %w", err)
	}
	return loans, nil
}
