package circulation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/erazemk/izposoja/internal/db"
	"github.com/erazemk/izposoja/internal/model"
	"github.com/erazemk/izposoja/internal/store"
)

// CheckoutRequest asks to lend a copy to a borrower.
type CheckoutRequest struct {
	OrgID              string
	BorrowerExternalID string
	ItemBarcode        string
	ActorID            string
}

// CheckoutResult describes a new loan. FulfilledHoldID is set when the copy
// was waiting on the hold shelf for this borrower and the checkout picked it up.
type CheckoutResult struct {
	LoanID          string    `json:"loan_id"`
	ItemID          string    `json:"item_id"`
	UserID          string    `json:"user_id"`
	DueAt           time.Time `json:"due_at"`
	FulfilledHoldID *string   `json:"fulfilled_hold_id,omitempty"`
}

// Checkout lends an available copy to an active borrower within the limits
// of the borrower's policy.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	var result *CheckoutResult
	err := s.withTx(ctx, ActionCheckout, func(tx *sqlx.Tx) error {
		now := s.clock()

		a, err := loadActor(ctx, tx, req.OrgID, req.ActorID)
		if err != nil {
			return err
		}

		item, err := store.GetItemByBarcode(ctx, tx, req.OrgID, req.ItemBarcode, db.LockForUpdate)
		if err != nil {
			return err
		}
		if item == nil {
			return notFound("item %q not found", req.ItemBarcode)
		}

		borrower, err := store.GetUserByExternalID(ctx, tx, req.OrgID, req.BorrowerExternalID, db.LockForUpdate)
		if err != nil {
			return err
		}
		if borrower == nil {
			return notFound("borrower %q not found", req.BorrowerExternalID)
		}

		if borrower.Status != model.StatusActive {
			return policyViolation(CodeBorrowerInactive, map[string]any{"user_id": borrower.ID},
				"borrower %q is inactive", borrower.ExternalID)
		}

		if item.Status == model.ItemStatusOnHold {
			h, err := heldFor(ctx, tx, item, borrower.ID)
			if err != nil {
				return err
			}
			fr, err := s.fulfillLocked(ctx, tx, a, h, now)
			if err != nil {
				return err
			}
			result = &CheckoutResult{
				LoanID: fr.LoanID, ItemID: fr.ItemID, UserID: fr.UserID, DueAt: fr.DueAt,
				FulfilledHoldID: &fr.HoldID,
			}
			return nil
		}

		if item.Status != model.ItemStatusAvailable {
			return itemNotAvailable(item, "item %q is %s and cannot be checked out", item.Barcode, item.Status)
		}

		policy, err := resolvePolicy(ctx, tx, req.OrgID, borrower.Role)
		if err != nil {
			return err
		}
		if err := checkBorrowingLimits(ctx, tx, borrower, policy, now); err != nil {
			return err
		}

		loan, err := openLoan(ctx, tx, item, borrower.ID, policy, now)
		if err != nil {
			return err
		}

		result = &CheckoutResult{LoanID: loan.ID, ItemID: item.ID, UserID: borrower.ID, DueAt: loan.DueAt}
		return s.audit(ctx, tx, req.OrgID, a, ActionCheckout, EntityLoan, loan.ID, map[string]any{
			"item_id": item.ID,
			"barcode": item.Barcode,
			"user_id": borrower.ID,
			"due_at":  loan.DueAt,
		}, now)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("item checked out", "organization_id", req.OrgID, "loan_id", result.LoanID,
		"item_id", result.ItemID, "user_id", result.UserID, "actor_id", req.ActorID)
	return result, nil
}

// heldFor returns the locked ready hold an on_hold copy is set aside for, if
// it belongs to userID.
func heldFor(ctx context.Context, q store.Queryer, item *model.ItemCopy, userID string) (*model.Hold, error) {
	holds, err := store.ListReadyHoldsForItem(ctx, q, item.OrganizationID, item.ID)
	if err != nil {
		return nil, err
	}
	if len(holds) != 1 || holds[0].UserID != userID {
		return nil, itemNotAvailable(item, "item %q is on hold for another borrower", item.Barcode)
	}
	return store.GetHold(ctx, q, item.OrganizationID, holds[0].ID, db.LockForUpdate)
}

// checkBorrowingLimits rejects a borrower at or over max_loans, or with an
// open loan overdue by overdue_block_days whole days or more.
func checkBorrowingLimits(ctx context.Context, q store.Queryer, borrower *model.User, policy *model.Policy, now time.Time) error {
	loans, err := store.ListOpenLoansByUser(ctx, q, borrower.OrganizationID, borrower.ID)
	if err != nil {
		return err
	}

	if len(loans) >= policy.MaxLoans {
		return policyViolation(CodeMaxLoansExceeded,
			map[string]any{"max_loans": policy.MaxLoans, "open_loans": len(loans)},
			"borrower %q has %d open loans, the limit is %d", borrower.ExternalID, len(loans), policy.MaxLoans)
	}

	overdue, maxDays := 0, 0
	for i := range loans {
		d, ok := loans[i].DaysOverdue(now)
		if !ok {
			continue
		}
		overdue++
		maxDays = max(maxDays, d)
	}
	if overdue > 0 && maxDays >= policy.OverdueBlockDays {
		return policyViolation(CodeOverdueBlock,
			map[string]any{
				"overdue_block_days": policy.OverdueBlockDays,
				"max_days_overdue":   maxDays,
				"overdue_loan_count": overdue,
			},
			"blocked: %d overdue loans, %d days overdue reaches the %d-day threshold",
			overdue, maxDays, policy.OverdueBlockDays)
	}
	return nil
}

// openLoan creates a loan for a locked copy and marks the copy checked out.
func openLoan(ctx context.Context, q store.Queryer, item *model.ItemCopy, userID string, policy *model.Policy, now time.Time) (*model.Loan, error) {
	loan := &model.Loan{
		ID:             uuid.NewString(),
		OrganizationID: item.OrganizationID,
		ItemID:         item.ID,
		UserID:         userID,
		CheckedOutAt:   now,
		DueAt:          now.Add(days(policy.LoanDays)),
	}
	if err := store.CreateLoan(ctx, q, loan); err != nil {
		return nil, err
	}
	if err := transitionItem(ctx, q, item, model.ItemStatusCheckedOut, now); err != nil {
		return nil, err
	}
	return loan, nil
}

// CheckinRequest asks to return a copy.
type CheckinRequest struct {
	OrgID       string
	ItemBarcode string
	ActorID     string
}

// CheckinResult describes a return. HoldID and ReadyUntil are set when the
// copy went straight to the hold shelf.
type CheckinResult struct {
	LoanID     string     `json:"loan_id"`
	ItemID     string     `json:"item_id"`
	ItemStatus string     `json:"item_status"`
	HoldID     *string    `json:"hold_id"`
	ReadyUntil *time.Time `json:"ready_until"`
}

// Checkin closes a copy's open loan and hands the copy to the head of its
// title's hold queue, or shelves it as available.
func (s *Service) Checkin(ctx context.Context, req CheckinRequest) (*CheckinResult, error) {
	var result *CheckinResult
	err := s.withTx(ctx, ActionCheckin, func(tx *sqlx.Tx) error {
		now := s.clock()

		a, err := loadActor(ctx, tx, req.OrgID, req.ActorID)
		if err != nil {
			return err
		}

		item, err := store.GetItemByBarcode(ctx, tx, req.OrgID, req.ItemBarcode, db.LockForUpdate)
		if err != nil {
			return err
		}
		if item == nil {
			return notFound("item %q not found", req.ItemBarcode)
		}

		loan, err := store.GetOpenLoanByItem(ctx, tx, req.OrgID, item.ID, db.LockForUpdate)
		if err != nil {
			return err
		}
		if loan == nil {
			return notFound("item %q has no open loan", item.Barcode)
		}

		ok, err := store.CloseLoan(ctx, tx, req.OrgID, loan.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return conflict("loan %s was closed concurrently", loan.ID)
		}

		p, err := promote(ctx, tx, item, now)
		if err != nil {
			return err
		}

		result = &CheckinResult{LoanID: loan.ID, ItemID: item.ID, ItemStatus: p.After}
		if p.Hold != nil {
			result.HoldID = &p.Hold.ID
			result.ReadyUntil = p.Hold.ReadyUntil
		}

		return s.audit(ctx, tx, req.OrgID, a, ActionCheckin, EntityLoan, loan.ID, map[string]any{
			"item_id":     item.ID,
			"barcode":     item.Barcode,
			"item_status": p.After,
			"hold_id":     result.HoldID,
		}, now)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("item checked in", "organization_id", req.OrgID, "loan_id", result.LoanID,
		"item_id", result.ItemID, "item_status", result.ItemStatus, "actor_id", req.ActorID)
	return result, nil
}

// RenewRequest asks to extend an open loan.
type RenewRequest struct {
	OrgID   string
	LoanID  string
	ActorID string
}

// RenewResult describes a renewed loan.
type RenewResult struct {
	LoanID       string    `json:"loan_id"`
	DueAt        time.Time `json:"due_at"`
	RenewedCount int       `json:"renewed_count"`
}

// Renew resets an open loan's due date to now plus the policy's loan_days.
// Renewals are capped by max_renewals and refused while anyone is queued for
// the title. Only the borrower or staff may renew.
func (s *Service) Renew(ctx context.Context, req RenewRequest) (*RenewResult, error) {
	var result *RenewResult
	err := s.withTx(ctx, ActionRenew, func(tx *sqlx.Tx) error {
		now := s.clock()

		a, err := loadActor(ctx, tx, req.OrgID, req.ActorID)
		if err != nil {
			return err
		}

		loan, err := store.GetLoan(ctx, tx, req.OrgID, req.LoanID, db.LockForUpdate)
		if err != nil {
			return err
		}
		if loan == nil {
			return notFound("loan %s not found", req.LoanID)
		}
		if !a.staff() && !a.is(loan.UserID) {
			return policyViolation(CodeNotLoanOwner, nil, "only the borrower or staff may renew loan %s", loan.ID)
		}
		if loan.Status != model.LoanStatusOpen {
			return invalidTransition("loan %s is %s and cannot be renewed", loan.ID, loan.Status)
		}

		borrower, err := store.GetUser(ctx, tx, req.OrgID, loan.UserID, db.LockNone)
		if err != nil {
			return err
		}
		if borrower == nil {
			return notFound("borrower %s not found", loan.UserID)
		}
		policy, err := resolvePolicy(ctx, tx, req.OrgID, borrower.Role)
		if err != nil {
			return err
		}

		if loan.RenewedCount >= policy.MaxRenewals {
			return policyViolation(CodeMaxRenewalsExceeded,
				map[string]any{"max_renewals": policy.MaxRenewals, "renewed_count": loan.RenewedCount},
				"loan %s was renewed %d times, the limit is %d", loan.ID, loan.RenewedCount, policy.MaxRenewals)
		}

		item, err := store.GetItem(ctx, tx, req.OrgID, loan.ItemID, db.LockNone)
		if err != nil {
			return err
		}
		if item == nil {
			return notFound("item %s not found", loan.ItemID)
		}
		queued, err := store.CountQueuedHolds(ctx, tx, req.OrgID, item.BibliographicID)
		if err != nil {
			return err
		}
		if queued > 0 {
			return policyViolation(CodeHoldQueueWaiting, map[string]any{"queued_holds": queued},
				"cannot renew: %d holds are waiting for this title", queued)
		}

		dueAt := now.Add(days(policy.LoanDays))
		ok, err := store.RenewLoan(ctx, tx, req.OrgID, loan.ID, dueAt, loan.RenewedCount)
		if err != nil {
			return err
		}
		if !ok {
			return conflict("loan %s changed concurrently", loan.ID)
		}

		result = &RenewResult{LoanID: loan.ID, DueAt: dueAt, RenewedCount: loan.RenewedCount + 1}
		return s.audit(ctx, tx, req.OrgID, a, ActionRenew, EntityLoan, loan.ID, map[string]any{
			"due_at_before": loan.DueAt,
			"due_at":        dueAt,
			"renewed_count": result.RenewedCount,
		}, now)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("loan renewed", "organization_id", req.OrgID, "loan_id", result.LoanID,
		"renewed_count", result.RenewedCount, "actor_id", req.ActorID)
	return result, nil
}

// LoanFilter narrows ListLoans.
type LoanFilter = store.LoanFilter

// ListLoans returns loans matching the filter, most recent first.
func (s *Service) ListLoans(ctx context.Context, f LoanFilter) ([]model.Loan, error) {
	loans, err := store.ListLoans(ctx, s.db, f)
	if err != nil {
		return nil, err
	}
	if loans == nil {
		loans = []model.Loan{}
	}
	return loans, nil
}

// GetLoan returns a loan by ID.
func (s *Service) GetLoan(ctx context.Context, orgID, id string) (*model.Loan, error) {
	loan, err := store.GetLoan(ctx, s.db, orgID, id, db.LockNone)
	if err != nil {
		return nil, err
	}
	if loan == nil {
		return nil, notFound("loan %s not found", id)
	}
	return loan, nil
}
