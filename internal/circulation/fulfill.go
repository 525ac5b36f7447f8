package circulation

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/erazemk/izposoja/internal/db"
	"github.com/erazemk/izposoja/internal/model"
	"github.com/erazemk/izposoja/internal/store"
)

// FulfillRequest asks to lend a ready hold's copy to its borrower.
type FulfillRequest struct {
	OrgID   string
	HoldID  string
	ActorID string
}

// FulfillByBarcodeRequest identifies the hold to fulfill by the scanned copy.
type FulfillByBarcodeRequest struct {
	OrgID       string
	ItemBarcode string
	ActorID     string
}

// FulfillResult describes the loan created at pickup.
type FulfillResult struct {
	HoldID      string    `json:"hold_id"`
	LoanID      string    `json:"loan_id"`
	ItemID      string    `json:"item_id"`
	ItemBarcode string    `json:"item_barcode"`
	UserID      string    `json:"user_id"`
	DueAt       time.Time `json:"due_at"`
}

// Fulfill turns a ready, unexpired hold into a loan of its assigned copy.
func (s *Service) Fulfill(ctx context.Context, req FulfillRequest) (*FulfillResult, error) {
	var result *FulfillResult
	err := s.withTx(ctx, ActionFulfill, func(tx *sqlx.Tx) error {
		now := s.clock()

		a, err := loadActor(ctx, tx, req.OrgID, req.ActorID)
		if err != nil {
			return err
		}

		h, err := store.GetHold(ctx, tx, req.OrgID, req.HoldID, db.LockForUpdate)
		if err != nil {
			return err
		}
		if h == nil {
			return notFound("hold %s not found", req.HoldID)
		}

		result, err = s.fulfillLocked(ctx, tx, a, h, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logFulfilled(req.OrgID, result, req.ActorID)
	return result, nil
}

// FulfillByBarcode fulfills the ready hold a scanned copy is set aside for.
// Several ready holds on one copy are never guessed between: the Conflict
// error lists them all under detail "candidates".
func (s *Service) FulfillByBarcode(ctx context.Context, req FulfillByBarcodeRequest) (*FulfillResult, error) {
	var result *FulfillResult
	err := s.withTx(ctx, ActionFulfill, func(tx *sqlx.Tx) error {
		now := s.clock()

		a, err := loadActor(ctx, tx, req.OrgID, req.ActorID)
		if err != nil {
			return err
		}

		item, err := store.GetItemByBarcode(ctx, tx, req.OrgID, req.ItemBarcode, db.LockNone)
		if err != nil {
			return err
		}
		if item == nil {
			return notFound("item %q not found", req.ItemBarcode)
		}

		holds, err := store.ListReadyHoldsForItem(ctx, tx, req.OrgID, item.ID)
		if err != nil {
			return err
		}
		switch {
		case len(holds) == 0:
			return notFound("no ready hold is assigned to item %q", item.Barcode)
		case len(holds) > 1:
			return &Error{
				Kind:    KindConflict,
				Code:    CodeAmbiguousHolds,
				Message: fmt.Sprintf("%d ready holds are assigned to item %q, choose one", len(holds), item.Barcode),
				Detail:  map[string]any{"item_id": item.ID, "candidates": holds},
			}
		}

		h, err := store.GetHold(ctx, tx, req.OrgID, holds[0].ID, db.LockForUpdate)
		if err != nil {
			return err
		}
		result, err = s.fulfillLocked(ctx, tx, a, h, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logFulfilled(req.OrgID, result, req.ActorID)
	return result, nil
}

// fulfillLocked lends the assigned copy of a locked hold. Borrowing limits
// are not re-checked: the copy was set aside under the same policy.
func (s *Service) fulfillLocked(ctx context.Context, tx *sqlx.Tx, a actor, h *model.Hold, now time.Time) (*FulfillResult, error) {
	if h == nil {
		return nil, conflict("hold left the ready state concurrently")
	}
	if h.Status != model.HoldStatusReady || h.AssignedItemID == nil {
		return nil, invalidTransition("hold %s is %s, not ready", h.ID, h.Status)
	}
	if h.ReadyUntil != nil && h.ReadyUntil.Before(now) {
		return nil, policyViolation(CodeHoldPickupExpired, map[string]any{"ready_until": h.ReadyUntil},
			"hold %s pickup window closed at %s", h.ID, h.ReadyUntil.Format(time.RFC3339))
	}

	item, err := store.GetItem(ctx, tx, h.OrganizationID, *h.AssignedItemID, db.LockForUpdate)
	if err != nil {
		return nil, err
	}
	if item == nil || item.Status != model.ItemStatusOnHold {
		return nil, conflict("the copy assigned to hold %s is no longer on the hold shelf", h.ID)
	}

	borrower, err := store.GetUser(ctx, tx, h.OrganizationID, h.UserID, db.LockNone)
	if err != nil {
		return nil, err
	}
	if borrower == nil {
		return nil, notFound("borrower %s not found", h.UserID)
	}
	if borrower.Status != model.StatusActive {
		return nil, policyViolation(CodeBorrowerInactive, map[string]any{"user_id": borrower.ID},
			"borrower %q is inactive", borrower.ExternalID)
	}
	policy, err := resolvePolicy(ctx, tx, h.OrganizationID, borrower.Role)
	if err != nil {
		return nil, err
	}

	loan, err := openLoan(ctx, tx, item, borrower.ID, policy, now)
	if err != nil {
		return nil, err
	}

	ok, err := store.FulfillHold(ctx, tx, h.OrganizationID, h.ID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conflict("hold %s changed concurrently", h.ID)
	}

	result := &FulfillResult{
		HoldID:      h.ID,
		LoanID:      loan.ID,
		ItemID:      item.ID,
		ItemBarcode: item.Barcode,
		UserID:      borrower.ID,
		DueAt:       loan.DueAt,
	}
	err = s.audit(ctx, tx, h.OrganizationID, a, ActionFulfill, EntityHold, h.ID, map[string]any{
		"loan_id": loan.ID,
		"item_id": item.ID,
		"user_id": borrower.ID,
		"due_at":  loan.DueAt,
	}, now)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) logFulfilled(orgID string, r *FulfillResult, actorID string) {
	s.logger.Info("hold fulfilled", "organization_id", orgID, "hold_id", r.HoldID,
		"loan_id", r.LoanID, "item_id", r.ItemID, "user_id", r.UserID, "actor_id", actorID)
}
