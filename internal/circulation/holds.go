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

// promotion is what promote did with a freed copy.
type promotion struct {
	// Hold is the hold that became ready, or nil if the queue was empty.
	Hold   *model.Hold
	Before string
	After  string
}

// promote hands a freed copy to the head of its title's queue: the queued
// hold with the earliest placed_at, ties broken by id. The copy goes on_hold
// for it, or back to available when nobody is waiting. The copy must already
// be locked by the caller.
func promote(ctx context.Context, q store.Queryer, item *model.ItemCopy, now time.Time) (*promotion, error) {
	p := &promotion{Before: item.Status}

	h, err := nextQueuedHold(ctx, q, item.OrganizationID, item.BibliographicID)
	if err != nil {
		return nil, err
	}
	if h == nil {
		if err := transitionItem(ctx, q, item, model.ItemStatusAvailable, now); err != nil {
			return nil, err
		}
		p.After = item.Status
		return p, nil
	}

	owner, err := store.GetUser(ctx, q, item.OrganizationID, h.UserID, db.LockNone)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, notFound("hold %s borrower %s not found", h.ID, h.UserID)
	}
	policy, err := resolvePolicy(ctx, q, item.OrganizationID, owner.Role)
	if err != nil {
		return nil, err
	}

	readyUntil := now.Add(days(policy.HoldPickupDays))
	ok, err := store.MarkHoldReady(ctx, q, item.OrganizationID, h.ID, item.ID, now, readyUntil)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conflict("hold %s left the queue concurrently", h.ID)
	}
	if err := transitionItem(ctx, q, item, model.ItemStatusOnHold, now); err != nil {
		return nil, err
	}

	h.Status = model.HoldStatusReady
	h.AssignedItemID = &item.ID
	h.ReadyAt = &now
	h.ReadyUntil = &readyUntil

	p.Hold = h
	p.After = item.Status
	return p, nil
}

// nextQueuedHold locks the head of a title's queue. The head is found without
// a lock and then locked by id; if another transaction moved it out of the
// queue meanwhile, the new head is looked up.
func nextQueuedHold(ctx context.Context, q store.Queryer, orgID, bibID string) (*model.Hold, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		id, err := store.NextQueuedHoldID(ctx, q, orgID, bibID)
		if err != nil {
			return nil, err
		}
		if id == "" {
			return nil, nil
		}

		h, err := store.GetHold(ctx, q, orgID, id, db.LockForUpdate)
		if err != nil {
			return nil, err
		}
		if h != nil && h.Status == model.HoldStatusQueued {
			return h, nil
		}
	}
}

// PlaceHoldRequest asks to queue a borrower for the next copy of a title.
type PlaceHoldRequest struct {
	OrgID              string
	BibliographicID    string
	BorrowerExternalID string
	PickupLocationID   string
	ActorID            string
}

// PlaceHold queues a hold at the back of the title's queue. Patrons may only
// place holds for themselves.
func (s *Service) PlaceHold(ctx context.Context, req PlaceHoldRequest) (*model.Hold, error) {
	var hold *model.Hold
	err := s.withTx(ctx, ActionHoldPlace, func(tx *sqlx.Tx) error {
		now := s.clock()

		a, err := loadActor(ctx, tx, req.OrgID, req.ActorID)
		if err != nil {
			return err
		}

		bib, err := store.GetBib(ctx, tx, req.OrgID, req.BibliographicID)
		if err != nil {
			return err
		}
		if bib == nil {
			return notFound("bibliographic record %s not found", req.BibliographicID)
		}

		loc, err := store.GetLocation(ctx, tx, req.OrgID, req.PickupLocationID)
		if err != nil {
			return err
		}
		if loc == nil {
			return notFound("pickup location %s not found", req.PickupLocationID)
		}
		if loc.Status != model.StatusActive {
			return policyViolation(CodePickupLocationInactive, map[string]any{"pickup_location_id": loc.ID},
				"pickup location %s is not accepting holds", loc.Code)
		}

		borrower, err := store.GetUserByExternalID(ctx, tx, req.OrgID, req.BorrowerExternalID, db.LockForUpdate)
		if err != nil {
			return err
		}
		if borrower == nil {
			return notFound("borrower %q not found", req.BorrowerExternalID)
		}
		if !a.staff() && !a.is(borrower.ID) {
			return policyViolation(CodeNotHoldOwner, nil, "patrons may only place holds for themselves")
		}
		if borrower.Status != model.StatusActive {
			return policyViolation(CodeBorrowerInactive, map[string]any{"user_id": borrower.ID},
				"borrower %q is inactive", borrower.ExternalID)
		}

		policy, err := resolvePolicy(ctx, tx, req.OrgID, borrower.Role)
		if err != nil {
			return err
		}

		dup, err := store.HasActiveHold(ctx, tx, req.OrgID, borrower.ID, bib.ID)
		if err != nil {
			return err
		}
		if dup {
			return policyViolation(CodeDuplicateHold, map[string]any{"bibliographic_id": bib.ID},
				"borrower %q already has an active hold on %q", borrower.ExternalID, bib.Title)
		}

		active, err := store.CountActiveHolds(ctx, tx, req.OrgID, borrower.ID)
		if err != nil {
			return err
		}
		if active >= policy.MaxHolds {
			return policyViolation(CodeMaxHoldsExceeded,
				map[string]any{"max_holds": policy.MaxHolds, "active_holds": active},
				"borrower %q has %d active holds, the limit is %d", borrower.ExternalID, active, policy.MaxHolds)
		}

		hold = &model.Hold{
			ID:               uuid.NewString(),
			OrganizationID:   req.OrgID,
			BibliographicID:  bib.ID,
			UserID:           borrower.ID,
			PickupLocationID: loc.ID,
			PlacedAt:         now,
		}
		if err := store.CreateHold(ctx, tx, hold); err != nil {
			return err
		}

		return s.audit(ctx, tx, req.OrgID, a, ActionHoldPlace, EntityHold, hold.ID, map[string]any{
			"bibliographic_id":   bib.ID,
			"user_id":            borrower.ID,
			"pickup_location_id": loc.ID,
		}, now)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("hold placed", "organization_id", req.OrgID, "hold_id", hold.ID,
		"bibliographic_id", hold.BibliographicID, "user_id", hold.UserID, "actor_id", req.ActorID)
	return hold, nil
}

// CancelHoldRequest asks to cancel a queued or ready hold.
type CancelHoldRequest struct {
	OrgID   string
	HoldID  string
	ActorID string
}

// CancelHoldResult describes a cancellation. Item fields are set when a ready
// hold released its copy.
type CancelHoldResult struct {
	HoldID              string  `json:"hold_id"`
	ItemID              *string `json:"item_id"`
	ItemStatus          *string `json:"item_status"`
	TransferredToHoldID *string `json:"transferred_to_hold_id"`
}

// CancelHold cancels a hold on behalf of its owner or staff. Cancelling a
// ready hold passes its copy to the next hold in the queue.
func (s *Service) CancelHold(ctx context.Context, req CancelHoldRequest) (*CancelHoldResult, error) {
	var result *CancelHoldResult
	err := s.withTx(ctx, ActionHoldCancel, func(tx *sqlx.Tx) error {
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
		if !a.staff() && !a.is(h.UserID) {
			return policyViolation(CodeNotHoldOwner, nil, "only the borrower or staff may cancel hold %s", h.ID)
		}
		if !h.Active() {
			return invalidTransition("hold %s is %s and cannot be cancelled", h.ID, h.Status)
		}

		ok, err := store.CancelHold(ctx, tx, req.OrgID, h.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return conflict("hold %s changed concurrently", h.ID)
		}

		result = &CancelHoldResult{HoldID: h.ID}
		meta := map[string]any{"status_before": h.Status}

		if h.Status == model.HoldStatusReady && h.AssignedItemID != nil {
			item, err := store.GetItem(ctx, tx, req.OrgID, *h.AssignedItemID, db.LockForUpdate)
			if err != nil {
				return err
			}
			if item != nil && item.Status == model.ItemStatusOnHold {
				p, err := promote(ctx, tx, item, now)
				if err != nil {
					return err
				}
				result.ItemID = &item.ID
				result.ItemStatus = &p.After
				if p.Hold != nil {
					result.TransferredToHoldID = &p.Hold.ID
				}
				meta["item_id"] = item.ID
				meta["item_status_after"] = p.After
				meta["transferred_to_hold_id"] = result.TransferredToHoldID
			}
		}

		return s.audit(ctx, tx, req.OrgID, a, ActionHoldCancel, EntityHold, h.ID, meta, now)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("hold cancelled", "organization_id", req.OrgID, "hold_id", result.HoldID,
		"actor_id", req.ActorID)
	return result, nil
}

// QueueEntry is one active hold in a title's queue. Position is the 1-based
// place of a queued hold; ready holds have position 0.
type QueueEntry struct {
	model.Hold
	Position int `json:"position"`
}

// ListQueue returns a title's ready holds followed by its queued holds in
// promotion order.
func (s *Service) ListQueue(ctx context.Context, orgID, bibID string) ([]QueueEntry, error) {
	bib, err := store.GetBib(ctx, s.db, orgID, bibID)
	if err != nil {
		return nil, err
	}
	if bib == nil {
		return nil, notFound("bibliographic record %s not found", bibID)
	}

	holds, err := store.ListActiveHoldsForBib(ctx, s.db, orgID, bibID)
	if err != nil {
		return nil, err
	}

	entries := make([]QueueEntry, 0, len(holds))
	position := 0
	for _, h := range holds {
		e := QueueEntry{Hold: h}
		if h.Status == model.HoldStatusQueued {
			position++
			e.Position = position
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// HoldFilter narrows ListHolds.
type HoldFilter = store.HoldFilter

// ListHolds returns holds matching the filter in placement order.
func (s *Service) ListHolds(ctx context.Context, f HoldFilter) ([]model.Hold, error) {
	holds, err := store.ListHolds(ctx, s.db, f)
	if err != nil {
		return nil, err
	}
	if holds == nil {
		holds = []model.Hold{}
	}
	return holds, nil
}

// GetHold returns a hold by ID.
func (s *Service) GetHold(ctx context.Context, orgID, id string) (*model.Hold, error) {
	h, err := store.GetHold(ctx, s.db, orgID, id, db.LockNone)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, notFound("hold %s not found", id)
	}
	return h, nil
}
