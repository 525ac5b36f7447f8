package circulation

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/erazemk/izposoja/internal/db"
	"github.com/erazemk/izposoja/internal/model"
	"github.com/erazemk/izposoja/internal/store"
)

// transitions lists the legal item copy status edges. withdrawn is terminal.
var transitions = map[string][]string{
	model.ItemStatusAvailable: {
		model.ItemStatusCheckedOut, model.ItemStatusOnHold,
		model.ItemStatusLost, model.ItemStatusRepair, model.ItemStatusWithdrawn,
	},
	model.ItemStatusCheckedOut: {model.ItemStatusAvailable, model.ItemStatusOnHold},
	model.ItemStatusOnHold:     {model.ItemStatusCheckedOut, model.ItemStatusAvailable},
	model.ItemStatusLost:       {model.ItemStatusAvailable, model.ItemStatusWithdrawn},
	model.ItemStatusRepair:     {model.ItemStatusAvailable, model.ItemStatusWithdrawn},
}

// CanTransition reports whether a copy may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transitionItem is the only place item statuses are written. Moving to the
// current status is a no-op; anything else must be a legal edge and must
// still match the status read under lock.
func transitionItem(ctx context.Context, q store.Queryer, item *model.ItemCopy, to string, now time.Time) error {
	if item.Status == to {
		return nil
	}
	if !CanTransition(item.Status, to) {
		return invalidTransition("item %q cannot go from %s to %s", item.Barcode, item.Status, to)
	}

	ok, err := store.CompareAndSetItemStatus(ctx, q, item.OrganizationID, item.ID, item.Status, to, now)
	if err != nil {
		return err
	}
	if !ok {
		return conflict("item %q changed status concurrently", item.Barcode)
	}

	item.Status = to
	item.UpdatedAt = now
	return nil
}

// Statuses staff may set by hand, and the statuses they may set them from.
var (
	manualTargets = map[string]bool{
		model.ItemStatusAvailable: true,
		model.ItemStatusLost:      true,
		model.ItemStatusRepair:    true,
		model.ItemStatusWithdrawn: true,
	}
	manualSources = map[string]bool{
		model.ItemStatusAvailable: true,
		model.ItemStatusLost:      true,
		model.ItemStatusRepair:    true,
	}
)

// SetItemStatusRequest asks for a manual status change of a copy.
type SetItemStatusRequest struct {
	OrgID       string
	ItemBarcode string
	Status      string
	ActorID     string
}

// SetItemStatusResult describes a manual status change.
type SetItemStatusResult struct {
	ItemID       string     `json:"item_id"`
	ItemBarcode  string     `json:"item_barcode"`
	StatusBefore string     `json:"status_before"`
	Status       string     `json:"status"`
	HoldID       *string    `json:"hold_id"`
	ReadyUntil   *time.Time `json:"ready_until"`
}

// SetItemStatus marks a copy lost, in repair or withdrawn, or returns it to
// circulation. A copy returned to available goes to the head of its title's
// hold queue if anyone is waiting. Loans and holds own the other statuses.
func (s *Service) SetItemStatus(ctx context.Context, req SetItemStatusRequest) (*SetItemStatusResult, error) {
	var result *SetItemStatusResult
	err := s.withTx(ctx, ActionItemStatus, func(tx *sqlx.Tx) error {
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

		if !manualTargets[req.Status] {
			return invalidTransition("status %s cannot be set manually", req.Status)
		}
		if !manualSources[item.Status] {
			return invalidTransition("item %q is %s; only loans and holds can change it", item.Barcode, item.Status)
		}
		if item.Status == req.Status {
			return invalidTransition("item %q is already %s", item.Barcode, item.Status)
		}

		result = &SetItemStatusResult{ItemID: item.ID, ItemBarcode: item.Barcode, StatusBefore: item.Status}

		if err := transitionItem(ctx, tx, item, req.Status, now); err != nil {
			return err
		}
		if req.Status == model.ItemStatusAvailable {
			p, err := promote(ctx, tx, item, now)
			if err != nil {
				return err
			}
			if p.Hold != nil {
				result.HoldID = &p.Hold.ID
				result.ReadyUntil = p.Hold.ReadyUntil
			}
		}
		result.Status = item.Status

		return s.audit(ctx, tx, req.OrgID, a, ActionItemStatus, EntityItem, item.ID, map[string]any{
			"barcode":       item.Barcode,
			"status_before": result.StatusBefore,
			"status_after":  result.Status,
			"hold_id":       result.HoldID,
		}, now)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("item status changed", "organization_id", req.OrgID, "item_id", result.ItemID,
		"from", result.StatusBefore, "to", result.Status, "actor_id", req.ActorID)
	return result, nil
}
