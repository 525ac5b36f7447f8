package circulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/erazemk/izposoja/internal/db"
	"github.com/erazemk/izposoja/internal/metrics"
	"github.com/erazemk/izposoja/internal/model"
	"github.com/erazemk/izposoja/internal/store"
)

// DefaultSweepLimit caps one sweep pass when the request sets no limit.
const DefaultSweepLimit = 200

// Per-hold sweep outcomes.
const (
	SweepTransferred       = "transferred"
	SweepReleased          = "released"
	SweepSkippedItemAction = "skipped_item_action"
	SweepSkippedLocked     = "skipped_locked"
	SweepFailed            = "failed"
)

// errRowSkipped aborts a sweep row that is locked elsewhere or no longer an
// expired ready hold.
var errRowSkipped = errors.New("sweep row skipped")

// SweepRequest selects ready holds whose pickup window closed before AsOf.
// A zero AsOf means now and a non-positive Limit means DefaultSweepLimit.
// Without Apply the sweep only reports what it would do.
type SweepRequest struct {
	OrgID   string
	AsOf    time.Time
	Limit   int
	Apply   bool
	ActorID string
}

// SweepRecord is what happened to one selected hold.
type SweepRecord struct {
	HoldID              string  `json:"hold_id"`
	ItemID              string  `json:"item_id,omitempty"`
	Outcome             string  `json:"outcome"`
	ItemStatusBefore    string  `json:"item_status_before,omitempty"`
	ItemStatusAfter     string  `json:"item_status_after,omitempty"`
	TransferredToHoldID *string `json:"transferred_to_hold_id"`
	Error               string  `json:"error,omitempty"`
}

// SweepResult summarizes one sweep pass. Processed counts expired holds;
// CandidatesTotal counts every match, including those beyond Limit.
type SweepResult struct {
	OrganizationID    string        `json:"organization_id"`
	AsOf              time.Time     `json:"as_of"`
	Limit             int           `json:"limit"`
	Applied           bool          `json:"applied"`
	CandidatesTotal   int           `json:"candidates_total"`
	Processed         int           `json:"processed"`
	Transferred       int           `json:"transferred"`
	Released          int           `json:"released"`
	SkippedItemAction int           `json:"skipped_item_action"`
	SkippedLocked     int           `json:"skipped_locked"`
	Failed            int           `json:"failed"`
	Holds             []SweepRecord `json:"holds"`
}

func (r *SweepResult) tally(rec SweepRecord) {
	switch rec.Outcome {
	case SweepTransferred:
		r.Processed++
		r.Transferred++
	case SweepReleased:
		r.Processed++
		r.Released++
	case SweepSkippedItemAction:
		r.Processed++
		r.SkippedItemAction++
	case SweepSkippedLocked:
		r.SkippedLocked++
	default:
		r.Failed++
	}
	r.Holds = append(r.Holds, rec)
}

// Sweep expires ready holds whose pickup window closed and passes each freed
// copy to the next queued hold or back to the shelf. Apply commits every hold
// in its own transaction and keeps going past failures; preview runs the same
// steps in one transaction that is always rolled back.
func (s *Service) Sweep(ctx context.Context, req SweepRequest) (*SweepResult, error) {
	org, err := store.GetOrganization(ctx, s.db, req.OrgID)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, notFound("organization %s not found", req.OrgID)
	}

	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = s.clock()
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultSweepLimit
	}

	result := &SweepResult{
		OrganizationID: req.OrgID,
		AsOf:           asOf.UTC(),
		Limit:          limit,
		Applied:        req.Apply,
		Holds:          []SweepRecord{},
	}

	if req.Apply {
		err = s.sweepApply(ctx, req, result)
	} else {
		err = s.sweepPreview(ctx, req, result)
	}

	mode := "preview"
	if req.Apply {
		mode = "apply"
	}
	metrics.SweepRuns.WithLabelValues(mode).Inc()

	if err != nil {
		return nil, err
	}

	s.logger.Info("hold sweep finished", "organization_id", req.OrgID, "mode", mode,
		"as_of", result.AsOf, "candidates_total", result.CandidatesTotal, "processed", result.Processed,
		"transferred", result.Transferred, "released", result.Released,
		"skipped_locked", result.SkippedLocked, "failed", result.Failed)
	return result, nil
}

func (s *Service) sweepApply(ctx context.Context, req SweepRequest, result *SweepResult) error {
	candidates, total, err := store.ExpiredReadyHolds(ctx, s.db, req.OrgID, result.AsOf, uint(result.Limit))
	if err != nil {
		return err
	}
	result.CandidatesTotal = total

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}

		var rec SweepRecord
		err := s.runTx(ctx, func(tx *sqlx.Tx) error {
			var err error
			rec, err = s.expireHold(ctx, tx, req, c, result.AsOf)
			return err
		})
		rec = settle(rec, c.ID, err)
		if rec.Outcome == SweepFailed {
			s.logger.Error("expiring hold", "organization_id", req.OrgID, "hold_id", c.ID, "error", err)
		}
		metrics.SweepHolds.WithLabelValues(rec.Outcome).Inc()
		result.tally(rec)
	}
	return nil
}

// sweepPreview runs the whole batch in one transaction that is always rolled
// back, so each row sees the copies and queues earlier rows changed. Row locks
// are held until the batch ends; the limit bounds how long that is.
func (s *Service) sweepPreview(ctx context.Context, req SweepRequest, result *SweepResult) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	candidates, total, err := store.ExpiredReadyHolds(ctx, tx, req.OrgID, result.AsOf, uint(result.Limit))
	if err != nil {
		return err
	}
	result.CandidatesTotal = total

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "SAVEPOINT sweep_row"); err != nil {
			return fmt.Errorf("creating savepoint: %w", err)
		}

		rec, err := s.expireHold(ctx, tx, req, c, result.AsOf)
		if err != nil {
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT sweep_row"); rbErr != nil {
				return fmt.Errorf("rolling back savepoint: %w", rbErr)
			}
		}
		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT sweep_row"); err != nil {
			return fmt.Errorf("releasing savepoint: %w", err)
		}

		result.tally(settle(rec, c.ID, err))
	}
	return nil
}

// settle fills in the outcome of a row that did not complete.
func settle(rec SweepRecord, holdID string, err error) SweepRecord {
	if err == nil {
		return rec
	}
	rec = SweepRecord{HoldID: holdID, ItemID: rec.ItemID}
	switch {
	case errors.Is(err, errRowSkipped), KindOf(classify(err)) == KindConflict:
		rec.Outcome = SweepSkippedLocked
	default:
		rec.Outcome = SweepFailed
		rec.Error = err.Error()
	}
	return rec
}

// expireHold expires one selected hold. It never waits for a lock: a hold or
// copy locked elsewhere, or a hold that stopped matching the selection, is
// skipped.
func (s *Service) expireHold(ctx context.Context, tx *sqlx.Tx, req SweepRequest, c model.Hold, asOf time.Time) (SweepRecord, error) {
	now := s.clock()
	rec := SweepRecord{HoldID: c.ID}

	h, err := store.GetHold(ctx, tx, req.OrgID, c.ID, db.LockSkipLocked)
	if err != nil {
		return rec, err
	}
	if h == nil || h.Status != model.HoldStatusReady || h.AssignedItemID == nil ||
		h.ReadyUntil == nil || !h.ReadyUntil.Before(asOf) {
		return rec, errRowSkipped
	}
	rec.ItemID = *h.AssignedItemID

	item, err := store.GetItem(ctx, tx, req.OrgID, *h.AssignedItemID, db.LockSkipLocked)
	if err != nil {
		return rec, err
	}
	if item == nil {
		return rec, errRowSkipped
	}

	ok, err := store.ExpireHold(ctx, tx, req.OrgID, h.ID, now)
	if err != nil {
		return rec, err
	}
	if !ok {
		return rec, errRowSkipped
	}

	rec.ItemStatusBefore = item.Status
	if item.Status == model.ItemStatusOnHold {
		p, err := promote(ctx, tx, item, now)
		if err != nil {
			return rec, err
		}
		if p.Hold != nil {
			rec.Outcome = SweepTransferred
			rec.TransferredToHoldID = &p.Hold.ID
		} else {
			rec.Outcome = SweepReleased
		}
	} else {
		rec.Outcome = SweepSkippedItemAction
	}
	rec.ItemStatusAfter = item.Status

	a, err := loadActor(ctx, tx, req.OrgID, req.ActorID)
	if err != nil {
		return rec, err
	}
	err = s.audit(ctx, tx, req.OrgID, a, ActionExpire, EntityHold, h.ID, map[string]any{
		"hold_id":                h.ID,
		"item_status_before":     rec.ItemStatusBefore,
		"item_status_after":      rec.ItemStatusAfter,
		"transferred_to_hold_id": rec.TransferredToHoldID,
	}, now)
	return rec, err
}

// SweepAll runs a sweep for every organization. It stops at the first
// organization that fails and returns the results gathered so far.
func (s *Service) SweepAll(ctx context.Context, req SweepRequest) ([]*SweepResult, error) {
	orgs, err := store.ListOrganizations(ctx, s.db)
	if err != nil {
		return nil, err
	}

	results := make([]*SweepResult, 0, len(orgs))
	for _, org := range orgs {
		req.OrgID = org.ID
		res, err := s.Sweep(ctx, req)
		if err != nil {
			return results, fmt.Errorf("sweeping organization %s: %w", org.Code, err)
		}
		results = append(results, res)
	}
	return results, nil
}
