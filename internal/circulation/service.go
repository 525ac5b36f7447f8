// Package circulation implements the lending core: policy resolution, the item
// copy status registry, the loan ledger, the hold queue, fulfillment at pickup
// and the ready-hold expiry sweeper. Every operation runs as one transaction
// that locks the rows it reads before deciding anything.
package circulation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/erazemk/izposoja/internal/db"
	"github.com/erazemk/izposoja/internal/metrics"
	"github.com/erazemk/izposoja/internal/model"
	"github.com/erazemk/izposoja/internal/store"
)

// Audit actions.
const (
	ActionCheckout   = "loan.checkout"
	ActionCheckin    = "loan.checkin"
	ActionRenew      = "loan.renew"
	ActionHoldPlace  = "hold.place"
	ActionHoldCancel = "hold.cancel"
	ActionFulfill    = "hold.fulfill"
	ActionExpire     = "hold.expire"
	ActionItemStatus = "item.status"
)

// Audited entity types.
const (
	EntityLoan = "loan"
	EntityHold = "hold"
	EntityItem = "item"
)

// Service is the circulation facade used by the API and the sweep scheduler.
type Service struct {
	db     *sqlx.DB
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the wall clock, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithLogger sets the logger committed mutations are reported to.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates a Service on an open database.
func NewService(database *sqlx.DB, opts ...Option) *Service {
	s := &Service{
		db:     database,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// runTx runs fn in a transaction, committing only if fn succeeds.
func (s *Service) runTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// withTx runs one unit of work for operation op and records its outcome.
func (s *Service) withTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	err := classify(s.runTx(ctx, fn))

	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = metrics.OutcomeError
		if kind := KindOf(err); kind != "" {
			outcome = string(kind)
		}
	}
	metrics.ObserveOperation(op, outcome)

	return err
}

// classify turns driver-level concurrency failures into Conflict errors.
func classify(err error) error {
	if err == nil || KindOf(err) != "" {
		return err
	}
	if db.IsUniqueViolation(err) {
		return &Error{
			Kind:    KindConflict,
			Message: "a concurrent operation already created this record",
			Detail:  map[string]any{"cause": err.Error()},
		}
	}
	if db.IsLockConflict(err) {
		return &Error{
			Kind:    KindConflict,
			Message: "a concurrent operation holds the affected rows, try again",
			Detail:  map[string]any{"cause": err.Error()},
		}
	}
	return err
}

// actor is the user an operation runs on behalf of. A nil user is the system
// (scheduler, CLI) and has staff rights.
type actor struct {
	user *model.User
}

func (a actor) id() string {
	if a.user == nil {
		return ""
	}
	return a.user.ID
}

func (a actor) staff() bool {
	return a.user == nil || model.IsStaff(a.user.Role)
}

func (a actor) is(userID string) bool {
	return a.user != nil && a.user.ID == userID
}

func loadActor(ctx context.Context, q store.Queryer, orgID, actorID string) (actor, error) {
	if actorID == "" {
		return actor{}, nil
	}
	u, err := store.GetUser(ctx, q, orgID, actorID, db.LockNone)
	if err != nil {
		return actor{}, err
	}
	if u == nil {
		return actor{}, notFound("actor %s not found", actorID)
	}
	return actor{user: u}, nil
}

func (s *Service) audit(ctx context.Context, q store.Queryer, orgID string, a actor, action, entityType, entityID string,
	meta map[string]any, now time.Time) error {
	return store.InsertAuditEvent(ctx, q, store.NewAuditEvent{
		OrganizationID: orgID,
		ActorUserID:    a.id(),
		Action:         action,
		EntityType:     entityType,
		EntityID:       entityID,
		Metadata:       meta,
		CreatedAt:      now,
	})
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

// AuditFilter narrows ListAudit.
type AuditFilter = store.AuditFilter

// ListAudit returns audit records for an organization.
func (s *Service) ListAudit(ctx context.Context, f AuditFilter) ([]model.AuditEvent, error) {
	events, err := store.ListAuditEvents(ctx, s.db, f)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []model.AuditEvent{}
	}
	return events, nil
}

// GetItem returns a copy by barcode.
func (s *Service) GetItem(ctx context.Context, orgID, barcode string) (*model.ItemCopy, error) {
	item, err := store.GetItemByBarcode(ctx, s.db, orgID, barcode, db.LockNone)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, notFound("item %q not found", barcode)
	}
	return item, nil
}

// ListItems returns every copy of a title ordered by barcode.
func (s *Service) ListItems(ctx context.Context, orgID, bibID string) ([]model.ItemCopy, error) {
	bib, err := store.GetBib(ctx, s.db, orgID, bibID)
	if err != nil {
		return nil, err
	}
	if bib == nil {
		return nil, notFound("bibliographic record %s not found", bibID)
	}

	items, err := store.ListItemsByBib(ctx, s.db, orgID, bibID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []model.ItemCopy{}
	}
	return items, nil
}
