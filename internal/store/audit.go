package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/erazemk/izposoja/internal/model"
)

var auditColumns = []any{"id", "organization_id", "actor_user_id", "action", "entity_type",
	"entity_id", "metadata", "created_at"}

// NewAuditEvent describes an audit record to insert. An empty ActorUserID
// records a system action.
type NewAuditEvent struct {
	OrganizationID string
	ActorUserID    string
	Action         string
	EntityType     string
	EntityID       string
	Metadata       map[string]any
	CreatedAt      time.Time
}

// InsertAuditEvent appends an audit record. Callers pass their transaction so
// the record commits or rolls back with the change it describes.
func InsertAuditEvent(ctx context.Context, q Queryer, e NewAuditEvent) error {
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("encoding audit metadata: %w", err)
	}

	var actor *string
	if e.ActorUserID != "" {
		actor = &e.ActorUserID
	}

	_, err = q.ExecContext(ctx, q.Rebind(
		`INSERT INTO audit_events (id, organization_id, actor_user_id, action, entity_type, entity_id, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		uuid.NewString(), e.OrganizationID, actor, e.Action, e.EntityType, e.EntityID, string(meta), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting audit event: %w", err)
	}
	return nil
}

// AuditFilter narrows ListAuditEvents. Empty fields are ignored.
type AuditFilter struct {
	OrganizationID string
	EntityType     string
	EntityID       string
	Action         string
	Limit          uint
}

// ListAuditEvents returns audit records matching the filter, oldest first.
func ListAuditEvents(ctx context.Context, q Queryer, f AuditFilter) ([]model.AuditEvent, error) {
	ds := builder(q).From("audit_events").Select(auditColumns...).
		Where(goqu.C("organization_id").Eq(f.OrganizationID)).
		Order(goqu.C("created_at").Asc(), goqu.C("id").Asc()).
		Prepared(true)
	if f.EntityType != "" {
		ds = ds.Where(goqu.C("entity_type").Eq(f.EntityType))
	}
	if f.EntityID != "" {
		ds = ds.Where(goqu.C("entity_id").Eq(f.EntityID))
	}
	if f.Action != "" {
		ds = ds.Where(goqu.C("action").Eq(f.Action))
	}
	if f.Limit > 0 {
		ds = ds.Limit(f.Limit)
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("building audit query: %w", err)
	}

	var events []model.AuditEvent
	if err := sqlx.SelectContext(ctx, q, &events, query, args...); err != nil {
		return nil, fmt.Errorf("listing audit events: %w", err)
	}
	return events, nil
}
