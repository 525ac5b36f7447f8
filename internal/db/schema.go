package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// schema is the full database schema. TIMESTAMP_TYPE is replaced per dialect.
const schema = `
CREATE TABLE IF NOT EXISTS organizations (
    id         TEXT PRIMARY KEY,
    code       TEXT NOT NULL UNIQUE,
    name       TEXT NOT NULL,
    created_at TIMESTAMP_TYPE NOT NULL
);

CREATE TABLE IF NOT EXISTS locations (
    id              TEXT PRIMARY KEY,
    organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
    code            TEXT NOT NULL,
    name            TEXT NOT NULL,
    status          TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'inactive')),
    UNIQUE (organization_id, code)
);

CREATE TABLE IF NOT EXISTS users (
    id              TEXT PRIMARY KEY,
    organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
    external_id     TEXT NOT NULL,
    name            TEXT NOT NULL,
    role            TEXT NOT NULL CHECK (role IN ('admin', 'librarian', 'teacher', 'student')),
    status          TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'inactive')),
    password_hash   TEXT,
    created_at      TIMESTAMP_TYPE NOT NULL,
    UNIQUE (organization_id, external_id)
);

CREATE TABLE IF NOT EXISTS bibliographic_records (
    id              TEXT PRIMARY KEY,
    organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
    title           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS item_copies (
    id               TEXT PRIMARY KEY,
    organization_id  TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
    bibliographic_id TEXT NOT NULL REFERENCES bibliographic_records(id),
    barcode          TEXT NOT NULL,
    status           TEXT NOT NULL DEFAULT 'available'
                     CHECK (status IN ('available', 'checked_out', 'on_hold', 'lost', 'withdrawn', 'repair')),
    location_id      TEXT NOT NULL REFERENCES locations(id),
    created_at       TIMESTAMP_TYPE NOT NULL,
    updated_at       TIMESTAMP_TYPE NOT NULL,
    UNIQUE (organization_id, barcode)
);

CREATE INDEX IF NOT EXISTS idx_item_copies_bib ON item_copies(organization_id, bibliographic_id);

CREATE TABLE IF NOT EXISTS loans (
    id              TEXT PRIMARY KEY,
    organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
    item_id         TEXT NOT NULL REFERENCES item_copies(id),
    user_id         TEXT NOT NULL REFERENCES users(id),
    checked_out_at  TIMESTAMP_TYPE NOT NULL,
    due_at          TIMESTAMP_TYPE NOT NULL,
    returned_at     TIMESTAMP_TYPE,
    renewed_count   INTEGER NOT NULL DEFAULT 0,
    status          TEXT NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'closed'))
);

CREATE UNIQUE INDEX IF NOT EXISTS loans_one_open_per_item
    ON loans(item_id) WHERE status = 'open';

CREATE INDEX IF NOT EXISTS idx_loans_user_open
    ON loans(organization_id, user_id) WHERE status = 'open';

CREATE TABLE IF NOT EXISTS holds (
    id                 TEXT PRIMARY KEY,
    organization_id    TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
    bibliographic_id   TEXT NOT NULL REFERENCES bibliographic_records(id),
    user_id            TEXT NOT NULL REFERENCES users(id),
    pickup_location_id TEXT NOT NULL REFERENCES locations(id),
    placed_at          TIMESTAMP_TYPE NOT NULL,
    status             TEXT NOT NULL DEFAULT 'queued'
                       CHECK (status IN ('queued', 'ready', 'cancelled', 'fulfilled', 'expired')),
    assigned_item_id   TEXT REFERENCES item_copies(id),
    ready_at           TIMESTAMP_TYPE,
    ready_until        TIMESTAMP_TYPE,
    cancelled_at       TIMESTAMP_TYPE,
    fulfilled_at       TIMESTAMP_TYPE,
    expired_at         TIMESTAMP_TYPE,
    CHECK ((assigned_item_id IS NOT NULL) = (status IN ('ready', 'fulfilled')))
);

CREATE UNIQUE INDEX IF NOT EXISTS holds_one_active_per_user_bib
    ON holds(organization_id, user_id, bibliographic_id) WHERE status IN ('queued', 'ready');

CREATE INDEX IF NOT EXISTS idx_holds_queue
    ON holds(organization_id, bibliographic_id, placed_at, id) WHERE status = 'queued';

CREATE TABLE IF NOT EXISTS circulation_policies (
    id                 TEXT PRIMARY KEY,
    organization_id    TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
    code               TEXT NOT NULL,
    audience_role      TEXT NOT NULL,
    loan_days          INTEGER NOT NULL CHECK (loan_days > 0),
    max_loans          INTEGER NOT NULL CHECK (max_loans >= 0),
    max_renewals       INTEGER NOT NULL CHECK (max_renewals >= 0),
    max_holds          INTEGER NOT NULL CHECK (max_holds >= 0),
    hold_pickup_days   INTEGER NOT NULL CHECK (hold_pickup_days > 0),
    overdue_block_days INTEGER NOT NULL CHECK (overdue_block_days >= 0),
    is_active          BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE UNIQUE INDEX IF NOT EXISTS policies_one_active_per_role
    ON circulation_policies(organization_id, audience_role) WHERE is_active;

CREATE TABLE IF NOT EXISTS audit_events (
    id              TEXT PRIMARY KEY,
    organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
    actor_user_id   TEXT REFERENCES users(id),
    action          TEXT NOT NULL,
    entity_type     TEXT NOT NULL,
    entity_id       TEXT NOT NULL,
    metadata        TEXT NOT NULL DEFAULT '{}',
    created_at      TIMESTAMP_TYPE NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_events(organization_id, entity_type, entity_id);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS revoked_tokens (
    jti        TEXT PRIMARY KEY,
    expires_at TIMESTAMP_TYPE NOT NULL
);
`

// migrations is a list of SQL statements applied in order after schema creation.
// Each migration must be idempotent. Append new migrations at the end.
var migrations = []string{
	// Migration 1: the sweeper selects ready holds by pickup deadline.
	`CREATE INDEX IF NOT EXISTS idx_holds_ready_until
	     ON holds(organization_id, ready_until, id) WHERE status = 'ready'`,
}

// EnsureSchema creates all tables and indexes if they don't already exist and
// applies pending migrations.
func EnsureSchema(db *sqlx.DB) error {
	ctx := context.Background()
	d := DialectFor(db.DriverName())

	ddl := strings.ReplaceAll(schema, "TIMESTAMP_TYPE", d.timestampType())
	for _, stmt := range splitStatements(ddl) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}

	for i, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("running migration %d: %w", i+1, err)
		}
	}

	return nil
}

func splitStatements(ddl string) []string {
	var stmts []string
	for _, s := range strings.Split(ddl, ";") {
		if s = strings.TrimSpace(s); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
