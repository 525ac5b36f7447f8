package db

import (
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // goqu dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // goqu dialect registration
	"github.com/jmoiron/sqlx"
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// LockMode selects the row-locking behaviour of a read inside a transaction.
type LockMode int

const (
	// LockNone reads without taking row locks.
	LockNone LockMode = iota
	// LockForUpdate blocks until the selected rows can be locked exclusively.
	LockForUpdate
	// LockSkipLocked locks the selected rows and silently omits rows that are
	// already locked by another transaction.
	LockSkipLocked
)

// Dialect captures the SQL differences between the supported drivers.
type Dialect struct {
	driver string
}

// DialectFor returns the dialect for a database/sql driver name.
func DialectFor(driver string) Dialect {
	return Dialect{driver: driver}
}

// Postgres reports whether the dialect supports row-level locking.
func (d Dialect) Postgres() bool {
	return d.driver == DriverPostgres
}

// LockClause returns the suffix appended to a SELECT for the given lock mode.
// SQLite has no row locks; its single pooled connection already makes each
// transaction exclusive, so the suffix is empty.
func (d Dialect) LockClause(mode LockMode) string {
	if !d.Postgres() {
		return ""
	}
	switch mode {
	case LockForUpdate:
		return " FOR UPDATE"
	case LockSkipLocked:
		return " FOR UPDATE SKIP LOCKED"
	default:
		return ""
	}
}

// Builder returns a goqu builder producing prepared statements for this dialect.
func (d Dialect) Builder() goqu.DialectWrapper {
	if d.Postgres() {
		return goqu.Dialect("postgres")
	}
	return goqu.Dialect("sqlite3")
}

func (d Dialect) timestampType() string {
	if d.Postgres() {
		return "TIMESTAMPTZ"
	}
	return "DATETIME"
}
