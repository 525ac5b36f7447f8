// Package store holds tenant-scoped data access functions. Every function takes
// a Queryer so that it can run either directly on the pool or inside the
// caller's transaction, and every lookup is filtered by organization.
package store

import (
	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"

	"github.com/erazemk/izposoja/internal/db"
)

// Queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type Queryer = sqlx.ExtContext

func dialectOf(q Queryer) db.Dialect {
	return db.DialectFor(q.DriverName())
}

func lockClause(q Queryer, mode db.LockMode) string {
	return dialectOf(q).LockClause(mode)
}

func builder(q Queryer) goqu.DialectWrapper {
	return dialectOf(q).Builder()
}
