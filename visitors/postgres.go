package visitors

import "github.com/bawdo/relq/dialect"

// PostgresVisitor generates PostgreSQL-dialect SQL.
// Identifiers are quoted with double quotes and parameters are numbered: $1.
type PostgresVisitor struct {
	*baseVisitor
}

// NewPostgresVisitor creates a PostgresVisitor for d (dialect.Postgres()
// when nil).
func NewPostgresVisitor(d *dialect.Dialect, opts ...Option) *PostgresVisitor {
	if d == nil {
		d = dialect.Postgres()
	}
	v := &PostgresVisitor{}
	v.baseVisitor = newBase(d, opts)
	v.outer = v
	return v
}
