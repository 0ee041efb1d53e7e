package visitors

import (
	"time"

	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/nodes"
)

// SQLiteVisitor generates SQLite-dialect SQL.
// Identifiers are quoted with double quotes: "table"."column" (ANSI SQL).
type SQLiteVisitor struct {
	*baseVisitor
}

// NewSQLiteVisitor creates a SQLiteVisitor for d (dialect.SQLite() when nil).
func NewSQLiteVisitor(d *dialect.Dialect, opts ...Option) *SQLiteVisitor {
	if d == nil {
		d = dialect.SQLite()
	}
	v := &SQLiteVisitor{}
	v.baseVisitor = newBase(d, opts)
	v.outer = v
	return v
}

// VisitConstant renders times in the text form the date functions parse.
func (v *SQLiteVisitor) VisitConstant(n *nodes.Constant) string {
	if t, ok := n.Value.(time.Time); ok {
		return "'" + t.UTC().Format("2006-01-02 15:04:05") + "'"
	}
	return v.baseVisitor.VisitConstant(n)
}
