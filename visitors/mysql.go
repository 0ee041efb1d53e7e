package visitors

import (
	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/nodes"
)

// MySQLVisitor generates MySQL-dialect SQL.
// Identifiers are quoted with backticks: `table`.`column`.
type MySQLVisitor struct {
	*baseVisitor
}

// NewMySQLVisitor creates a MySQLVisitor for d (dialect.MySQL() when nil).
func NewMySQLVisitor(d *dialect.Dialect, opts ...Option) *MySQLVisitor {
	if d == nil {
		d = dialect.MySQL()
	}
	v := &MySQLVisitor{}
	v.baseVisitor = newBase(d, opts)
	v.outer = v
	return v
}

// VisitBinary leaves LIKE without an ESCAPE clause: backslash is already
// MySQL's default escape and cannot be written as a one-character literal
// portably.
func (v *MySQLVisitor) VisitBinary(n *nodes.Binary) string {
	if n.Op == nodes.OpLike {
		return v.operand(n.Left) + " LIKE " + v.operand(n.Right)
	}
	return v.baseVisitor.VisitBinary(n)
}
