package visitors

import (
	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/nodes"
)

// SQLServerVisitor generates Transact-SQL. Identifiers are bracketed,
// parameters are named (@p0) and take is rendered as TOP (n) unless the
// dialect pages with OFFSET/FETCH.
type SQLServerVisitor struct {
	*baseVisitor
}

// NewSQLServerVisitor creates a SQLServerVisitor for d
// (dialect.SQLServer() when nil).
func NewSQLServerVisitor(d *dialect.Dialect, opts ...Option) *SQLServerVisitor {
	if d == nil {
		d = dialect.SQLServer()
	}
	v := &SQLServerVisitor{}
	v.baseVisitor = newBase(d, opts)
	v.outer = v
	return v
}

func (v *SQLServerVisitor) VisitSelect(n *nodes.Select) string {
	if n.Skip != nil {
		if v.d.Take == dialect.TakeFetch && len(n.OrderBy) > 0 {
			return v.selectSQL(n, "", true)
		}
		return v.unsupported("SKIP", "paging must be rewritten before rendering")
	}
	if n.Take == nil {
		return v.selectSQL(n, "", false)
	}
	top := "TOP (" + v.value(n.Take) + ") "
	return v.selectSQL(n, top, false)
}

// VisitConstant renders strings as national literals.
func (v *SQLServerVisitor) VisitConstant(n *nodes.Constant) string {
	if s, ok := n.Value.(string); ok {
		return "N'" + v.d.EscapeString(s) + "'"
	}
	return v.baseVisitor.VisitConstant(n)
}
