package visitors

import (
	"time"

	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/nodes"
)

// OracleVisitor generates Oracle SQL: upper-cased quoted identifiers, no
// AS before table aliases, :name parameters, FROM SYS.DUAL for source-less
// selects and ROWNUM filtering for take.
type OracleVisitor struct {
	*baseVisitor
}

// NewOracleVisitor creates an OracleVisitor for d (dialect.Oracle() when nil).
func NewOracleVisitor(d *dialect.Dialect, opts ...Option) *OracleVisitor {
	if d == nil {
		d = dialect.Oracle()
	}
	v := &OracleVisitor{}
	v.baseVisitor = newBase(d, opts)
	v.aliasKeyword = " "
	v.outer = v
	return v
}

// VisitSelect wraps a select with Take in an outer ROWNUM filter.
func (v *OracleVisitor) VisitSelect(n *nodes.Select) string {
	if n.Skip != nil {
		return v.unsupported("SKIP", "paging must be rewritten before rendering")
	}
	if n.Take == nil {
		return v.selectSQL(n, "", false)
	}
	v.depth++
	inner := v.selectSQL(n, "", false)
	v.depth--
	return "SELECT * FROM (" + inner + ")" + v.nl() + "WHERE ROWNUM <= " + v.value(n.Take)
}

func (v *OracleVisitor) VisitConstant(n *nodes.Constant) string {
	if t, ok := n.Value.(time.Time); ok {
		return "TIMESTAMP '" + t.Format("2006-01-02 15:04:05.999999") + "'"
	}
	return v.baseVisitor.VisitConstant(n)
}
