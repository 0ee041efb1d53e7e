package passes

import (
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/qerr"
)

// CheckPaging fails with a MalformedQueryError when a select skips rows
// without an ordering, which no pagination strategy can express
// deterministically.
func CheckPaging(n nodes.Node) error {
	var err error
	nodes.Walk(n, func(x nodes.Node) bool {
		if err != nil {
			return false
		}
		if s, ok := x.(*nodes.Select); ok && s.Skip != nil && len(s.OrderBy) == 0 {
			err = qerr.Malformedf("skip %s has no ordering", nodes.Format(s.Skip))
		}
		return true
	})
	return err
}
