package passes

import "github.com/bawdo/relq/nodes"

func table(name string) (*nodes.TableAlias, *nodes.Table) {
	a := nodes.NewTableAlias()
	return a, nodes.NewTable(a, name)
}

func col(a *nodes.TableAlias, name string) *nodes.Column {
	return nodes.NewColumn(a, name, nodes.IntType)
}

func nullCol(a *nodes.TableAlias, name string) *nodes.Column {
	return nodes.NewColumn(a, name, nodes.IntType.Null())
}

func decl(name string, e nodes.Node) nodes.ColumnDeclaration {
	return nodes.ColumnDeclaration{Name: name, Expr: e, T: e.Type()}
}

func asc(e nodes.Node) nodes.Ordering  { return nodes.Ordering{Expr: e, Direction: nodes.Asc} }
func desc(e nodes.Node) nodes.Ordering { return nodes.Ordering{Expr: e, Direction: nodes.Desc} }

func lit(v any) *nodes.Constant { return nodes.NewConstant(v) }

// passThrough selects the named columns of s under a new alias.
func passThrough(s *nodes.Select, names ...string) *nodes.Select {
	cols := make([]nodes.ColumnDeclaration, len(names))
	for i, n := range names {
		cols[i] = decl(n, col(s.Alias, n))
	}
	return nodes.NewSelect(nodes.NewTableAlias(), cols, s, nil)
}
