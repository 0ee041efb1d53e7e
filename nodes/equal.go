package nodes

import (
	"reflect"
	"strings"
)

// Equal reports whether a and b are structurally equal, treating aliases
// declared in corresponding positions as the same scope.
func Equal(a, b Node) bool {
	return EqualWithAliases(a, b, nil)
}

// EqualWithAliases is Equal seeded with a known alias correspondence from
// a's aliases to b's.
func EqualWithAliases(a, b Node, aliases map[*TableAlias]*TableAlias) bool {
	c := &comparer{aliases: make(map[*TableAlias]*TableAlias, len(aliases))}
	for k, v := range aliases {
		c.aliases[k] = v
	}
	return c.eq(a, b)
}

type comparer struct {
	aliases map[*TableAlias]*TableAlias
}

func (c *comparer) alias(a *TableAlias) *TableAlias {
	if m, ok := c.aliases[a]; ok {
		return m
	}
	return a
}

func (c *comparer) eq(a, b Node) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a == b {
		return true
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch a := a.(type) {
	case *Table:
		b := b.(*Table)
		if a.Name != b.Name {
			return false
		}
		c.aliases[a.Alias] = b.Alias
		return true
	case *Column:
		b := b.(*Column)
		return c.alias(a.Alias) == b.Alias && a.Name == b.Name
	case *Select:
		return c.eqSelect(a, b.(*Select))
	case *Join:
		b := b.(*Join)
		return a.JoinKind == b.JoinKind && c.eq(a.Left, b.Left) && c.eq(a.Right, b.Right) && c.eq(a.Condition, b.Condition)
	case *Aggregate:
		b := b.(*Aggregate)
		return a.Func == b.Func && a.Distinct == b.Distinct && c.eq(a.Arg, b.Arg)
	case *AggregateSubquery:
		b := b.(*AggregateSubquery)
		return c.alias(a.GroupAlias) == b.GroupAlias && c.eq(a.Aggregate, b.Aggregate)
	case *RowNumber:
		return c.eqOrderings(a.OrderBy, b.(*RowNumber).OrderBy)
	case *Conditional:
		b := b.(*Conditional)
		return c.eq(a.Test, b.Test) && c.eq(a.IfTrue, b.IfTrue) && c.eq(a.IfFalse, b.IfFalse)
	case *Binary:
		b := b.(*Binary)
		return a.Op == b.Op && c.eq(a.Left, b.Left) && c.eq(a.Right, b.Right)
	case *Unary:
		b := b.(*Unary)
		return a.Op == b.Op && c.eq(a.Operand, b.Operand)
	case *Between:
		b := b.(*Between)
		return c.eq(a.Expr, b.Expr) && c.eq(a.Low, b.Low) && c.eq(a.High, b.High)
	case *In:
		b := b.(*In)
		return c.eq(a.Expr, b.Expr) && c.eqList(a.Values, b.Values) && c.eqSelect(a.Select, b.Select)
	case *Exists:
		return c.eqSelect(a.Select, b.(*Exists).Select)
	case *Scalar:
		return c.eqSelect(a.Select, b.(*Scalar).Select)
	case *Convert:
		b := b.(*Convert)
		return a.T == b.T && c.eq(a.Operand, b.Operand)
	case *FunctionCall:
		b := b.(*FunctionCall)
		return strings.EqualFold(a.Name, b.Name) && a.Key == b.Key && c.eqList(a.Args, b.Args)
	case *Constant:
		b := b.(*Constant)
		return a.T == b.T && reflect.DeepEqual(a.Value, b.Value)
	case *Parameter:
		return a.Name == b.(*Parameter).Name
	case *Member:
		return reflect.DeepEqual(a.Path, b.(*Member).Path)
	case *Navigation:
		b := b.(*Navigation)
		return a.Relation == b.Relation && reflect.DeepEqual(a.Path, b.Path) && c.eq(a.Source, b.Source)
	case *Record:
		b := b.(*Record)
		if a.Entity != b.Entity || len(a.Fields) != len(b.Fields) {
			return false
		}
		for i := range a.Fields {
			if a.Fields[i].Name != b.Fields[i].Name || !c.eq(a.Fields[i].Expr, b.Fields[i].Expr) {
				return false
			}
		}
		return true
	case *Projection:
		b := b.(*Projection)
		return a.Aggregator == b.Aggregator && c.eqSelect(a.Select, b.Select) && c.eq(a.Projector, b.Projector)
	case *ClientJoin:
		b := b.(*ClientJoin)
		return c.eq(a.Projection, b.Projection) && c.eqList(a.OuterKey, b.OuterKey) && c.eqList(a.InnerKey, b.InnerKey)
	}
	return false
}

func (c *comparer) eqSelect(a, b *Select) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	c.aliases[a.Alias] = b.Alias
	if !c.eq(a.From, b.From) || !c.eq(a.Where, b.Where) || !c.eq(a.Skip, b.Skip) || !c.eq(a.Take, b.Take) {
		return false
	}
	if a.Distinct != b.Distinct || len(a.Columns) != len(b.Columns) {
		return false
	}
	for i := range a.Columns {
		if a.Columns[i].Name != b.Columns[i].Name || !c.eq(a.Columns[i].Expr, b.Columns[i].Expr) {
			return false
		}
	}
	return c.eqList(a.GroupBy, b.GroupBy) && c.eqOrderings(a.OrderBy, b.OrderBy)
}

func (c *comparer) eqList(a, b []Node) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !c.eq(a[i], b[i]) {
			return false
		}
	}
	return true
}

func (c *comparer) eqOrderings(a, b []Ordering) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Direction != b[i].Direction || !c.eq(a[i].Expr, b[i].Expr) {
			return false
		}
	}
	return true
}
