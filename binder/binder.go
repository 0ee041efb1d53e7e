package binder

import (
	"maps"
	"slices"
	"strings"

	"github.com/bawdo/relq/mapping"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/qerr"
	"github.com/bawdo/relq/query"
)

// scope is the state of the query after an operator: the select producing
// the rows and the projector shaping each row.
type scope struct {
	sel *nodes.Select
	row nodes.Node

	// name is the range name of a single-source row; joined rows are
	// records keyed by range names instead.
	name   string
	joined bool

	ordered bool
	order   *orderScope
	group   *groupScope
}

// orderScope remembers what an order_by was applied to so then_by can
// rebuild the ordering layer with an extra key.
type orderScope struct {
	inner     *scope
	orderings []nodes.Ordering
}

// groupScope describes the rows being grouped, for binding aggregates.
type groupScope struct {
	alias   *nodes.TableAlias
	element *scope
}

type binder struct {
	model *mapping.Model
}

// Bind resolves the operators of q against the mapping and returns the
// root projection. Each operator introduces its own select; later passes
// merge the redundant layers.
func Bind(q query.Query, m *mapping.Model) (*nodes.Projection, error) {
	if m == nil {
		return nil, qerr.Bindingf("", "", "no mapping")
	}
	b := &binder{model: m}
	return b.bind(q)
}

// Includes returns the eager-load paths of q qualified as
// "Entity.Relation". Bare relation names refer to the entity of the query
// source.
func Includes(q query.Query, m *mapping.Model) ([]string, error) {
	ops := q.Ops()
	root := rootEntity(ops)
	var out []string
	for _, op := range ops {
		if op.Kind != query.OpInclude {
			continue
		}
		p, err := qualifyInclude(m, op.Path, root)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out, nil
}

func rootEntity(ops []query.Operator) string {
	if len(ops) == 0 {
		return ""
	}
	if ops[0].Kind == query.OpValue && ops[0].Sub != nil {
		return rootEntity(ops[0].Sub.Ops())
	}
	return ops[0].Entity
}

func qualifyInclude(m *mapping.Model, path, root string) (string, error) {
	entity, relation := root, path
	if i := strings.LastIndex(path, "."); i >= 0 {
		entity, relation = path[:i], path[i+1:]
	}
	e, ok := m.Entity(entity)
	if !ok {
		return "", qerr.Bindingf(entity, "", "unknown entity in include %q", path)
	}
	r, ok := e.Relation(relation)
	if !ok {
		return "", qerr.Bindingf(e.Name, relation, "no such relation")
	}
	return e.Name + "." + r.Name, nil
}

func (b *binder) bind(q query.Query) (*nodes.Projection, error) {
	ops := q.Ops()
	if len(ops) == 0 {
		return nil, qerr.Malformedf("empty query")
	}
	switch ops[0].Kind {
	case query.OpFrom:
	case query.OpValue:
		return b.bindValue(ops)
	default:
		return nil, qerr.Malformedf("query must start with from, not %s", ops[0].Kind)
	}
	e, ok := b.model.Entity(ops[0].Entity)
	if !ok {
		return nil, qerr.Bindingf(ops[0].Entity, "", "unknown entity")
	}
	sc := b.entityScope(e, ops[0].As)
	agg := nodes.ProjectMany
	var terminal query.OpKind = -1
	for _, op := range ops[1:] {
		if op.Kind == query.OpInclude {
			if _, err := qualifyInclude(b.model, op.Path, e.Name); err != nil {
				return nil, err
			}
			continue
		}
		if terminal >= 0 {
			return nil, qerr.Malformedf("%s cannot follow %s", op.Kind, terminal)
		}
		var err error
		switch op.Kind {
		case query.OpWhere:
			sc, err = b.where(sc, op)
		case query.OpSelect:
			sc, err = b.project(sc, op)
		case query.OpJoin, query.OpLeftJoin, query.OpCrossJoin:
			sc, err = b.join(sc, op)
		case query.OpSelectMany:
			sc, err = b.selectMany(sc, op)
		case query.OpGroupBy:
			sc, err = b.groupBy(sc, op)
		case query.OpOrderBy:
			sc, err = b.orderBy(sc, op, nil)
		case query.OpThenBy:
			if sc.order == nil {
				return nil, qerr.Malformedf("then_by must follow order_by")
			}
			sc, err = b.orderBy(sc.order.inner, op, sc.order.orderings)
		case query.OpSkip:
			sc, err = b.skip(sc, op)
		case query.OpTake:
			sc = b.layer(sc, func(s *nodes.Select) { s.Take = op.Expr })
		case query.OpDistinct:
			sc = b.layer(sc, func(s *nodes.Select) { s.Distinct = true })
			sc.ordered = false
		case query.OpAggregate:
			sc, err = b.aggregate(sc, op)
			agg = nodes.ProjectSingle
			terminal = op.Kind
		case query.OpFirst, query.OpSingle:
			n := 1
			agg = nodes.ProjectFirst
			if op.Kind == query.OpSingle {
				n = 2
				agg = nodes.ProjectSingle
			}
			if op.OrDefault {
				agg++
			}
			sc = b.layer(sc, func(s *nodes.Select) { s.Take = nodes.NewConstant(n) })
			terminal = op.Kind
		case query.OpFrom, query.OpValue:
			return nil, qerr.Malformedf("%s must start the query", op.Kind)
		default:
			return nil, qerr.Malformedf("unknown operator %s", op.Kind)
		}
		if err != nil {
			return nil, err
		}
	}
	return nodes.NewProjection(sc.sel, sc.row, agg), nil
}

// bindValue builds a source-less single-row select whose only column is
// the scalar result of the subquery.
func (b *binder) bindValue(ops []query.Operator) (*nodes.Projection, error) {
	for _, op := range ops[1:] {
		if op.Kind != query.OpInclude {
			return nil, qerr.Malformedf("%s cannot follow value", op.Kind)
		}
	}
	sub, err := b.bind(*ops[0].Sub)
	if err != nil {
		return nil, err
	}
	col, ok := sub.Projector.(*nodes.Column)
	if !ok || !sub.Aggregator.Singleton() {
		return nil, qerr.Bindingf("", "value", "the subquery must yield a single scalar")
	}
	decl, ok := sub.Select.ColumnNamed(col.Name)
	if !ok {
		panic("relq: projector column " + col.Name + " is not declared")
	}
	scalar := &nodes.Scalar{Select: sub.Select.WithColumns([]nodes.ColumnDeclaration{decl}), T: col.T}
	alias := nodes.NewTableAlias()
	sel := nodes.NewSelect(alias, []nodes.ColumnDeclaration{{Name: "value", Expr: scalar, T: col.T}}, nil, nil)
	return nodes.NewProjection(sel, nodes.NewColumn(alias, "value", col.T), sub.Aggregator), nil
}

// entitySelect is the select over the table of e: one column per field,
// named after the field, and the entity record reading them.
func entitySelect(e *mapping.Entity) (*nodes.Select, *nodes.Record) {
	table := nodes.NewTableAlias()
	alias := nodes.NewTableAlias()
	cols := make([]nodes.ColumnDeclaration, len(e.Fields))
	fields := make([]nodes.Field, len(e.Fields))
	for i, f := range e.Fields {
		cols[i] = nodes.ColumnDeclaration{Name: f.Name, Expr: nodes.NewColumn(table, f.Column, f.Type), T: f.Type}
		fields[i] = nodes.Field{Name: f.Name, Expr: nodes.NewColumn(alias, f.Name, f.Type)}
	}
	return nodes.NewSelect(alias, cols, nodes.NewTable(table, e.Table), nil), nodes.NewRecord(e.Name, fields...)
}

func (b *binder) entityScope(e *mapping.Entity, as string) *scope {
	sel, row := entitySelect(e)
	if as == "" {
		as = e.Name
	}
	return &scope{sel: sel, row: row, name: as}
}

// layer wraps sc in a new select passing its row through; edit fills in
// the clause the operator adds.
func (b *binder) layer(sc *scope, edit func(*nodes.Select)) *scope {
	alias := nodes.NewTableAlias()
	pc := nodes.ProjectColumns(sc.row, nil, alias, sc.sel.Alias)
	sel := nodes.NewSelect(alias, pc.Columns, sc.sel, nil)
	edit(sel)
	out := *sc
	out.sel = sel
	out.row = pc.Projector
	out.order = nil
	return &out
}

func (b *binder) where(sc *scope, op query.Operator) (*scope, error) {
	pred, err := b.bindExpr(op.Expr, sc)
	if err != nil {
		return nil, err
	}
	if nodes.IsTrue(pred) {
		return sc, nil
	}
	return b.layer(sc, func(s *nodes.Select) { s.Where = pred }), nil
}

func (b *binder) project(sc *scope, op query.Operator) (*scope, error) {
	projector, err := b.bindExpr(op.Expr, sc)
	if err != nil {
		return nil, err
	}
	alias := nodes.NewTableAlias()
	pc := nodes.ProjectColumns(projector, nil, alias, sc.sel.Alias)
	return &scope{
		sel:     nodes.NewSelect(alias, pc.Columns, sc.sel, nil),
		row:     pc.Projector,
		ordered: sc.ordered,
	}, nil
}

func (b *binder) join(sc *scope, op query.Operator) (*scope, error) {
	e, ok := b.model.Entity(op.Entity)
	if !ok {
		return nil, qerr.Bindingf(op.Entity, "", "unknown entity")
	}
	right := b.entityScope(e, op.As)
	var cond nodes.Node
	kind := nodes.CrossJoin
	if op.Kind != query.OpCrossJoin {
		outer, err := b.bindExpr(op.Outer, sc)
		if err != nil {
			return nil, err
		}
		inner, err := b.bindExpr(op.Inner, right)
		if err != nil {
			return nil, err
		}
		if cond, err = keyEquality(outer, inner); err != nil {
			return nil, err
		}
		kind = nodes.InnerJoin
		if op.Kind == query.OpLeftJoin {
			kind = nodes.LeftOuterJoin
		}
	}
	row, err := joinRow(sc, right.name, right.row)
	if err != nil {
		return nil, err
	}
	return b.joined(sc, nodes.NewJoin(kind, sc.sel, right.sel, cond), row, right.sel.Alias), nil
}

func (b *binder) joined(sc *scope, join *nodes.Join, row nodes.Node, right *nodes.TableAlias) *scope {
	alias := nodes.NewTableAlias()
	pc := nodes.ProjectColumns(row, nil, alias, sc.sel.Alias, right)
	return &scope{
		sel:     nodes.NewSelect(alias, pc.Columns, join, nil),
		row:     pc.Projector,
		joined:  true,
		ordered: sc.ordered,
	}
}

// joinRow is the row of a join: a record with one field per range name.
func joinRow(sc *scope, as string, right nodes.Node) (*nodes.Record, error) {
	if sc.joined {
		rec := sc.row.(*nodes.Record)
		if _, dup := rec.Lookup(as); dup {
			return nil, qerr.Malformedf("range name %s is already in use", as)
		}
		return rec.WithField(as, right), nil
	}
	name := sc.name
	if name == "" {
		name = "it"
	}
	if strings.EqualFold(name, as) {
		return nil, qerr.Malformedf("range name %s is already in use", as)
	}
	return nodes.NewRecord("", nodes.Field{Name: name, Expr: sc.row}, nodes.Field{Name: as, Expr: right}), nil
}

// keyEquality compares two join keys; record keys compare field by field
// in order.
func keyEquality(a, b nodes.Node) (nodes.Node, error) {
	ra, aRec := a.(*nodes.Record)
	rb, bRec := b.(*nodes.Record)
	if aRec != bRec {
		return nil, qerr.Malformedf("join keys must both be records or both be values")
	}
	if !aRec {
		return nodes.Eq(a, b), nil
	}
	if len(ra.Fields) != len(rb.Fields) {
		return nil, qerr.Malformedf("join keys have %d and %d fields", len(ra.Fields), len(rb.Fields))
	}
	var cond nodes.Node
	for i := range ra.Fields {
		eq, err := keyEquality(ra.Fields[i].Expr, rb.Fields[i].Expr)
		if err != nil {
			return nil, err
		}
		cond = nodes.AndAlso(cond, eq)
	}
	return cond, nil
}

func (b *binder) selectMany(sc *scope, op query.Operator) (*scope, error) {
	target, err := b.bindExpr(op.Expr, sc)
	if err != nil {
		return nil, err
	}
	nav, ok := target.(*nodes.Navigation)
	if !ok || len(nav.Path) > 0 {
		return nil, qerr.Bindingf("", nodes.Format(op.Expr), "select_many needs a collection relation")
	}
	tj, err := navigationTarget(b.model, nav)
	if err != nil {
		return nil, err
	}
	if !tj.relation.Kind.Collection() {
		return nil, qerr.Bindingf(tj.entity.Name, nav.Relation, "select_many needs a collection relation")
	}
	as := op.As
	if as == "" {
		as = tj.relation.Name
	}
	row, err := joinRow(sc, as, tj.row)
	if err != nil {
		return nil, err
	}
	right := tj.sel.WithWhere(tj.cond)
	return b.joined(sc, nodes.NewJoin(nodes.CrossApply, sc.sel, right, nil), row, right.Alias), nil
}

func (b *binder) groupBy(sc *scope, op query.Operator) (*scope, error) {
	key, err := b.bindExpr(op.Expr, sc)
	if err != nil {
		return nil, err
	}
	// Group keys through relations are joined in before grouping so the
	// key columns exist below the grouping select.
	if nodes.Contains(key, isNavigation) {
		var wrapper nodes.Node = nodes.NewRecord("", nodes.Field{Name: "row", Expr: sc.row}, nodes.Field{Name: "key", Expr: key})
		from, expanded, err := expandNavigations(b.model, sc.sel, wrapper, false)
		if err != nil {
			return nil, err
		}
		alias := nodes.NewTableAlias()
		pc := nodes.ProjectColumns(expanded, nil, alias, slices.Collect(maps.Keys(nodes.DeclaredAliases(from)))...)
		rec := pc.Projector.(*nodes.Record)
		row, _ := rec.Lookup("row")
		key, _ = rec.Lookup("key")
		sc = &scope{sel: nodes.NewSelect(alias, pc.Columns, from, nil), row: row, name: sc.name, joined: sc.joined}
	}
	var groupBy []nodes.Node
	for _, leaf := range leaves(key) {
		switch leaf.(type) {
		case *nodes.Constant, *nodes.Parameter:
			continue
		case *nodes.Projection, *nodes.Navigation:
			return nil, qerr.Bindingf("", nodes.Format(op.Expr), "group key must be scalar values")
		}
		groupBy = append(groupBy, leaf)
	}
	alias := nodes.NewTableAlias()
	pc := nodes.ProjectColumns(key, nil, alias, sc.sel.Alias)
	sel := &nodes.Select{Alias: alias, Columns: pc.Columns, From: sc.sel, GroupBy: groupBy}

	// Items re-reads the grouped rows whose key equals the group key.
	elements := nodes.Clone(sc.sel).(*nodes.Select)
	elemRow := nodes.MapAliases(sc.row, elements.Alias, sc.sel.Alias)
	elemKey := nodes.MapAliases(key, elements.Alias, sc.sel.Alias)
	cond, err := keyEquality(elemKey, pc.Projector)
	if err != nil {
		return nil, err
	}
	itemsAlias := nodes.NewTableAlias()
	ipc := nodes.ProjectColumns(elemRow, nil, itemsAlias, elements.Alias)
	items := nodes.NewProjection(nodes.NewSelect(itemsAlias, ipc.Columns, elements, cond), ipc.Projector, nodes.ProjectMany)

	row := nodes.NewRecord("", nodes.Field{Name: "Key", Expr: pc.Projector}, nodes.Field{Name: "Items", Expr: items})
	element := *sc
	element.order = nil
	element.group = nil
	return &scope{sel: sel, row: row, group: &groupScope{alias: alias, element: &element}}, nil
}

func isNavigation(n nodes.Node) bool {
	_, ok := n.(*nodes.Navigation)
	return ok
}

// leaves flattens nested records into their scalar field expressions.
func leaves(n nodes.Node) []nodes.Node {
	rec, ok := n.(*nodes.Record)
	if !ok {
		return []nodes.Node{n}
	}
	var out []nodes.Node
	for _, f := range rec.Fields {
		out = append(out, leaves(f.Expr)...)
	}
	return out
}

func (b *binder) orderBy(sc *scope, op query.Operator, prior []nodes.Ordering) (*scope, error) {
	key, err := b.bindExpr(op.Expr, sc)
	if err != nil {
		return nil, err
	}
	dir := nodes.Asc
	if op.Desc {
		dir = nodes.Desc
	}
	orderings := slices.Clone(prior)
	for _, leaf := range leaves(key) {
		orderings = append(orderings, nodes.Ordering{Expr: leaf, Direction: dir})
	}
	return b.ordered(sc, orderings), nil
}

func (b *binder) ordered(sc *scope, orderings []nodes.Ordering) *scope {
	out := b.layer(sc, func(s *nodes.Select) { s.OrderBy = orderings })
	out.ordered = true
	out.order = &orderScope{inner: sc, orderings: orderings}
	return out
}

func (b *binder) skip(sc *scope, op query.Operator) (*scope, error) {
	if !sc.ordered {
		keys := b.defaultOrdering(sc.row)
		if len(keys) == 0 {
			return nil, qerr.Malformedf("skip needs an ordering and the rows have no key or scalar fields")
		}
		orderings := make([]nodes.Ordering, len(keys))
		for i, k := range keys {
			orderings[i] = nodes.Ordering{Expr: k, Direction: nodes.Asc}
		}
		sc = b.ordered(sc, orderings)
	}
	return b.layer(sc, func(s *nodes.Select) { s.Skip = op.Expr }), nil
}

// defaultOrdering is the ordering used for skip when none is in scope:
// the key fields of entity rows, otherwise the scalar fields in
// declaration order, otherwise the row itself when it is a value.
func (b *binder) defaultOrdering(row nodes.Node) []nodes.Node {
	switch r := row.(type) {
	case *nodes.Record:
		if r.Entity != "" {
			if e, ok := b.model.Entity(r.Entity); ok {
				var keys []nodes.Node
				for _, k := range e.Keys() {
					if v, ok := r.Lookup(k.Name); ok {
						keys = append(keys, v)
					}
				}
				if len(keys) > 0 {
					return keys
				}
			}
		}
		var out []nodes.Node
		for _, f := range r.Fields {
			switch f.Expr.(type) {
			case *nodes.Record:
				out = append(out, b.defaultOrdering(f.Expr)...)
			case *nodes.Projection, *nodes.Navigation, *nodes.ClientJoin:
			default:
				if f.Expr.Type().IsScalar() {
					out = append(out, f.Expr)
				}
			}
		}
		return out
	case *nodes.Projection, *nodes.Navigation, *nodes.ClientJoin:
		return nil
	}
	if row.Type().IsScalar() {
		return []nodes.Node{row}
	}
	return nil
}

func (b *binder) aggregate(sc *scope, op query.Operator) (*scope, error) {
	var arg nodes.Node
	if op.Expr != nil {
		var err error
		if arg, err = b.bindExpr(op.Expr, sc); err != nil {
			return nil, err
		}
		if !canAggregate(arg) {
			return nil, qerr.Bindingf("", nodes.Format(op.Expr), "%s needs a scalar argument", op.Func)
		}
	} else if op.Func != nodes.AggCount {
		return nil, &qerr.ArgumentCountError{Function: op.Func.String(), Expected: "1", Got: 0}
	}
	agg := nodes.NewAggregate(op.Func, arg, false)
	alias := nodes.NewTableAlias()
	sel := nodes.NewSelect(alias, []nodes.ColumnDeclaration{{Name: "value", Expr: agg, T: agg.T}}, sc.sel, nil)
	return &scope{sel: sel, row: nodes.NewColumn(alias, "value", agg.T)}, nil
}

func canAggregate(n nodes.Node) bool {
	switch x := n.(type) {
	case *nodes.Record, *nodes.Projection, *nodes.ClientJoin:
		return false
	case *nodes.Navigation:
		return len(x.Path) > 0
	}
	return true
}
