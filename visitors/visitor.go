// Package visitors renders the IR to SQL text for a dialect, collecting
// parameters in placeholder order.
package visitors

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/qerr"
)

// Operator SQL strings for natively rendered BinaryOp values.
var binaryOpSQL = [...]string{
	nodes.OpEq:         "=",
	nodes.OpNotEq:      "<>",
	nodes.OpLt:         "<",
	nodes.OpLtEq:       "<=",
	nodes.OpGt:         ">",
	nodes.OpGtEq:       ">=",
	nodes.OpLike:       "LIKE",
	nodes.OpAnd:        "AND",
	nodes.OpOr:         "OR",
	nodes.OpAdd:        "+",
	nodes.OpSub:        "-",
	nodes.OpMul:        "*",
	nodes.OpDiv:        "/",
	nodes.OpMod:        "%",
	nodes.OpBitAnd:     "&",
	nodes.OpBitOr:      "|",
	nodes.OpBitXor:     "^",
	nodes.OpShiftLeft:  "<<",
	nodes.OpShiftRight: ">>",
	nodes.OpConcat:     "||",
}

// Param is one collected parameter. Name is empty only for values the
// builder itself introduced.
type Param struct {
	Name  string
	Value any
}

// Builder renders IR for one dialect.
type Builder interface {
	nodes.Visitor
	// Build renders n. A select renders as a statement, anything else as a
	// value expression.
	Build(n nodes.Node) (string, []Param, error)
	Dialect() *dialect.Dialect
}

// Option configures a visitor at construction time.
type Option func(*baseVisitor)

// WithFormatting renders each major clause on its own line, indenting
// nested selects.
func WithFormatting() Option {
	return func(b *baseVisitor) {
		b.format = true
	}
}

// WithAliasPrefix changes the prefix of generated table aliases (default "t").
func WithAliasPrefix(prefix string) Option {
	return func(b *baseVisitor) {
		b.aliasPrefix = prefix
	}
}

// New returns the builder specialised for d's family.
func New(d *dialect.Dialect, opts ...Option) Builder {
	switch d.Family {
	case dialect.FamilyMySQL:
		return NewMySQLVisitor(d, opts...)
	case dialect.FamilySQLite:
		return NewSQLiteVisitor(d, opts...)
	case dialect.FamilySQLServer:
		return NewSQLServerVisitor(d, opts...)
	case dialect.FamilyOracle:
		return NewOracleVisitor(d, opts...)
	default:
		return NewPostgresVisitor(d, opts...)
	}
}

// baseVisitor implements the SQL generation shared by all dialects.
// Dialect visitors embed *baseVisitor and set outer to themselves, so
// recursive Accept calls reach their overrides.
type baseVisitor struct {
	// outer is the concrete dialect visitor.
	outer nodes.Visitor

	d *dialect.Dialect

	// aliasKeyword separates a source from its alias (" AS " by default).
	aliasKeyword string
	aliasPrefix  string
	format       bool

	aliases  nodes.AliasNames
	params   []Param
	named    map[string]bool
	numbered map[string]int
	depth    int
	err      error
}

func newBase(d *dialect.Dialect, opts []Option) *baseVisitor {
	b := &baseVisitor{d: d, aliasKeyword: " AS "}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *baseVisitor) Dialect() *dialect.Dialect { return b.d }

// Build renders n and returns the collected parameters.
func (b *baseVisitor) Build(n nodes.Node) (string, []Param, error) {
	b.reset()
	var sql string
	if sel, ok := n.(*nodes.Select); ok {
		sql = sel.Accept(b.outer)
	} else {
		sql = b.value(n)
	}
	if b.err != nil {
		return "", nil, b.err
	}
	return sql, b.params, nil
}

func (b *baseVisitor) reset() {
	b.aliases = nodes.AliasNames{Prefix: b.aliasPrefix}
	b.params = nil
	b.named = make(map[string]bool)
	b.numbered = make(map[string]int)
	b.depth = 0
	b.err = nil
}

// fail records the first error of the current Build.
func (b *baseVisitor) fail(err error) string {
	var ue *qerr.UnsupportedOperationError
	if errors.As(err, &ue) && ue.Dialect == "" {
		ue.Dialect = b.d.Name
	}
	if b.err == nil {
		b.err = err
	}
	return ""
}

func (b *baseVisitor) unsupported(op, msg string) string {
	return b.fail(&qerr.UnsupportedOperationError{Dialect: b.d.Name, Operation: op, Message: msg})
}

func (b *baseVisitor) ident(name string) string {
	if max := b.d.MaxIdentifierLength; max > 0 && len(name) > max {
		return b.unsupported("identifier "+name, fmt.Sprintf("longer than %d characters", max))
	}
	return b.d.Quote(name)
}

func (b *baseVisitor) alias(a *nodes.TableAlias) string {
	return b.aliases.Name(a)
}

// nl separates clauses: a space, or a newline at the current depth when
// formatting.
func (b *baseVisitor) nl() string {
	if !b.format {
		return " "
	}
	return "\n" + strings.Repeat("\t", b.depth)
}

// subquery renders a nested select in parentheses.
func (b *baseVisitor) subquery(s *nodes.Select) string {
	b.depth++
	body := s.Accept(b.outer)
	b.depth--
	if b.format {
		return "(" + b.nlIndent() + body + b.nl() + ")"
	}
	return "(" + body + ")"
}

func (b *baseVisitor) nlIndent() string {
	return "\n" + strings.Repeat("\t", b.depth+1)
}

// value renders n where a scalar value is expected.
func (b *baseVisitor) value(n nodes.Node) string {
	if isPredicate(n) && !b.d.NativeBool {
		return "CASE WHEN " + n.Accept(b.outer) + " THEN 1 ELSE 0 END"
	}
	return n.Accept(b.outer)
}

// predicate renders n where a condition is expected.
func (b *baseVisitor) predicate(n nodes.Node) string {
	if n == nil {
		return b.predicate(nodes.NewConstant(true))
	}
	if isPredicate(n) {
		return n.Accept(b.outer)
	}
	s := n.Accept(b.outer)
	if b.d.NativeBool {
		return s
	}
	return "(" + s + " = 1)"
}

// source renders a FROM item.
func (b *baseVisitor) source(n nodes.Node) string {
	switch n := n.(type) {
	case *nodes.Select:
		return b.subquery(n) + b.aliasKeyword + b.alias(n.Alias)
	case *nodes.Join:
		return n.Accept(b.outer)
	}
	return n.Accept(b.outer)
}

func (b *baseVisitor) VisitTable(n *nodes.Table) string {
	return b.ident(n.Name) + b.aliasKeyword + b.alias(n.Alias)
}

func (b *baseVisitor) VisitColumn(n *nodes.Column) string {
	return b.alias(n.Alias) + "." + b.ident(n.Name)
}

func (b *baseVisitor) VisitSelect(n *nodes.Select) string {
	return b.selectSQL(n, "", true)
}

// selectSQL renders n. top is inserted after SELECT [DISTINCT]; paging
// controls whether the LIMIT/OFFSET or OFFSET/FETCH clause is written.
func (b *baseVisitor) selectSQL(n *nodes.Select, top string, paging bool) string {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if n.Distinct {
		sb.WriteString("DISTINCT ")
	}
	sb.WriteString(top)
	b.writeColumns(&sb, n.Columns)
	if n.From != nil {
		sb.WriteString(b.nl())
		sb.WriteString("FROM ")
		sb.WriteString(b.source(n.From))
	} else if b.d.DummyTable != "" {
		sb.WriteString(b.nl())
		sb.WriteString("FROM ")
		sb.WriteString(b.d.DummyTable)
	}
	if n.Where != nil {
		sb.WriteString(b.nl())
		sb.WriteString("WHERE ")
		sb.WriteString(b.predicate(n.Where))
	}
	if len(n.GroupBy) > 0 {
		sb.WriteString(b.nl())
		sb.WriteString("GROUP BY ")
		for i, g := range n.GroupBy {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(b.value(g))
		}
	}
	if len(n.OrderBy) > 0 {
		sb.WriteString(b.nl())
		sb.WriteString("ORDER BY ")
		sb.WriteString(b.orderings(n.OrderBy))
	}
	if paging {
		b.writePaging(&sb, n)
	}
	return sb.String()
}

func (b *baseVisitor) writeColumns(sb *strings.Builder, cols []nodes.ColumnDeclaration) {
	if len(cols) == 0 {
		sb.WriteString("NULL AS ")
		sb.WriteString(b.ident("tmp"))
		return
	}
	for i, d := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(b.value(d.Expr))
		if c, ok := d.Expr.(*nodes.Column); ok && c.Name == d.Name {
			continue
		}
		sb.WriteString(" AS ")
		sb.WriteString(b.ident(d.Name))
	}
}

func (b *baseVisitor) writePaging(sb *strings.Builder, n *nodes.Select) {
	if !n.Paged() {
		return
	}
	switch b.d.Take {
	case dialect.TakeLimit:
		if n.Take != nil {
			sb.WriteString(b.nl())
			sb.WriteString("LIMIT ")
			sb.WriteString(b.count(n.Take))
		} else if b.d.OffsetWithoutLimit != "" {
			sb.WriteString(b.nl())
			sb.WriteString("LIMIT ")
			sb.WriteString(b.d.OffsetWithoutLimit)
		}
		if n.Skip != nil {
			sb.WriteString(b.nl())
			sb.WriteString("OFFSET ")
			sb.WriteString(b.count(n.Skip))
		}
	case dialect.TakeFetch:
		sb.WriteString(b.nl())
		sb.WriteString("OFFSET ")
		if n.Skip != nil {
			sb.WriteString(b.count(n.Skip))
		} else {
			sb.WriteString("0")
		}
		sb.WriteString(" ROWS")
		if n.Take != nil {
			sb.WriteString(" FETCH NEXT ")
			sb.WriteString(b.count(n.Take))
			sb.WriteString(" ROWS ONLY")
		}
	default:
		if n.Skip != nil {
			b.unsupported("SKIP", "paging must be rewritten before rendering")
		}
	}
}

// count renders a row count, parenthesizing anything but a literal or
// placeholder.
func (b *baseVisitor) count(n nodes.Node) string {
	switch n.(type) {
	case *nodes.Constant, *nodes.Parameter:
		return b.value(n)
	}
	return "(" + b.value(n) + ")"
}

func (b *baseVisitor) orderings(os []nodes.Ordering) string {
	parts := make([]string, len(os))
	for i, o := range os {
		parts[i] = b.value(o.Expr)
		if o.Direction == nodes.Desc {
			parts[i] += " DESC"
		}
	}
	return strings.Join(parts, ", ")
}

func (b *baseVisitor) VisitJoin(n *nodes.Join) string {
	left := b.source(n.Left)
	var right string
	if _, nested := n.Right.(*nodes.Join); nested {
		right = "(" + b.source(n.Right) + ")"
	} else {
		right = b.source(n.Right)
	}
	sep := b.nl()
	switch n.JoinKind {
	case nodes.CrossJoin:
		return left + sep + "CROSS JOIN " + right
	case nodes.InnerJoin:
		return left + sep + "INNER JOIN " + right + " ON " + b.predicate(n.Condition)
	case nodes.LeftOuterJoin, nodes.SingletonLeftOuterJoin:
		return left + sep + "LEFT OUTER JOIN " + right + " ON " + b.predicate(n.Condition)
	case nodes.CrossApply, nodes.OuterApply:
		return left + sep + b.apply(n.JoinKind, right)
	}
	return b.unsupported(n.JoinKind.String(), "")
}

func (b *baseVisitor) apply(kind nodes.JoinKind, right string) string {
	switch b.d.Apply {
	case dialect.ApplyNative:
		return kind.String() + " " + right
	case dialect.ApplyLateral:
		if kind == nodes.CrossApply {
			return "CROSS JOIN LATERAL " + right
		}
		return "LEFT JOIN LATERAL " + right + " ON TRUE"
	}
	return b.unsupported(kind.String(), "")
}

func (b *baseVisitor) VisitAggregate(n *nodes.Aggregate) string {
	arg := "*"
	if n.Arg != nil {
		arg = b.value(n.Arg)
	}
	if n.Distinct {
		arg = "DISTINCT " + arg
	}
	s := n.Func.String() + "(" + arg + ")"
	if n.Func == nodes.AggAvg && b.d.AvgDigits > 0 {
		s = "TRUNC(" + s + ", " + strconv.Itoa(b.d.AvgDigits) + ")"
	}
	return s
}

func (b *baseVisitor) VisitAggregateSubquery(n *nodes.AggregateSubquery) string {
	panic("relq: group aggregate was not positioned before rendering")
}

func (b *baseVisitor) VisitRowNumber(n *nodes.RowNumber) string {
	order := "(SELECT 1)"
	if len(n.OrderBy) > 0 {
		order = b.orderings(n.OrderBy)
	}
	return "ROW_NUMBER() OVER (ORDER BY " + order + ")"
}

// valueTest reports whether a conditional test must be compared with 0
// rather than used as a WHEN condition.
func (b *baseVisitor) valueTest(test nodes.Node) bool {
	if isPredicate(test) {
		return false
	}
	return !b.d.NativeBool || test.Type().Kind != nodes.TypeBool
}

func (b *baseVisitor) VisitConditional(n *nodes.Conditional) string {
	if b.valueTest(n.Test) {
		test := b.value(n.Test)
		ifFalse := b.value(n.IfFalse)
		ifTrue := b.value(n.IfTrue)
		return "CASE " + test + " WHEN 0 THEN " + ifFalse + " ELSE " + ifTrue + " END"
	}
	var sb strings.Builder
	sb.WriteString("CASE")
	var cur nodes.Node = n
	for {
		c, ok := cur.(*nodes.Conditional)
		if !ok || b.valueTest(c.Test) {
			break
		}
		sb.WriteString(" WHEN ")
		sb.WriteString(b.predicate(c.Test))
		sb.WriteString(" THEN ")
		sb.WriteString(b.value(c.IfTrue))
		cur = c.IfFalse
	}
	if !nodes.IsNullConstant(cur) {
		sb.WriteString(" ELSE ")
		sb.WriteString(b.value(cur))
	}
	sb.WriteString(" END")
	return sb.String()
}

func (b *baseVisitor) VisitBinary(n *nodes.Binary) string {
	switch n.Op {
	case nodes.OpAnd:
		return b.logical(n, nodes.OpOr)
	case nodes.OpOr:
		return b.logical(n, -1)
	}
	tmpl, ok := b.d.Operator(n.Op)
	if !ok {
		return b.unsupported("operator "+n.Op.String(), "")
	}
	if n.Op == nodes.OpNullSafeEq {
		tmpl = b.d.NullSafeEq
		if tmpl == "" {
			tmpl = "(?1 = ?2 OR (?1 IS NULL AND ?2 IS NULL))"
		}
	}
	if tmpl != "" {
		return dialect.Expand(tmpl, func(i int) string {
			if i == 1 {
				return b.operand(n.Left)
			}
			return b.operand(n.Right)
		})
	}
	if n.Op == nodes.OpLike {
		return b.operand(n.Left) + " LIKE " + b.operand(n.Right) + ` ESCAPE '\'`
	}
	if int(n.Op) >= len(binaryOpSQL) || binaryOpSQL[n.Op] == "" {
		return b.unsupported("operator "+n.Op.String(), "")
	}
	return b.operand(n.Left) + " " + binaryOpSQL[n.Op] + " " + b.operand(n.Right)
}

// logical renders AND/OR, parenthesizing operands that use the weaker
// operator wrap.
func (b *baseVisitor) logical(n *nodes.Binary, wrap nodes.BinaryOp) string {
	side := func(x nodes.Node) string {
		s := b.predicate(x)
		if bx, ok := x.(*nodes.Binary); ok && bx.Op == wrap {
			return "(" + s + ")"
		}
		return s
	}
	left := side(n.Left)
	return left + " " + binaryOpSQL[n.Op] + " " + side(n.Right)
}

// operand renders a value operand of an operator, parenthesizing nested
// arithmetic.
func (b *baseVisitor) operand(n nodes.Node) string {
	s := b.value(n)
	if needsParens(n) {
		return "(" + s + ")"
	}
	return s
}

// needsParens returns true if the node should be wrapped in parentheses
// when used as an operand.
func needsParens(n nodes.Node) bool {
	switch n := n.(type) {
	case *nodes.Binary:
		return !n.Op.IsComparison() && !n.Op.IsLogical()
	case *nodes.Unary:
		return n.Op == nodes.OpNegate || n.Op == nodes.OpBitNot
	}
	return false
}

func (b *baseVisitor) VisitUnary(n *nodes.Unary) string {
	switch n.Op {
	case nodes.OpNot:
		return "NOT (" + b.predicate(n.Operand) + ")"
	case nodes.OpIsNull:
		return b.operand(n.Operand) + " IS NULL"
	case nodes.OpIsNotNull:
		return b.operand(n.Operand) + " IS NOT NULL"
	}
	tmpl, ok := b.d.UnaryOperator(n.Op)
	if !ok {
		return b.unsupported("operator "+n.Op.String(), "")
	}
	if tmpl != "" {
		return dialect.Expand(tmpl, func(int) string { return b.operand(n.Operand) })
	}
	return n.Op.String() + b.operand(n.Operand)
}

func (b *baseVisitor) VisitBetween(n *nodes.Between) string {
	expr := b.operand(n.Expr)
	low := b.operand(n.Low)
	high := b.operand(n.High)
	return expr + " BETWEEN " + low + " AND " + high
}

func (b *baseVisitor) VisitIn(n *nodes.In) string {
	expr := b.operand(n.Expr)
	if n.Select != nil {
		return expr + " IN " + b.subquery(n.Select)
	}
	if len(n.Values) == 0 {
		return "1 = 0"
	}
	vals := make([]string, len(n.Values))
	for i, v := range n.Values {
		vals[i] = b.value(v)
	}
	return expr + " IN (" + strings.Join(vals, ", ") + ")"
}

func (b *baseVisitor) VisitExists(n *nodes.Exists) string {
	return "EXISTS " + b.subquery(n.Select)
}

func (b *baseVisitor) VisitScalar(n *nodes.Scalar) string {
	return b.subquery(n.Select)
}

func (b *baseVisitor) VisitConvert(n *nodes.Convert) string {
	name, ok := b.d.CastTypes[n.T.Kind]
	if !ok {
		return b.unsupported("CAST to "+n.T.Kind.String(), "")
	}
	return "CAST(" + b.value(n.Operand) + " AS " + name + ")"
}

func (b *baseVisitor) VisitFunctionCall(n *nodes.FunctionCall) string {
	if !n.Bound() {
		return b.unsupported("function "+n.Name, "")
	}
	fn, ok := b.d.Functions.Lookup(n.Key)
	if !ok {
		return b.unsupported("function "+n.Name, "")
	}
	s, err := fn.Render(n, func(i int) string {
		if i < 1 || i > len(n.Args) {
			return b.fail(&qerr.ArgumentCountError{Function: n.Name, Expected: strconv.Itoa(i), Got: len(n.Args)})
		}
		return b.value(n.Args[i-1])
	})
	if err != nil {
		return b.fail(err)
	}
	return s
}

func (b *baseVisitor) VisitConstant(n *nodes.Constant) string {
	return b.literal(n.Value)
}

func (b *baseVisitor) literal(val any) string {
	if val == nil {
		return "NULL"
	}
	switch v := val.(type) {
	case string:
		return "'" + b.d.EscapeString(v) + "'"
	case bool:
		switch {
		case b.d.NativeBool && v:
			return "TRUE"
		case b.d.NativeBool:
			return "FALSE"
		case v:
			return "1"
		}
		return "0"
	case int:
		return strconv.FormatInt(int64(v), 10)
	case int8:
		return strconv.FormatInt(int64(v), 10)
	case int16:
		return strconv.FormatInt(int64(v), 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint8:
		return strconv.FormatUint(uint64(v), 10)
	case uint16:
		return strconv.FormatUint(uint64(v), 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case decimal.Decimal:
		return v.String()
	case time.Time:
		return "'" + v.Format("2006-01-02 15:04:05.999999") + "'"
	case []byte:
		return "X'" + hex.EncodeToString(v) + "'"
	}
	return b.unsupported(fmt.Sprintf("literal of type %T", val), "")
}

func (b *baseVisitor) VisitParameter(n *nodes.Parameter) string {
	switch b.d.Placeholder {
	case dialect.Numbered:
		i, ok := b.numbered[n.Name]
		if !ok {
			b.params = append(b.params, Param{Name: n.Name, Value: n.Value})
			i = len(b.params)
			b.numbered[n.Name] = i
		}
		return b.d.ParamPrefix + strconv.Itoa(i)
	case dialect.Named:
		if !b.named[n.Name] {
			b.named[n.Name] = true
			b.params = append(b.params, Param{Name: n.Name, Value: n.Value})
		}
		return b.d.ParamPrefix + n.Name
	}
	b.params = append(b.params, Param{Name: n.Name, Value: n.Value})
	return "?"
}

func (b *baseVisitor) VisitMember(n *nodes.Member) string {
	panic("relq: unbound member " + n.String() + " reached the SQL builder")
}

func (b *baseVisitor) VisitNavigation(n *nodes.Navigation) string {
	panic("relq: unbound navigation " + n.Relation + " reached the SQL builder")
}

func (b *baseVisitor) VisitRecord(n *nodes.Record) string {
	panic("relq: record reached the SQL builder")
}

func (b *baseVisitor) VisitProjection(n *nodes.Projection) string {
	panic("relq: projection reached the SQL builder")
}

func (b *baseVisitor) VisitClientJoin(n *nodes.ClientJoin) string {
	panic("relq: client join reached the SQL builder")
}

// isPredicate reports whether n is a condition rather than a value.
func isPredicate(n nodes.Node) bool {
	switch n := n.(type) {
	case *nodes.Binary:
		return n.Op.IsComparison() || n.Op.IsLogical() || n.Op == nodes.OpNullSafeEq
	case *nodes.Unary:
		return n.Op == nodes.OpNot || n.Op == nodes.OpIsNull || n.Op == nodes.OpIsNotNull
	case *nodes.Between, *nodes.In, *nodes.Exists:
		return true
	}
	return false
}
