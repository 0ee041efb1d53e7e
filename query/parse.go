package query

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bawdo/relq/nodes"
)

// ParseExpr parses the textual expression syntax used by query documents
// and the REPL:
//
//	Age > 18 and Name like 'A%'
//	{Id, Name, Dept: Dept.Name}
//	count() > $min
//	case when Age < 18 then 'minor' else 'adult' end
//
// $name refers to params[name]; an unknown parameter is an error.
func ParseExpr(input string, params map[string]any) (nodes.Node, error) {
	p := &parser{tokens: tokenize(input), params: params}
	if len(p.tokens) == 0 {
		return nil, errors.New("empty expression")
	}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.tokens) {
		return nil, fmt.Errorf("unexpected %q", p.tokens[p.pos])
	}
	return n, nil
}

// MustParseExpr is ParseExpr without parameters that panics on error, for
// tests and static queries.
func MustParseExpr(input string) nodes.Node {
	n, err := ParseExpr(input, nil)
	if err != nil {
		panic(err)
	}
	return n
}

// tokenize splits input into tokens, respecting single-quoted strings
// and recognising multi-char operators (!=, <>, >=, <=, ==) and punctuation.
// Dotted member paths stay one token.
func tokenize(input string) []string {
	var tokens []string
	var cur strings.Builder
	inQuote := false

	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	two := func(i int, s string) bool {
		return i+1 < len(input) && input[i:i+2] == s
	}

	for i := 0; i < len(input); i++ {
		ch := input[i]

		if inQuote {
			cur.WriteByte(ch)
			if ch == '\'' {
				if i+1 < len(input) && input[i+1] == '\'' {
					cur.WriteByte('\'')
					i++
				} else {
					inQuote = false
					flush()
				}
			}
			continue
		}

		switch {
		case ch == '\'':
			flush()
			cur.WriteByte(ch)
			inQuote = true

		case ch == '(' || ch == ')' || ch == ',' || ch == '{' || ch == '}' || ch == ':':
			flush()
			tokens = append(tokens, string(ch))

		case two(i, "!="), two(i, "<>"), two(i, "<="), two(i, ">="), two(i, "<<"), two(i, ">>"), two(i, "||"), two(i, "=="):
			flush()
			tokens = append(tokens, input[i:i+2])
			i++
		case ch == '=' || ch == '>' || ch == '<':
			flush()
			tokens = append(tokens, string(ch))
		case ch == '+' || ch == '-' || ch == '*' || ch == '/' || ch == '%' || ch == '&' || ch == '|' || ch == '^' || ch == '~':
			flush()
			tokens = append(tokens, string(ch))

		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			flush()

		default:
			cur.WriteByte(ch)
		}
	}
	flush()
	return tokens
}

// parseValue converts a literal token to a Go value.
func parseValue(token string) (any, error) {
	lower := strings.ToLower(token)
	if lower == "true" {
		return true, nil
	}
	if lower == "false" {
		return false, nil
	}
	if lower == "null" {
		return nil, nil
	}
	if strings.HasPrefix(token, "'") && strings.HasSuffix(token, "'") && len(token) >= 2 {
		inner := token[1 : len(token)-1]
		return strings.ReplaceAll(inner, "''", "'"), nil
	}
	if i, err := strconv.Atoi(token); err == nil {
		return i, nil
	}
	if f, err := strconv.ParseFloat(token, 64); err == nil {
		return f, nil
	}
	return nil, fmt.Errorf("cannot parse value: %s", token)
}

// isIdentifier returns true if the token looks like a member path (starts
// with a letter or underscore).
func isIdentifier(token string) bool {
	if len(token) == 0 {
		return false
	}
	ch := token[0]
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
}

func isKeyword(token string) bool {
	switch strings.ToLower(token) {
	case "and", "or", "not", "like", "between", "in", "is", "null", "true", "false",
		"case", "when", "then", "else", "end", "as":
		return true
	}
	return false
}

type parser struct {
	tokens []string
	pos    int
	params map[string]any
}

func (p *parser) peek() string {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}
	return ""
}

func (p *parser) peekKeyword(kw string) bool {
	return strings.EqualFold(p.peek(), kw)
}

func (p *parser) expect(tok string) error {
	if !strings.EqualFold(p.peek(), tok) {
		if p.pos >= len(p.tokens) {
			return fmt.Errorf("expected %s at end of expression", tok)
		}
		return fmt.Errorf("expected %s, got %q", tok, p.peek())
	}
	p.pos++
	return nil
}

func (p *parser) parseOr() (nodes.Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peekKeyword("or") {
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = nodes.Or(left, right)
	}
	return left, nil
}

func (p *parser) parseAnd() (nodes.Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peekKeyword("and") {
		p.pos++
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = nodes.And(left, right)
	}
	return left, nil
}

func (p *parser) parseNot() (nodes.Node, error) {
	if p.peekKeyword("not") {
		p.pos++
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return nodes.Not(operand), nil
	}
	return p.parseComparison()
}

var comparisonOps = map[string]nodes.BinaryOp{
	"=":  nodes.OpEq,
	"==": nodes.OpEq,
	"!=": nodes.OpNotEq,
	"<>": nodes.OpNotEq,
	"<":  nodes.OpLt,
	"<=": nodes.OpLtEq,
	">":  nodes.OpGt,
	">=": nodes.OpGtEq,
}

func (p *parser) parseComparison() (nodes.Node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	tok := p.peek()
	if op, ok := comparisonOps[tok]; ok {
		p.pos++
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return nodes.NewBinary(op, left, right), nil
	}

	negate := false
	if p.peekKeyword("not") && p.pos+1 < len(p.tokens) {
		next := strings.ToLower(p.tokens[p.pos+1])
		if next == "like" || next == "in" || next == "between" {
			negate = true
			p.pos++
		}
	}
	var out nodes.Node
	switch strings.ToLower(p.peek()) {
	case "like":
		p.pos++
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		out = nodes.NewBinary(nodes.OpLike, left, right)
	case "between":
		p.pos++
		low, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		if err := p.expect("and"); err != nil {
			return nil, err
		}
		high, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		out = nodes.NewBetween(left, low, high)
	case "in":
		p.pos++
		values, err := p.parseArgs()
		if err != nil {
			return nil, err
		}
		out = &nodes.In{Expr: left, Values: values}
	case "is":
		p.pos++
		op := nodes.OpIsNull
		if p.peekKeyword("not") {
			p.pos++
			op = nodes.OpIsNotNull
		}
		if err := p.expect("null"); err != nil {
			return nil, err
		}
		return nodes.NewUnary(op, left), nil
	default:
		return left, nil
	}
	if negate {
		return nodes.Not(out), nil
	}
	return out, nil
}

var additiveOps = map[string]nodes.BinaryOp{
	"+":  nodes.OpAdd,
	"-":  nodes.OpSub,
	"||": nodes.OpConcat,
	"|":  nodes.OpBitOr,
	"^":  nodes.OpBitXor,
}

var multiplicativeOps = map[string]nodes.BinaryOp{
	"*":  nodes.OpMul,
	"/":  nodes.OpDiv,
	"%":  nodes.OpMod,
	"&":  nodes.OpBitAnd,
	"<<": nodes.OpShiftLeft,
	">>": nodes.OpShiftRight,
}

func (p *parser) parseAdditive() (nodes.Node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := additiveOps[p.peek()]
		if !ok {
			return left, nil
		}
		p.pos++
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = nodes.NewBinary(op, left, right)
	}
}

func (p *parser) parseMultiplicative() (nodes.Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := multiplicativeOps[p.peek()]
		if !ok {
			return left, nil
		}
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = nodes.NewBinary(op, left, right)
	}
}

func (p *parser) parseUnary() (nodes.Node, error) {
	switch p.peek() {
	case "-":
		p.pos++
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if c, ok := operand.(*nodes.Constant); ok {
			switch v := c.Value.(type) {
			case int:
				return nodes.NewConstant(-v), nil
			case float64:
				return nodes.NewConstant(-v), nil
			}
		}
		return nodes.NewUnary(nodes.OpNegate, operand), nil
	case "~":
		p.pos++
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return nodes.NewUnary(nodes.OpBitNot, operand), nil
	}
	return p.parseAtom()
}

// parseAtom parses a single atom: a parenthesized expression, a record, a
// CASE expression, a function call, a parameter, a member path or a
// literal value.
func (p *parser) parseAtom() (nodes.Node, error) {
	if p.pos >= len(p.tokens) {
		return nil, errors.New("expected expression")
	}
	token := p.tokens[p.pos]
	lower := strings.ToLower(token)

	switch {
	case token == "(":
		p.pos++
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		return n, p.expect(")")
	case token == "{":
		return p.parseRecord()
	case lower == "case":
		return p.parseCase()
	case strings.HasPrefix(token, "$") && len(token) > 1:
		p.pos++
		name := token[1:]
		v, ok := p.params[name]
		if !ok {
			return nil, fmt.Errorf("unknown parameter $%s", name)
		}
		return nodes.NewParameter(name, v), nil
	}

	if p.pos+1 < len(p.tokens) && p.tokens[p.pos+1] == "(" && isIdentifier(token) && !isKeyword(token) {
		return p.parseCall()
	}

	if isIdentifier(token) && !isKeyword(token) {
		p.pos++
		return nodes.NewMember(token), nil
	}

	val, err := parseValue(token)
	if err != nil {
		return nil, err
	}
	p.pos++
	return nodes.NewConstant(val), nil
}

// parseArgs parses a parenthesized, comma separated expression list.
func (p *parser) parseArgs() ([]nodes.Node, error) {
	if err := p.expect("("); err != nil {
		return nil, err
	}
	var args []nodes.Node
	for p.peek() != ")" {
		if len(args) > 0 {
			if err := p.expect(","); err != nil {
				return nil, err
			}
		}
		arg, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	p.pos++
	return args, nil
}

// parseCall parses NAME(args) with special handling for cast(expr as type)
// and if(test, a, b).
func (p *parser) parseCall() (nodes.Node, error) {
	name := p.tokens[p.pos]
	p.pos++

	if strings.EqualFold(name, "cast") {
		p.pos++ // skip (
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect("as"); err != nil {
			return nil, errors.New("expected AS in CAST expression")
		}
		t, err := nodes.ParseType(p.peek())
		if err != nil {
			return nil, err
		}
		p.pos++
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		return &nodes.Convert{Operand: expr, T: t}, nil
	}

	args, err := p.parseArgs()
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(name, "if") {
		if len(args) != 3 {
			return nil, fmt.Errorf("if expects 3 arguments, got %d", len(args))
		}
		return nodes.NewConditional(args[0], args[1], args[2]), nil
	}
	return nodes.NewFunctionCall(name, nodes.UnknownType, args...), nil
}

// parseRecord parses {a, b.c, name: expr}.
func (p *parser) parseRecord() (nodes.Node, error) {
	p.pos++ // skip {
	var fields []nodes.Field
	for p.peek() != "}" {
		if p.pos >= len(p.tokens) {
			return nil, errors.New("expected } after record fields")
		}
		if len(fields) > 0 {
			if err := p.expect(","); err != nil {
				return nil, err
			}
		}
		if p.pos+1 < len(p.tokens) && p.tokens[p.pos+1] == ":" && isIdentifier(p.peek()) {
			name := p.peek()
			p.pos += 2
			expr, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			fields = append(fields, nodes.Field{Name: name, Expr: expr})
			continue
		}
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		m, ok := expr.(*nodes.Member)
		if !ok {
			return nil, fmt.Errorf("record field %s needs a name", nodes.Format(expr))
		}
		fields = append(fields, nodes.Field{Name: m.Path[len(m.Path)-1], Expr: m})
	}
	p.pos++
	return nodes.NewRecord("", fields...), nil
}

// parseCase parses CASE WHEN c THEN v [WHEN ...] [ELSE v] END into nested
// conditionals.
func (p *parser) parseCase() (nodes.Node, error) {
	p.pos++ // skip CASE
	type branch struct{ test, value nodes.Node }
	var branches []branch
	for p.peekKeyword("when") {
		p.pos++
		test, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect("then"); err != nil {
			return nil, err
		}
		value, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		branches = append(branches, branch{test, value})
	}
	if len(branches) == 0 {
		return nil, errors.New("expected WHEN after CASE")
	}
	var out nodes.Node = nodes.NewConstant(nil)
	if p.peekKeyword("else") {
		p.pos++
		v, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		out = v
	}
	if err := p.expect("end"); err != nil {
		return nil, err
	}
	for i := len(branches) - 1; i >= 0; i-- {
		out = nodes.NewConditional(branches[i].test, branches[i].value, out)
	}
	return out, nil
}
