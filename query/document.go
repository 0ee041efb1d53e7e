package query

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bawdo/relq/nodes"
)

// Document is the YAML form of a query:
//
//	from: User
//	params:
//	  minAge: 18
//	ops:
//	  - where: Age > $minAge
//	  - order_by: Name
//	  - skip: 10
//	  - take: 5
//	  - select: "{Id, Name}"
//
// Each entry of ops has exactly one key naming the operator.
type Document struct {
	From   string                 `yaml:"from"`
	As     string                 `yaml:"as,omitempty"`
	Params map[string]any         `yaml:"params,omitempty"`
	Ops    []map[string]yaml.Node `yaml:"ops"`
}

// JoinDoc is the YAML form of a join operator.
type JoinDoc struct {
	Entity string `yaml:"entity"`
	As     string `yaml:"as"`
	Outer  string `yaml:"outer"`
	Inner  string `yaml:"inner"`
}

// SelectManyDoc is the YAML form of select_many.
type SelectManyDoc struct {
	Collection string `yaml:"collection"`
	As         string `yaml:"as"`
}

// LoadFile reads a YAML query document from path.
func LoadFile(path string) (Query, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Query{}, fmt.Errorf("reading query: %w", err)
	}
	q, err := Parse(data)
	if err != nil {
		return Query{}, fmt.Errorf("%s: %w", path, err)
	}
	return q, nil
}

// Load reads a YAML query document from r.
func Load(r io.Reader) (Query, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Query{}, fmt.Errorf("reading query: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML query document.
func Parse(data []byte) (Query, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return Query{}, fmt.Errorf("decoding query: %w", err)
	}
	return doc.Query()
}

// Query converts the document into a query.
func (d *Document) Query() (Query, error) {
	if d.From == "" {
		return Query{}, errors.New("query document needs a from entity")
	}
	q := From(d.From, d.As)
	for i, entry := range d.Ops {
		if len(entry) != 1 {
			return Query{}, fmt.Errorf("ops[%d]: expected exactly one operator, got %d", i, len(entry))
		}
		for name, value := range entry {
			next, err := d.apply(q, name, &value)
			if err != nil {
				return Query{}, fmt.Errorf("ops[%d] %s: %w", i, name, err)
			}
			q = next
		}
	}
	return q, nil
}

func (d *Document) expr(value *yaml.Node) (nodes.Node, error) {
	if value.Kind != yaml.ScalarNode {
		return nil, fmt.Errorf("line %d: expected an expression", value.Line)
	}
	return ParseExpr(value.Value, d.Params)
}

func (d *Document) count(value *yaml.Node) (nodes.Node, error) {
	if value.Kind != yaml.ScalarNode {
		return nil, fmt.Errorf("line %d: expected a count", value.Line)
	}
	if name, ok := strings.CutPrefix(value.Value, "$"); ok {
		v, ok := d.Params[name]
		if !ok {
			return nil, fmt.Errorf("unknown parameter $%s", name)
		}
		return nodes.NewParameter(name, v), nil
	}
	n, err := strconv.Atoi(value.Value)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("line %d: count must be a non-negative integer", value.Line)
	}
	return nodes.NewConstant(n), nil
}

func truthy(value *yaml.Node) bool {
	var b bool
	return value.Decode(&b) == nil && b
}

func (d *Document) apply(q Query, name string, value *yaml.Node) (Query, error) {
	switch strings.ToLower(name) {
	case "where", "select", "group_by", "order_by", "order_by_desc", "then_by", "then_by_desc":
		e, err := d.expr(value)
		if err != nil {
			return q, err
		}
		switch strings.ToLower(name) {
		case "where":
			return q.Where(e), nil
		case "select":
			return q.Select(e), nil
		case "group_by":
			return q.GroupBy(e), nil
		case "order_by":
			return q.OrderBy(e), nil
		case "order_by_desc":
			return q.OrderByDesc(e), nil
		case "then_by":
			return q.ThenBy(e), nil
		default:
			return q.ThenByDesc(e), nil
		}
	case "skip", "take":
		n, err := d.count(value)
		if err != nil {
			return q, err
		}
		if strings.EqualFold(name, "skip") {
			return q.Skip(n), nil
		}
		return q.Take(n), nil
	case "join", "left_join":
		var j JoinDoc
		if err := value.Decode(&j); err != nil {
			return q, err
		}
		outer, err := ParseExpr(j.Outer, d.Params)
		if err != nil {
			return q, fmt.Errorf("outer: %w", err)
		}
		inner, err := ParseExpr(j.Inner, d.Params)
		if err != nil {
			return q, fmt.Errorf("inner: %w", err)
		}
		if strings.EqualFold(name, "join") {
			return q.Join(j.Entity, j.As).On(outer, inner), nil
		}
		return q.LeftJoin(j.Entity, j.As).On(outer, inner), nil
	case "cross_join":
		var j JoinDoc
		if err := value.Decode(&j); err != nil {
			return q, err
		}
		return q.CrossJoin(j.Entity, j.As), nil
	case "select_many":
		var s SelectManyDoc
		if err := value.Decode(&s); err != nil {
			return q, err
		}
		return q.SelectMany(s.Collection, s.As), nil
	case "distinct":
		if truthy(value) {
			return q.Distinct(), nil
		}
		return q, nil
	case "count":
		return q.Count(), nil
	case "sum", "avg", "min", "max":
		e, err := d.expr(value)
		if err != nil {
			return q, err
		}
		f, _ := nodes.ParseAggregate(name)
		return q.with(Operator{Kind: OpAggregate, Func: f, Expr: e}), nil
	case "first":
		return q.First(), nil
	case "first_or_default":
		return q.FirstOrDefault(), nil
	case "single":
		return q.Single(), nil
	case "single_or_default":
		return q.SingleOrDefault(), nil
	case "include":
		return q.Include(value.Value), nil
	}
	return q, fmt.Errorf("unknown operator %q", name)
}
