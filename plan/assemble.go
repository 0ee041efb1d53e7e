package plan

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/visitors"
)

var (
	// ErrNoRows is returned by First and Single results over an empty set.
	ErrNoRows = errors.New("relq: sequence contains no elements")
	// ErrMultipleRows is returned by Single results over more than one row.
	ErrMultipleRows = errors.New("relq: sequence contains more than one element")
)

// Projector shapes one fetched row into a value. Client-joined
// collections and parameter values are read through the scope.
type Projector func(row []any, s *Scope) (any, error)

// Fetcher runs one statement and returns its rows as positional values.
type Fetcher func(ctx context.Context, sql string, params []visitors.Param) ([][]any, error)

// Scope holds the rows fetched for one plan and for its children.
type Scope struct {
	plan     *Plan
	rows     [][]any
	children []*Scope

	// groups indexes rows by the inner key; set for child scopes only.
	groups map[string][]int
}

// Assemble runs p and its children through fetch and shapes the result
// according to p's aggregator: a []any for many-row results, otherwise a
// single value.
func (p *Plan) Assemble(ctx context.Context, fetch Fetcher) (any, error) {
	s, err := p.load(ctx, fetch, nil)
	if err != nil {
		return nil, err
	}
	all := make([]int, len(s.rows))
	for i := range all {
		all[i] = i
	}
	return s.project(all)
}

// Project shapes rows that were fetched elsewhere. Plans with children
// need Assemble.
func (p *Plan) Project(rows [][]any) (any, error) {
	if len(p.Children) > 0 {
		return nil, errors.New("relq: plan has client-joined statements; use Assemble")
	}
	s := &Scope{plan: p, rows: rows}
	all := make([]int, len(rows))
	for i := range all {
		all[i] = i
	}
	return s.project(all)
}

func (p *Plan) load(ctx context.Context, fetch Fetcher, innerKey []Projector) (*Scope, error) {
	rows, err := fetch(ctx, p.SQL, p.Params)
	if err != nil {
		return nil, err
	}
	s := &Scope{plan: p, rows: rows}
	if innerKey != nil {
		s.groups = make(map[string][]int)
		for i, row := range rows {
			key, err := evalKey(innerKey, row, s)
			if err != nil {
				return nil, err
			}
			s.groups[key] = append(s.groups[key], i)
		}
	}
	for _, c := range p.Children {
		if len(rows) == 0 {
			s.children = append(s.children, &Scope{plan: c.Plan, groups: map[string][]int{}})
			continue
		}
		cs, err := c.Plan.load(ctx, fetch, c.InnerKey)
		if err != nil {
			return nil, fmt.Errorf("client join: %w", err)
		}
		s.children = append(s.children, cs)
	}
	return s, nil
}

// Param returns the value of the named parameter of the scope's plan.
func (s *Scope) Param(name string) (any, bool) { return s.plan.Value(name) }

func (s *Scope) project(idx []int) (any, error) {
	switch s.plan.Aggregator {
	case nodes.ProjectMany:
		out := make([]any, 0, len(idx))
		for _, i := range idx {
			v, err := s.plan.Projector(s.rows[i], s)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case nodes.ProjectFirst, nodes.ProjectSingle:
		if len(idx) == 0 {
			return nil, ErrNoRows
		}
	}
	if len(idx) == 0 {
		return nil, nil
	}
	single := s.plan.Aggregator == nodes.ProjectSingle || s.plan.Aggregator == nodes.ProjectSingleOrDefault
	if single && len(idx) > 1 {
		return nil, ErrMultipleRows
	}
	return s.plan.Projector(s.rows[idx[0]], s)
}

func evalKey(key []Projector, row []any, s *Scope) (string, error) {
	var sb strings.Builder
	for i, k := range key {
		v, err := k(row, s)
		if err != nil {
			return "", err
		}
		if i > 0 {
			sb.WriteByte(0)
		}
		sb.WriteString(keyPart(v))
	}
	return sb.String(), nil
}

// keyPart renders v so that equal numbers compare equal whatever their Go
// representation.
func keyPart(v any) string {
	switch v := v.(type) {
	case nil:
		return "\x01"
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return decimal.NewFromFloat(v).String()
	case decimal.Decimal:
		return v.String()
	case []byte:
		return string(v)
	}
	return fmt.Sprint(v)
}
