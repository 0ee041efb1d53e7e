// Package mapping describes how entities map onto tables: the table name,
// the column bound to each field and the relations between entities.
package mapping

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/bawdo/relq/nodes"
)

// RelationKind is the cardinality of a relation seen from its owner.
type RelationKind int

const (
	ManyToOne RelationKind = iota
	OneToMany
	OneToOne
)

var relationKindNames = [...]string{
	ManyToOne: "many-to-one",
	OneToMany: "one-to-many",
	OneToOne:  "one-to-one",
}

func (k RelationKind) String() string {
	if int(k) < len(relationKindNames) {
		return relationKindNames[k]
	}
	return "unknown"
}

// ParseRelationKind accepts the names produced by String, plus
// "belongs-to" and "has-many".
func ParseRelationKind(s string) (RelationKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "many-to-one", "manytoone", "belongs-to":
		return ManyToOne, nil
	case "one-to-many", "onetomany", "has-many":
		return OneToMany, nil
	case "one-to-one", "onetoone", "has-one":
		return OneToOne, nil
	}
	return 0, fmt.Errorf("unknown relation kind %q", s)
}

// Collection reports whether navigating the relation yields many rows.
func (k RelationKind) Collection() bool { return k == OneToMany }

// Field binds an entity member to a column.
type Field struct {
	Name   string
	Column string
	Type   nodes.Type
	Key    bool
}

// Relation links an entity to Target. ThisKey and OtherKey are field
// names on the owning and target entity, compared pairwise.
type Relation struct {
	Name     string
	Kind     RelationKind
	Target   string
	ThisKey  []string
	OtherKey []string
}

// Entity is a mapped row type.
type Entity struct {
	Name      string
	Table     string
	Fields    []Field
	Relations []Relation
	// SoftDelete names the field that is non-null for deleted rows.
	SoftDelete string
}

// Field returns the named field. Names match exactly first, then
// case-insensitively.
func (e *Entity) Field(name string) (*Field, bool) {
	for i := range e.Fields {
		if e.Fields[i].Name == name {
			return &e.Fields[i], true
		}
	}
	for i := range e.Fields {
		if strings.EqualFold(e.Fields[i].Name, name) {
			return &e.Fields[i], true
		}
	}
	return nil, false
}

// Relation returns the named relation, matched like Field.
func (e *Entity) Relation(name string) (*Relation, bool) {
	for i := range e.Relations {
		if e.Relations[i].Name == name {
			return &e.Relations[i], true
		}
	}
	for i := range e.Relations {
		if strings.EqualFold(e.Relations[i].Name, name) {
			return &e.Relations[i], true
		}
	}
	return nil, false
}

// Keys returns the primary-key fields in declaration order.
func (e *Entity) Keys() []Field {
	var out []Field
	for _, f := range e.Fields {
		if f.Key {
			out = append(out, f)
		}
	}
	return out
}

// Model is a validated set of entities.
type Model struct {
	entities []*Entity
	byName   map[string]*Entity
}

// NewModel validates the entities and indexes them by name.
func NewModel(entities ...*Entity) (*Model, error) {
	m := &Model{byName: make(map[string]*Entity, len(entities))}
	var errs []error
	for _, e := range entities {
		if e.Name == "" {
			errs = append(errs, errors.New("entity without a name"))
			continue
		}
		if _, dup := m.byName[strings.ToLower(e.Name)]; dup {
			errs = append(errs, fmt.Errorf("entity %s declared twice", e.Name))
			continue
		}
		if e.Table == "" {
			e.Table = e.Name
		}
		m.byName[strings.ToLower(e.Name)] = e
		m.entities = append(m.entities, e)
	}
	for _, e := range m.entities {
		errs = append(errs, m.validate(e)...)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid mapping: %w", err)
	}
	return m, nil
}

// MustModel is NewModel that panics on error, for tests and static models.
func MustModel(entities ...*Entity) *Model {
	m, err := NewModel(entities...)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Model) validate(e *Entity) []error {
	var errs []error
	seen := make(map[string]bool)
	for i := range e.Fields {
		f := &e.Fields[i]
		if f.Column == "" {
			f.Column = f.Name
		}
		if seen[strings.ToLower(f.Name)] {
			errs = append(errs, fmt.Errorf("%s.%s declared twice", e.Name, f.Name))
		}
		seen[strings.ToLower(f.Name)] = true
	}
	for _, r := range e.Relations {
		if seen[strings.ToLower(r.Name)] {
			errs = append(errs, fmt.Errorf("%s.%s clashes with a field", e.Name, r.Name))
		}
		seen[strings.ToLower(r.Name)] = true
		target, ok := m.Entity(r.Target)
		if !ok {
			errs = append(errs, fmt.Errorf("%s.%s targets unknown entity %s", e.Name, r.Name, r.Target))
			continue
		}
		if len(r.ThisKey) == 0 || len(r.ThisKey) != len(r.OtherKey) {
			errs = append(errs, fmt.Errorf("%s.%s needs matching key lists", e.Name, r.Name))
			continue
		}
		for _, k := range r.ThisKey {
			if _, ok := e.Field(k); !ok {
				errs = append(errs, fmt.Errorf("%s.%s: unknown key field %s", e.Name, r.Name, k))
			}
		}
		for _, k := range r.OtherKey {
			if _, ok := target.Field(k); !ok {
				errs = append(errs, fmt.Errorf("%s.%s: unknown key field %s.%s", e.Name, r.Name, target.Name, k))
			}
		}
	}
	if e.SoftDelete != "" {
		if _, ok := e.Field(e.SoftDelete); !ok {
			errs = append(errs, fmt.Errorf("%s: soft-delete field %s is not mapped", e.Name, e.SoftDelete))
		}
	}
	return errs
}

// Entity looks up an entity by name, case-insensitively.
func (m *Model) Entity(name string) (*Entity, bool) {
	e, ok := m.byName[strings.ToLower(name)]
	return e, ok
}

// Entities returns the entities in declaration order.
func (m *Model) Entities() []*Entity {
	return slices.Clone(m.entities)
}
