package mapping

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bawdo/relq/nodes"
)

// Document is the YAML form of a model.
type Document struct {
	Entities []EntityDoc `yaml:"entities"`
}

// EntityDoc is the YAML form of an Entity.
type EntityDoc struct {
	Name       string        `yaml:"name"`
	Table      string        `yaml:"table,omitempty"`
	SoftDelete string        `yaml:"soft_delete,omitempty"`
	Fields     []FieldDoc    `yaml:"fields"`
	Relations  []RelationDoc `yaml:"relations,omitempty"`
}

// FieldDoc is the YAML form of a Field. Type takes the names accepted by
// nodes.ParseType, e.g. "int64" or "string?".
type FieldDoc struct {
	Name   string `yaml:"name"`
	Column string `yaml:"column,omitempty"`
	Type   string `yaml:"type"`
	Key    bool   `yaml:"key,omitempty"`
}

// RelationDoc is the YAML form of a Relation.
type RelationDoc struct {
	Name     string   `yaml:"name"`
	Kind     string   `yaml:"kind"`
	Target   string   `yaml:"target"`
	ThisKey  []string `yaml:"this_key"`
	OtherKey []string `yaml:"other_key"`
}

// LoadFile reads a YAML model from path.
func LoadFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading mapping: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Load reads a YAML model from r.
func Load(r io.Reader) (*Model, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading mapping: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML model. Unknown keys are rejected.
func Parse(data []byte) (*Model, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing mapping: %w", err)
	}
	return doc.Model()
}

// Model converts the document into a validated model.
func (d *Document) Model() (*Model, error) {
	entities := make([]*Entity, 0, len(d.Entities))
	for _, ed := range d.Entities {
		e := &Entity{Name: ed.Name, Table: ed.Table, SoftDelete: ed.SoftDelete}
		for _, fd := range ed.Fields {
			t, err := nodes.ParseType(fd.Type)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", ed.Name, fd.Name, err)
			}
			e.Fields = append(e.Fields, Field{Name: fd.Name, Column: fd.Column, Type: t, Key: fd.Key})
		}
		for _, rd := range ed.Relations {
			kind, err := ParseRelationKind(rd.Kind)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", ed.Name, rd.Name, err)
			}
			e.Relations = append(e.Relations, Relation{
				Name:     rd.Name,
				Kind:     kind,
				Target:   rd.Target,
				ThisKey:  rd.ThisKey,
				OtherKey: rd.OtherKey,
			})
		}
		entities = append(entities, e)
	}
	return NewModel(entities...)
}
