// Package softdelete provides a Transformer that filters out soft-deleted
// rows by injecting "column IS NULL" conditions into every select that
// reads a soft-deleted table.
//
// By default it filters on "deleted_at" for every table. Tables read on
// the optional side of an outer join get the condition in the join
// condition, so the outer row survives when the joined row is deleted.
//
// # Basic usage
//
//	sd := softdelete.New()
//	plan, err := translate.Compile(q, model, d, translate.WithTransformers(sd))
//	// SELECT ... FROM "users" AS t0 WHERE t0."deleted_at" IS NULL
//
// # From the mapping
//
// Entities declaring soft_delete in the mapping document are filtered on
// the column of that field; other tables are left alone:
//
//	sd := softdelete.New(softdelete.WithModel(model))
//
// # Per-table columns
//
//	sd := softdelete.New(
//	    softdelete.WithTableColumn("users", "deleted_at"),
//	    softdelete.WithTableColumn("posts", "removed_at"),
//	)
//
// # REPL usage
//
//	relq> plugin softdelete
//	relq> plugin softdelete removed_at on users posts
//	relq> plugin off softdelete
package softdelete

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/bawdo/relq/mapping"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/plugins"
)

// SoftDelete is a Transformer that adds IS NULL conditions for a
// soft-delete column on every referenced table (or a configured subset).
type SoftDelete struct {
	plugins.BaseTransformer
	Column  string
	Columns map[string]string // per-table column overrides (table name → column name)
	tables  map[string]bool   // nil means apply to all tables
	types   map[string]nodes.Type
}

// Option configures a SoftDelete transformer.
type Option func(*SoftDelete)

// WithColumn sets the soft-delete column name. Default is "deleted_at".
func WithColumn(name string) Option {
	return func(sd *SoftDelete) { sd.Column = name }
}

// WithTables restricts the plugin to only the named tables.
func WithTables(names ...string) Option {
	return func(sd *SoftDelete) {
		if sd.tables == nil {
			sd.tables = make(map[string]bool, len(names))
		}
		for _, n := range names {
			sd.tables[n] = true
		}
	}
}

// WithTableColumn sets a per-table column override. The table is
// automatically added to the whitelist, restricting the plugin's scope.
func WithTableColumn(table, column string) Option {
	return func(sd *SoftDelete) {
		if sd.Columns == nil {
			sd.Columns = make(map[string]string)
		}
		sd.Columns[table] = column
		WithTables(table)(sd)
	}
}

// WithModel filters the tables of the entities that declare a
// soft-delete field, on that field's column.
func WithModel(m *mapping.Model) Option {
	return func(sd *SoftDelete) {
		if sd.tables == nil {
			sd.tables = make(map[string]bool)
		}
		for _, e := range m.Entities() {
			if e.SoftDelete == "" {
				continue
			}
			f, ok := e.Field(e.SoftDelete)
			if !ok {
				continue
			}
			WithTableColumn(e.Table, f.Column)(sd)
			if sd.types == nil {
				sd.types = make(map[string]nodes.Type)
			}
			sd.types[e.Table] = f.Type.Null()
		}
	}
}

// New creates a SoftDelete transformer with the given options.
func New(opts ...Option) *SoftDelete {
	sd := &SoftDelete{Column: "deleted_at"}
	for _, o := range opts {
		o(sd)
	}
	return sd
}

// TransformSelect adds "column IS NULL" for each matching table read by
// the select.
func (sd *SoftDelete) TransformSelect(s *nodes.Select) (*nodes.Select, error) {
	from, where := s.From, s.Where
	for _, ref := range plugins.CollectTables(s) {
		if !sd.appliesTo(ref.Name) {
			continue
		}
		cond := nodes.IsNull(nodes.NewColumn(ref.Alias, sd.columnFor(ref.Name), sd.typeFor(ref.Name)))
		if ref.Optional {
			from = plugins.RestrictJoin(from, ref.Alias, cond)
			continue
		}
		where = nodes.AndAlso(where, cond)
	}
	if from == s.From && where == s.Where {
		return s, nil
	}
	return s.WithFrom(from).WithWhere(where), nil
}

// CacheKey describes the configuration for plan caching.
func (sd *SoftDelete) CacheKey() string {
	var sb strings.Builder
	sb.WriteString(sd.Column)
	for _, t := range slices.Sorted(maps.Keys(sd.tables)) {
		fmt.Fprintf(&sb, ",%s=%s", t, sd.columnFor(t))
	}
	return sb.String()
}

func (sd *SoftDelete) appliesTo(tableName string) bool {
	if sd.tables == nil {
		return true
	}
	return sd.tables[tableName]
}

// columnFor returns the column name to use for the given table.
// It checks Columns for a per-table override, falling back to Column.
func (sd *SoftDelete) columnFor(tableName string) string {
	if col, ok := sd.Columns[tableName]; ok {
		return col
	}
	return sd.Column
}

func (sd *SoftDelete) typeFor(tableName string) nodes.Type {
	if t, ok := sd.types[tableName]; ok {
		return t
	}
	return nodes.DateTimeType.Null()
}
