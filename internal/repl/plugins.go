package repl

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bawdo/relq/mapping"
	"github.com/bawdo/relq/plugins"
	"github.com/bawdo/relq/plugins/softdelete"
)

// pluginEntry represents an enabled plugin in the registry.
type pluginEntry struct {
	name    string
	factory func(m *mapping.Model) plugins.Transformer // fresh instance per compile
	status  func() string                              // human-readable status for display
}

// pluginRegistry holds the currently enabled plugins.
type pluginRegistry struct {
	entries []pluginEntry // ordered; plugins apply in registration order
}

// register adds or replaces a plugin by name.
func (r *pluginRegistry) register(entry pluginEntry) {
	for i, e := range r.entries {
		if e.name == entry.name {
			r.entries[i] = entry
			return
		}
	}
	r.entries = append(r.entries, entry)
}

// deregister removes a plugin by name. Returns false if not found.
func (r *pluginRegistry) deregister(name string) bool {
	for i, e := range r.entries {
		if e.name == name {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (r *pluginRegistry) deregisterAll() {
	r.entries = nil
}

func (r *pluginRegistry) get(name string) (pluginEntry, bool) {
	for _, e := range r.entries {
		if e.name == name {
			return e, true
		}
	}
	return pluginEntry{}, false
}

func (r *pluginRegistry) names() []string {
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.name
	}
	return out
}

// transformers instantiates every enabled plugin for m.
func (r *pluginRegistry) transformers(m *mapping.Model) []plugins.Transformer {
	var out []plugins.Transformer
	for _, entry := range r.entries {
		out = append(out, entry.factory(m))
	}
	return out
}

// pluginConfigurer defines a known plugin that can be enabled via the plugin command.
type pluginConfigurer struct {
	name      string
	configure func(s *Session, args string) error
}

func (s *Session) cmdPlugin(args string) error {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		return errors.New("usage: plugin <name> [args] | plugin off [name]")
	}
	name := strings.ToLower(parts[0])
	if name == "off" {
		return s.cmdPluginOff(parts[1:])
	}
	for _, c := range s.configurers {
		if c.name == name {
			return c.configure(s, strings.TrimSpace(args[len(parts[0]):]))
		}
	}
	return fmt.Errorf("unknown plugin: %s", name)
}

func (s *Session) cmdPluginOff(parts []string) error {
	if len(parts) == 0 {
		s.plugins.deregisterAll()
		_, _ = fmt.Fprintln(s.out, "  All plugins disabled")
		return nil
	}
	name := strings.ToLower(parts[0])
	if !s.plugins.deregister(name) {
		return fmt.Errorf("plugin %q is not enabled", name)
	}
	_, _ = fmt.Fprintf(s.out, "  %s disabled\n", name)
	return nil
}

func (s *Session) cmdPlugins() {
	_, _ = fmt.Fprintln(s.out, "  Available plugins:")
	for _, c := range s.configurers {
		if entry, ok := s.plugins.get(c.name); ok {
			_, _ = fmt.Fprintf(s.out, "    %-14s on   (%s)\n", c.name, entry.status())
		} else {
			_, _ = fmt.Fprintf(s.out, "    %-14s off\n", c.name)
		}
	}
}

// configureSoftdelete parses softdelete arguments and registers the plugin:
//
//	plugin softdelete                          entities declaring soft_delete in the mapping
//	plugin softdelete removed_at               one column for every table
//	plugin softdelete removed_at on users      one column for the listed tables
//	plugin softdelete users.deleted_at, ...    per-table columns
func configureSoftdelete(s *Session, args string) error {
	var opts []softdelete.Option
	var statusFn func() string
	fromModel := false

	switch {
	case strings.Contains(args, "."):
		columns := map[string]string{}
		for _, pair := range strings.Split(args, ",") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			table, col, ok := strings.Cut(pair, ".")
			if !ok || table == "" || col == "" {
				return fmt.Errorf("invalid table.column pair: %q", pair)
			}
			opts = append(opts, softdelete.WithTableColumn(table, col))
			columns[table] = col
		}
		statusFn = func() string {
			pairs := make([]string, 0, len(columns))
			for t, c := range columns {
				pairs = append(pairs, t+"."+c)
			}
			sort.Strings(pairs)
			return strings.Join(pairs, ", ")
		}
		_, _ = fmt.Fprintln(s.out, "  Soft-delete enabled (per-table columns)")

	case strings.Contains(strings.ToLower(args), " on "):
		idx := strings.Index(strings.ToLower(args), " on ")
		col := strings.TrimSpace(args[:idx])
		tableList := strings.Fields(args[idx+4:])
		if col == "" || len(tableList) == 0 {
			return errors.New("usage: plugin softdelete <column> on <table1> [table2 ...]")
		}
		opts = append(opts, softdelete.WithColumn(col), softdelete.WithTables(tableList...))
		statusFn = func() string {
			return fmt.Sprintf("column: %s, tables: %s", col, strings.Join(tableList, ", "))
		}
		_, _ = fmt.Fprintf(s.out, "  Soft-delete enabled (column: %s, tables: %s)\n", col, strings.Join(tableList, ", "))

	case args != "":
		col := strings.Fields(args)[0]
		opts = append(opts, softdelete.WithColumn(col))
		statusFn = func() string { return "column: " + col }
		_, _ = fmt.Fprintf(s.out, "  Soft-delete enabled (column: %s)\n", col)

	default:
		fromModel = true
		statusFn = func() string { return "from mapping" }
		_, _ = fmt.Fprintln(s.out, "  Soft-delete enabled (entities declaring soft_delete)")
	}

	s.plugins.register(pluginEntry{
		name: "softdelete",
		factory: func(m *mapping.Model) plugins.Transformer {
			if fromModel && m != nil {
				return softdelete.New(softdelete.WithModel(m))
			}
			return softdelete.New(opts...)
		},
		status: statusFn,
	})
	return nil
}
