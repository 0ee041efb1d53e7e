package repl

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/bawdo/relq/mapping"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/plugins"
	"github.com/bawdo/relq/plugins/opa"
)

// opaSettings is the OPA server configuration of a session. It survives
// "plugin off opa" so the plugin can be re-enabled with "plugin opa".
type opaSettings struct {
	url    string
	policy string
	input  map[string]any
}

func (o *opaSettings) client() *opa.Client {
	return opa.NewClient(o.url, o.policy, o.input)
}

// configureOPA enables the OPA plugin:
//
//	plugin opa http://localhost:8181 authz.allow subject.tenant=42
//	plugin opa                                    re-enable with the last settings
func configureOPA(s *Session, args string) error {
	parts := strings.Fields(args)
	switch {
	case len(parts) >= 2:
		input := map[string]any{}
		for _, kv := range parts[2:] {
			key, val, ok := strings.Cut(kv, "=")
			if !ok || key == "" {
				return fmt.Errorf("invalid input %q (want key=value)", kv)
			}
			setNestedValue(input, key, parseOPAValue(val))
		}
		s.opa = &opaSettings{url: parts[0], policy: parts[1], input: input}
	case len(parts) == 1:
		return errors.New("usage: plugin opa <url> <policy> [key=value ...]")
	case s.opa == nil:
		return errors.New("OPA not configured (use 'plugin opa <url> <policy>')")
	}

	settings := s.opa
	s.plugins.register(pluginEntry{
		name: "opa",
		factory: func(m *mapping.Model) plugins.Transformer {
			// The input is copied so later 'opa input' edits start a new cache key.
			input := cloneInput(settings.input)
			if m == nil {
				return opa.NewFromServer(settings.url, settings.policy, input)
			}
			return opa.NewFromServer(settings.url, settings.policy, input, opa.WithModel(m))
		},
		status: func() string { return "policy: " + settings.policy },
	})
	_, _ = fmt.Fprintf(s.out, "  OPA enabled (policy: %s at %s)\n", settings.policy, settings.url)
	return nil
}

// cmdOPA handles "opa <subcommand>".
func (s *Session) cmdOPA(args string) error {
	sub, rest, _ := strings.Cut(strings.TrimSpace(args), " ")
	rest = strings.TrimSpace(rest)
	if s.opa == nil {
		return errors.New("OPA not configured (use 'plugin opa <url> <policy>')")
	}
	switch strings.ToLower(sub) {
	case "", "status":
		s.cmdOPAStatus()
		return nil
	case "input":
		return s.cmdOPAInput(rest)
	case "inputs":
		return s.cmdOPAInputs(rest)
	case "explain":
		return s.cmdOPAExplain(rest)
	}
	return fmt.Errorf("unknown opa command %q (use status, input, inputs or explain)", sub)
}

func (s *Session) cmdOPAStatus() {
	state := "off"
	if _, ok := s.plugins.get("opa"); ok {
		state = "on"
	}
	_, _ = fmt.Fprintf(s.out, "  OPA %s\n", state)
	_, _ = fmt.Fprintf(s.out, "    server: %s\n", s.opa.url)
	_, _ = fmt.Fprintf(s.out, "    policy: %s\n", s.opa.policy)
	if len(s.opa.input) == 0 {
		_, _ = fmt.Fprintln(s.out, "    input:  (empty)")
		return
	}
	_, _ = fmt.Fprintln(s.out, "    input:")
	s.printInput(s.opa.input, "      ")
}

func (s *Session) printInput(m map[string]any, indent string) {
	for _, k := range slices.Sorted(maps.Keys(m)) {
		if nested, ok := m[k].(map[string]any); ok {
			_, _ = fmt.Fprintf(s.out, "%s%s:\n", indent, k)
			s.printInput(nested, indent+"  ")
			continue
		}
		_, _ = fmt.Fprintf(s.out, "%s%s: %v\n", indent, k, m[k])
	}
}

func (s *Session) cmdOPAInput(args string) error {
	key, val, hasVal := strings.Cut(args, " ")
	if key == "" {
		return errors.New("usage: opa input <key> [value]")
	}
	if !hasVal || strings.TrimSpace(val) == "" {
		deleteNestedValue(s.opa.input, key)
		_, _ = fmt.Fprintf(s.out, "  Removed input %s\n", key)
		return nil
	}
	v := parseOPAValue(strings.TrimSpace(val))
	setNestedValue(s.opa.input, key, v)
	_, _ = fmt.Fprintf(s.out, "  Set input %s = %v\n", key, v)
	return nil
}

// cmdOPAInputs lists the input paths the policy reads, with the value
// each has now. table, when set, also treats data.<table> as unknown.
func (s *Session) cmdOPAInputs(table string) error {
	var unknowns []string
	if table != "" {
		unknowns = append(unknowns, "data."+s.tableName(table))
	}
	paths, err := s.opa.client().DiscoverInputs(unknowns...)
	if err != nil {
		return fmt.Errorf("OPA: cannot reach server at %s: %w", s.opa.url, err)
	}
	if len(paths) == 0 {
		_, _ = fmt.Fprintln(s.out, "  The policy reads no input")
		return nil
	}
	_, _ = fmt.Fprintf(s.out, "  Policy reads %d input(s):\n", len(paths))
	for _, p := range paths {
		v := getNestedValue(s.opa.input, p)
		if v == nil {
			_, _ = fmt.Fprintf(s.out, "    %-24s (unset)\n", p)
			continue
		}
		_, _ = fmt.Fprintf(s.out, "    %-24s %v\n", p, v)
	}
	return nil
}

// cmdOPAExplain shows how the policy's residual for one table
// translates into conditions.
func (s *Session) cmdOPAExplain(args string) error {
	if args == "" {
		return errors.New("usage: opa explain <Entity|table>")
	}
	table := s.tableName(args)
	target := opa.Target{Alias: nodes.NewTableAlias()}
	if s.model != nil {
		target.Types = s.columnTypes(table)
	}
	res, err := s.opa.client().Explain(table, target)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(s.out, "  Request:  %s\n", res.RequestJSON)
	_, _ = fmt.Fprintf(s.out, "  Response: %s\n", strings.TrimSpace(res.RawJSON))
	switch {
	case res.AccessDenied:
		_, _ = fmt.Fprintf(s.out, "  Access to %s is denied\n", table)
		return nil
	case res.UnconditionalAllow:
		_, _ = fmt.Fprintf(s.out, "  Access to %s is unconditional\n", table)
		return nil
	}
	_, _ = fmt.Fprintf(s.out, "  %d queries, %d expressions\n", res.QueryCount, res.ExpressionCount)
	for _, tr := range res.Translations {
		if tr.Err != nil {
			_, _ = fmt.Fprintf(s.out, "    %s %s %v: %v\n", tr.Column, tr.Operator, tr.Value, tr.Err)
			continue
		}
		_, _ = fmt.Fprintf(s.out, "    %s %s %v -> %s\n", tr.Column, tr.Operator, tr.Value, tr.Condition)
	}
	for _, c := range res.Conditions {
		_, _ = fmt.Fprintf(s.out, "  Condition: %s\n", nodes.Format(c))
	}
	for _, t := range slices.Sorted(maps.Keys(res.Masks)) {
		for _, col := range slices.Sorted(maps.Keys(res.Masks[t])) {
			if r := res.Masks[t][col].Replace; r != nil {
				_, _ = fmt.Fprintf(s.out, "  Mask: %s.%s -> '%s'\n", t, col, r.Value)
			}
		}
	}
	return nil
}

// tableName maps an entity name to its table; other names are taken as
// table names.
func (s *Session) tableName(name string) string {
	if s.model != nil {
		if e, ok := s.model.Entity(name); ok {
			return e.Table
		}
	}
	return name
}

func (s *Session) columnTypes(table string) map[string]nodes.Type {
	for _, e := range s.model.Entities() {
		if e.Table != table {
			continue
		}
		types := make(map[string]nodes.Type, len(e.Fields))
		for _, f := range e.Fields {
			types[f.Column] = f.Type
		}
		return types
	}
	return nil
}

func parseOPAValue(s string) any {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	return strings.Trim(s, `"'`)
}

func cloneInput(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			v = cloneInput(nested)
		}
		out[k] = v
	}
	return out
}

func setNestedValue(m map[string]any, path string, val any) {
	parts := strings.Split(path, ".")
	current := m
	for _, p := range parts[:len(parts)-1] {
		next, ok := current[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[p] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = val
}

func deleteNestedValue(m map[string]any, path string) {
	parts := strings.Split(path, ".")
	current := m
	for _, p := range parts[:len(parts)-1] {
		next, ok := current[p].(map[string]any)
		if !ok {
			return
		}
		current = next
	}
	delete(current, parts[len(parts)-1])
}

func getNestedValue(m map[string]any, path string) any {
	parts := strings.Split(path, ".")
	current := m
	for _, p := range parts[:len(parts)-1] {
		next, ok := current[p].(map[string]any)
		if !ok {
			return nil
		}
		current = next
	}
	return current[parts[len(parts)-1]]
}
