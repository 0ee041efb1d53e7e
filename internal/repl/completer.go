package repl

import (
	"slices"
	"sort"
	"strings"

	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/mapping"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/query"
)

// completionContext describes what kind of completion is appropriate.
type completionContext int

const (
	contextCommand   completionContext = iota // start of line or partial command
	contextNone                               // nothing to offer
	contextEntity                             // after from/join/describe
	contextRelation                           // after include/select many
	contextMember                             // inside an expression
	contextDialect                            // after dialect
	contextPlugin                             // after plugin
	contextPluginOff                          // after plugin off
	contextOrderDir                           // after a member in order context
	contextKeyword                            // after an entity in a join
	contextOPA                                // after opa
)

var (
	orderDirs     = []string{"asc", "desc"}
	joinKeywords  = []string{"as", "on"}
	aggregateFunc = []string{"avg(", "count(", "max(", "min(", "sum("}
	opaCommands   = []string{"explain", "input", "inputs", "status"}
)

// replCompleter implements readline's AutoCompleter interface.
type replCompleter struct {
	sess *Session
}

// Do returns completion candidates for the current line/cursor position.
// length is the number of chars from end of line[:pos] that form the prefix being completed.
// newLine contains the suffixes to append for each candidate.
func (c *replCompleter) Do(line []rune, pos int) (newLine [][]rune, length int) {
	lineStr := string(line[:pos])
	ctx, prefix := c.parseContext(lineStr)

	var candidates []string
	switch ctx {
	case contextCommand:
		candidates = filterPrefix(c.sess.commandNames(), prefix)
	case contextEntity:
		candidates = filterPrefix(c.entityNames(), prefix)
	case contextRelation:
		candidates = filterPrefix(c.relationNames(), prefix)
	case contextMember:
		candidates = c.completeMember(prefix)
	case contextDialect:
		candidates = filterPrefix(dialect.Names(), prefix)
	case contextPlugin:
		candidates = filterPrefix(append([]string{"off"}, c.sess.pluginNames()...), prefix)
	case contextPluginOff:
		candidates = filterPrefix(c.sess.plugins.names(), prefix)
	case contextOrderDir:
		candidates = filterPrefix(orderDirs, prefix)
	case contextKeyword:
		candidates = filterPrefix(joinKeywords, prefix)
	case contextOPA:
		candidates = filterPrefix(opaCommands, prefix)
	}

	for _, cand := range candidates {
		suffix := cand[len(prefix):]
		if strings.HasSuffix(cand, "(") || strings.HasSuffix(cand, ".") {
			newLine = append(newLine, []rune(suffix))
			continue
		}
		newLine = append(newLine, []rune(suffix+" "))
	}
	length = len([]rune(prefix))
	return
}

// parseContext examines the line up to cursor and determines what kind of
// completion is needed and the current prefix being typed.
func (c *replCompleter) parseContext(line string) (completionContext, string) {
	lower := strings.ToLower(line)
	for _, cmd := range c.sess.commands {
		if !strings.HasSuffix(cmd.prefix, " ") {
			continue // exact-match commands have no arg completion
		}
		if strings.HasPrefix(lower, cmd.prefix) {
			if cmd.completer == nil {
				return contextNone, ""
			}
			return cmd.completer(line[len(cmd.prefix):])
		}
	}
	return contextCommand, strings.TrimSpace(line)
}

func (c *replCompleter) entityNames() []string {
	if c.sess.model == nil {
		return nil
	}
	var names []string
	for _, e := range c.sess.model.Entities() {
		names = append(names, e.Name)
	}
	sort.Strings(names)
	return names
}

// rootEntity is the entity the current query ranges over.
func (c *replCompleter) rootEntity() *mapping.Entity {
	if c.sess.model == nil || c.sess.query.IsZero() {
		return nil
	}
	op := c.sess.query.Ops()[0]
	if op.Kind != query.OpFrom {
		return nil
	}
	e, _ := c.sess.model.Entity(op.Entity)
	return e
}

func (c *replCompleter) relationNames() []string {
	e := c.rootEntity()
	if e == nil {
		return nil
	}
	var names []string
	for _, r := range e.Relations {
		names = append(names, r.Name)
	}
	sort.Strings(names)
	return names
}

// ranges maps every range name introduced by a join or select many to
// the entity it ranges over.
func (c *replCompleter) ranges() map[string]*mapping.Entity {
	out := map[string]*mapping.Entity{}
	root := c.rootEntity()
	if root == nil {
		return out
	}
	for _, op := range c.sess.query.Ops() {
		switch op.Kind {
		case query.OpFrom, query.OpJoin, query.OpLeftJoin, query.OpCrossJoin:
			if e, ok := c.sess.model.Entity(op.Entity); ok && op.As != "" {
				out[op.As] = e
			}
		case query.OpSelectMany:
			m, ok := op.Expr.(*nodes.Member)
			if !ok {
				continue
			}
			if r, ok := root.Relation(strings.Join(m.Path, ".")); ok {
				if e, ok := c.sess.model.Entity(r.Target); ok {
					out[op.As] = e
				}
			}
		}
	}
	return out
}

// completeMember completes member paths: fields and relations of the root
// entity, range names, and after a dot the members the path leads to.
func (c *replCompleter) completeMember(prefix string) []string {
	root := c.rootEntity()
	if root == nil {
		return filterPrefix(aggregateFunc, prefix)
	}
	ranges := c.ranges()

	if dot := strings.LastIndexByte(prefix, '.'); dot >= 0 {
		head := prefix[:dot]
		target := c.resolvePath(root, ranges, head)
		if target == nil {
			return nil
		}
		var out []string
		for _, m := range members(target) {
			out = append(out, head+"."+m)
		}
		return filterPrefix(out, prefix)
	}

	names := members(root)
	for name := range ranges {
		if name != root.Name {
			names = append(names, name+".")
		}
	}
	names = append(names, aggregateFunc...)
	if c.sess.dialect.Functions != nil {
		for _, fn := range c.sess.dialect.Functions.Names() {
			names = append(names, fn+"(")
		}
	}
	sort.Strings(names)
	return filterPrefix(slices.Compact(names), prefix)
}

// resolvePath follows a dotted path of range names and relations.
func (c *replCompleter) resolvePath(root *mapping.Entity, ranges map[string]*mapping.Entity, path string) *mapping.Entity {
	parts := strings.Split(path, ".")
	cur := root
	if e, ok := ranges[parts[0]]; ok {
		cur = e
		parts = parts[1:]
	}
	for _, p := range parts {
		r, ok := cur.Relation(p)
		if !ok {
			return nil
		}
		next, ok := c.sess.model.Entity(r.Target)
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

func members(e *mapping.Entity) []string {
	var out []string
	for _, f := range e.Fields {
		out = append(out, f.Name)
	}
	for _, r := range e.Relations {
		out = append(out, r.Name)
	}
	return out
}

// filterPrefix returns items that start with prefix (case-insensitive).
func filterPrefix(items []string, prefix string) []string {
	if prefix == "" {
		return slices.Clone(items)
	}
	lowerPrefix := strings.ToLower(prefix)
	var result []string
	for _, item := range items {
		if strings.HasPrefix(strings.ToLower(item), lowerPrefix) {
			result = append(result, item)
		}
	}
	return result
}

// lastToken returns the last token of an expression being typed.
func lastToken(s string) string {
	for i := len(s) - 1; i >= 0; i-- {
		switch s[i] {
		case ' ', ',', '\t', '(', '{', ':':
			return s[i+1:]
		}
	}
	return s
}
