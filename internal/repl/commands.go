package repl

import (
	"errors"
	"sort"
	"strings"

	"github.com/bawdo/relq/query"
)

// commandEntry maps a REPL prefix to its handler and optional tab-completer.
type commandEntry struct {
	prefix    string
	handler   func(args string) error
	completer func(args string) (completionContext, string) // nil = no arg completion
	hidden    bool                                          // excluded from commandNames()
}

// initCommands builds the command registry and sorts by prefix length descending.
func (s *Session) initCommands() {
	s.commands = []commandEntry{
		// --- output ---
		{prefix: "sql", handler: func(_ string) error { return s.cmdSQL() }},
		{prefix: "explain", handler: func(_ string) error { return s.cmdExplain() }},
		{prefix: "show", handler: func(_ string) error { return s.cmdShow() }},
		{prefix: "dot ", handler: s.cmdDot},
		{prefix: "dot", handler: func(_ string) error { return errors.New("usage: dot <filepath>") }},
		{prefix: "expr ", handler: s.cmdExpr, completer: completeMemberArgs},
		{prefix: "help", handler: func(_ string) error { s.cmdHelp(); return nil }},

		// --- query building ---
		{prefix: "from ", handler: s.cmdFrom, completer: completeEntityArgs},
		{prefix: "select many ", handler: s.cmdSelectMany, completer: completeRelationArgs},
		{prefix: "select ", handler: s.cmdSelect, completer: completeMemberArgs},
		{prefix: "where ", handler: s.cmdWhere, completer: completeMemberArgs},
		{prefix: "group ", handler: s.cmdGroup, completer: completeMemberArgs},
		{prefix: "order ", handler: func(a string) error { return s.cmdOrder(a, false) }, completer: completeOrderArgs},
		{prefix: "then ", handler: func(a string) error { return s.cmdOrder(a, true) }, completer: completeOrderArgs},
		{prefix: "skip ", handler: s.cmdSkip},
		{prefix: "take ", handler: s.cmdTake},
		{prefix: "limit ", handler: s.cmdTake, hidden: true},
		{prefix: "offset ", handler: s.cmdSkip, hidden: true},
		{prefix: "distinct", handler: func(_ string) error { return s.simple(query.Query.Distinct) }},
		{prefix: "include ", handler: s.cmdInclude, completer: completeRelationArgs},
		{prefix: "left join ", handler: func(a string) error { return s.cmdJoin(a, true) }, completer: completeJoinArgs},
		{prefix: "cross join ", handler: s.cmdCrossJoin, completer: completeEntityArgs},
		{prefix: "join ", handler: func(a string) error { return s.cmdJoin(a, false) }, completer: completeJoinArgs},

		// --- terminal operators ---
		{prefix: "count", handler: func(_ string) error { return s.simple(query.Query.Count) }},
		{prefix: "sum ", handler: func(a string) error { return s.cmdAggregate("sum", a) }, completer: completeMemberArgs},
		{prefix: "avg ", handler: func(a string) error { return s.cmdAggregate("avg", a) }, completer: completeMemberArgs},
		{prefix: "min ", handler: func(a string) error { return s.cmdAggregate("min", a) }, completer: completeMemberArgs},
		{prefix: "max ", handler: func(a string) error { return s.cmdAggregate("max", a) }, completer: completeMemberArgs},
		{prefix: "first or default", handler: func(_ string) error { return s.simple(query.Query.FirstOrDefault) }},
		{prefix: "first", handler: func(_ string) error { return s.simple(query.Query.First) }},
		{prefix: "single or default", handler: func(_ string) error { return s.simple(query.Query.SingleOrDefault) }},
		{prefix: "single", handler: func(_ string) error { return s.simple(query.Query.Single) }},

		// --- editing ---
		{prefix: "undo", handler: func(_ string) error { return s.cmdUndo() }},
		{prefix: "reset", handler: func(_ string) error { return s.cmdReset() }},

		// --- parameters ---
		{prefix: "param ", handler: s.cmdParam},
		{prefix: "params", handler: func(_ string) error { return s.cmdParams() }},

		// --- settings ---
		{prefix: "dialect ", handler: s.cmdDialect, completer: completeDialectArgs},
		{prefix: "dialects", handler: func(_ string) error { s.cmdDialects(); return nil }},
		{prefix: "engine ", handler: s.cmdDialect, completer: completeDialectArgs, hidden: true},
		{prefix: "mapping ", handler: s.cmdMapping},
		{prefix: "entities", handler: func(_ string) error { return s.cmdEntities() }},
		{prefix: "tables", handler: func(_ string) error { return s.cmdEntities() }, hidden: true},
		{prefix: "describe ", handler: s.cmdDescribe, completer: completeEntityArgs},
		{prefix: "parameterize", handler: func(_ string) error { return s.cmdParameterize() }},
		{prefix: "format", handler: func(_ string) error { return s.cmdFormat() }},
		{prefix: "plugin ", handler: s.cmdPlugin, completer: completePluginArgs},
		{prefix: "plugins", handler: func(_ string) error { s.cmdPlugins(); return nil }},
		{prefix: "opa ", handler: s.cmdOPA, completer: completeOPAArgs},
		{prefix: "opa", handler: func(_ string) error { return s.cmdOPA("") }},

		// --- database connectivity ---
		{prefix: "connect ", handler: s.cmdConnect},
		{prefix: "connect", handler: func(_ string) error { return s.cmdConnect("") }},
		{prefix: "disconnect", handler: func(_ string) error { return s.cmdDisconnect() }},
		{prefix: "run", handler: func(_ string) error { return s.cmdRun() }},
		{prefix: "exec", handler: func(_ string) error { return s.cmdRun() }},
	}

	// Sort by prefix length descending so longest prefixes match first.
	sort.SliceStable(s.commands, func(i, j int) bool {
		return len(s.commands[i].prefix) > len(s.commands[j].prefix)
	})
}

// commandNames derives the command name list from the registry for tab completion.
func (s *Session) commandNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, cmd := range s.commands {
		if cmd.hidden {
			continue
		}
		name := strings.TrimRight(cmd.prefix, " ")
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	// exit/quit are handled by the REPL loop, not Execute().
	for _, extra := range []string{"exit", "quit"} {
		if !seen[extra] {
			names = append(names, extra)
		}
	}
	sort.Strings(names)
	return names
}

// --- Shared completion helpers ---

// completeEntityArgs completes the entity of from, cross join and describe.
func completeEntityArgs(args string) (completionContext, string) {
	if strings.Contains(args, " ") {
		if strings.HasSuffix(strings.ToLower(args), " ") && len(strings.Fields(args)) == 1 {
			return contextKeyword, ""
		}
		return contextNone, ""
	}
	return contextEntity, args
}

// completeJoinArgs handles join prefixes: entity, then "as"/"on", then
// member paths of the condition.
func completeJoinArgs(args string) (completionContext, string) {
	words := strings.Fields(args)
	if len(words) == 0 {
		return contextEntity, ""
	}
	if !strings.Contains(args, " ") {
		return contextEntity, args
	}
	if strings.HasSuffix(args, " ") {
		if len(words) == 1 {
			return contextKeyword, ""
		}
		return contextMember, ""
	}
	return contextMember, words[len(words)-1]
}

// completeRelationArgs completes relation names of the query's entity.
func completeRelationArgs(args string) (completionContext, string) {
	arg := strings.TrimSpace(args)
	if strings.Contains(arg, " ") {
		return contextNone, ""
	}
	return contextRelation, arg
}

// completeMemberArgs completes member paths inside an expression.
func completeMemberArgs(args string) (completionContext, string) {
	if strings.HasSuffix(args, " ") {
		return contextMember, ""
	}
	return contextMember, lastToken(args)
}

// completeOrderArgs handles the order and then commands: member paths,
// then direction after a member.
func completeOrderArgs(args string) (completionContext, string) {
	if strings.HasSuffix(args, " ") {
		if len(strings.Fields(args)) > 0 {
			return contextOrderDir, ""
		}
		return contextMember, ""
	}
	last := lastToken(args)
	switch strings.ToLower(last) {
	case "a", "as", "d", "de", "des":
		if strings.Contains(args, " ") {
			return contextOrderDir, last
		}
	}
	return contextMember, last
}

func completeDialectArgs(args string) (completionContext, string) {
	return contextDialect, strings.TrimSpace(args)
}

func completeOPAArgs(args string) (completionContext, string) {
	if strings.HasPrefix(strings.ToLower(args), "explain ") {
		return contextEntity, strings.TrimSpace(args[len("explain "):])
	}
	if !strings.Contains(args, " ") {
		return contextOPA, args
	}
	return contextNone, ""
}

// completePluginArgs handles completion for the plugin command:
// plugin names, or after "off" the names of enabled plugins.
func completePluginArgs(args string) (completionContext, string) {
	if strings.HasPrefix(strings.ToLower(args), "off ") {
		return contextPluginOff, strings.TrimSpace(args[4:])
	}
	arg := strings.TrimSpace(args)
	if !strings.Contains(arg, " ") {
		return contextPlugin, arg
	}
	return contextNone, ""
}
