// Package repl is the interactive query shell: a readline session that
// builds a query one operator at a time, shows the SQL every dialect
// produces for it and runs it against a connected database.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/ergochat/readline"

	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/exec"
	"github.com/bawdo/relq/mapping"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/plan"
	"github.com/bawdo/relq/query"
	"github.com/bawdo/relq/translate"
)

var (
	errNoQuery   = errors.New("no query defined (use 'from <entity>' first)")
	errNoMapping = errors.New("no mapping loaded (use 'mapping <file>' first)")
)

// Session holds the REPL state: the mapping, the query being built, the
// target dialect, parameter values, enabled plugins and the connection.
type Session struct {
	model        *mapping.Model
	dialect      *dialect.Dialect
	query        query.Query
	history      []query.Query // earlier versions of query, for undo
	params       map[string]any
	plugins      pluginRegistry     // enabled plugins
	configurers  []pluginConfigurer // all known plugins
	opa          *opaSettings
	parameterize bool
	format       bool
	cache        *plan.Cache
	logger       *slog.Logger
	commands     []commandEntry // command registry (sorted by prefix length desc)
	db           *exec.DB       // nil when disconnected
	dsn          string
	lastDSN      string // remembers the previous DSN for reconnect
	rl           *readline.Instance
	out          io.Writer // destination for REPL output (default os.Stdout)
}

// NewSession creates a session compiling for d. m may be nil and loaded
// later with the mapping command.
func NewSession(m *mapping.Model, d *dialect.Dialect, rl *readline.Instance) *Session {
	if d == nil {
		d = dialect.Postgres()
	}
	s := &Session{
		model:   m,
		dialect: d,
		params:  make(map[string]any),
		cache:   plan.NewCache(64),
		logger:  slog.New(slog.DiscardHandler),
		rl:      rl,
		out:     os.Stdout,
	}
	s.configurers = []pluginConfigurer{
		{name: "softdelete", configure: configureSoftdelete},
		{name: "opa", configure: configureOPA},
	}
	s.initCommands()
	return s
}

// pluginNames returns the names of all known plugins (for tab completion).
func (s *Session) pluginNames() []string {
	names := make([]string, len(s.configurers))
	for i, c := range s.configurers {
		names[i] = c.name
	}
	return names
}

// Execute parses and runs a single REPL command.
func (s *Session) Execute(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	lower := strings.ToLower(line)

	for _, cmd := range s.commands {
		if strings.HasSuffix(cmd.prefix, " ") {
			if strings.HasPrefix(lower, cmd.prefix) {
				return cmd.handler(strings.TrimSpace(line[len(cmd.prefix):]))
			}
		} else if lower == cmd.prefix {
			return cmd.handler("")
		}
	}

	word := strings.Fields(line)[0]
	return fmt.Errorf("unknown command: %s (type 'help' for commands)", word)
}

// Query returns the query built so far with the current parameter values.
func (s *Session) Query() query.Query {
	return bindParams(s.query, s.params)
}

// bindParams replaces the value of every parameter of q named in values.
func bindParams(q query.Query, values map[string]any) query.Query {
	if len(values) == 0 {
		return q
	}
	return q.Map(func(n nodes.Node) nodes.Node {
		var pairs []nodes.Pair
		nodes.Walk(n, func(x nodes.Node) bool {
			if p, ok := x.(*nodes.Parameter); ok {
				if v, ok := values[p.Name]; ok {
					pairs = append(pairs, nodes.Pair{Search: p, Replacement: nodes.NewParameter(p.Name, v)})
				}
			}
			return true
		})
		return nodes.ReplaceAll(n, pairs...)
	})
}

func (s *Session) translateOptions() []translate.Option {
	opts := []translate.Option{
		translate.WithLogger(s.logger),
		translate.WithCache(s.cache),
		translate.WithParameterize(s.parameterize),
	}
	if s.format {
		opts = append(opts, translate.WithFormatting())
	}
	if ts := s.plugins.transformers(s.model); len(ts) > 0 {
		opts = append(opts, translate.WithTransformers(ts...))
	}
	return opts
}

// push records the current query for undo and replaces it.
func (s *Session) push(q query.Query) {
	s.history = append(s.history, s.query)
	s.query = q
}

func (s *Session) requireQuery() error {
	if s.query.IsZero() {
		return errNoQuery
	}
	return nil
}

func (s *Session) expr(args string) (nodes.Node, error) {
	if args == "" {
		return nil, errors.New("expected an expression")
	}
	return query.ParseExpr(args, s.params)
}

// count parses a skip/take argument: a non-negative integer or $param.
func (s *Session) count(args string) (any, error) {
	if name, ok := strings.CutPrefix(args, "$"); ok {
		v, ok := s.params[name]
		if !ok {
			return nil, fmt.Errorf("unknown parameter $%s (use 'param %s = <value>')", name, name)
		}
		return nodes.NewParameter(name, v), nil
	}
	n, err := strconv.Atoi(args)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("expected a non-negative integer or $param, got %q", args)
	}
	return n, nil
}

// --- Query building ---

// cmdFrom starts a new query: from <Entity> [as <name>].
func (s *Session) cmdFrom(args string) error {
	if s.model == nil {
		return errNoMapping
	}
	entity, as, err := entityAndName(args)
	if err != nil {
		return fmt.Errorf("usage: from <entity> [as <name>]: %w", err)
	}
	if _, ok := s.model.Entity(entity); !ok {
		return fmt.Errorf("unknown entity %q", entity)
	}
	s.push(query.From(entity, as))
	_, _ = fmt.Fprintf(s.out, "  Query over %s\n", entity)
	return nil
}

// entityAndName splits "Entity [as name]".
func entityAndName(args string) (entity, as string, err error) {
	fields := strings.Fields(args)
	switch {
	case len(fields) == 1:
		return fields[0], "", nil
	case len(fields) == 3 && strings.EqualFold(fields[1], "as"):
		return fields[0], fields[2], nil
	}
	return "", "", fmt.Errorf("bad entity reference %q", args)
}

// exprCommand adds an operator taking one expression.
func (s *Session) exprCommand(args string, add func(query.Query, nodes.Node) query.Query) error {
	if err := s.requireQuery(); err != nil {
		return err
	}
	e, err := s.expr(args)
	if err != nil {
		return err
	}
	s.push(add(s.query, e))
	return nil
}

func (s *Session) cmdWhere(args string) error {
	return s.exprCommand(args, query.Query.Where)
}

func (s *Session) cmdSelect(args string) error {
	return s.exprCommand(args, query.Query.Select)
}

func (s *Session) cmdGroup(args string) error {
	return s.exprCommand(args, query.Query.GroupBy)
}

// cmdOrder handles "order <expr> [asc|desc]"; then selects ThenBy.
func (s *Session) cmdOrder(args string, then bool) error {
	desc := false
	fields := strings.Fields(args)
	if n := len(fields); n > 1 {
		switch strings.ToLower(fields[n-1]) {
		case "desc":
			desc = true
			args = strings.Join(fields[:n-1], " ")
		case "asc":
			args = strings.Join(fields[:n-1], " ")
		}
	}
	return s.exprCommand(args, func(q query.Query, key nodes.Node) query.Query {
		switch {
		case then && desc:
			return q.ThenByDesc(key)
		case then:
			return q.ThenBy(key)
		case desc:
			return q.OrderByDesc(key)
		}
		return q.OrderBy(key)
	})
}

func (s *Session) cmdSkip(args string) error {
	if err := s.requireQuery(); err != nil {
		return err
	}
	n, err := s.count(args)
	if err != nil {
		return err
	}
	s.push(s.query.Skip(n))
	return nil
}

func (s *Session) cmdTake(args string) error {
	if err := s.requireQuery(); err != nil {
		return err
	}
	n, err := s.count(args)
	if err != nil {
		return err
	}
	s.push(s.query.Take(n))
	return nil
}

// cmdJoin handles "join <Entity> [as <name>] on <outer> = <inner>".
func (s *Session) cmdJoin(args string, left bool) error {
	if err := s.requireQuery(); err != nil {
		return err
	}
	idx := strings.Index(strings.ToLower(args), " on ")
	if idx < 0 {
		return errors.New("usage: join <entity> [as <name>] on <outer key> = <inner key>")
	}
	entity, as, err := entityAndName(args[:idx])
	if err != nil {
		return err
	}
	if as == "" {
		as = entity
	}
	outerText, innerText, ok := strings.Cut(args[idx+4:], "=")
	if !ok {
		return errors.New("join condition must be <outer key> = <inner key>")
	}
	outer, err := s.expr(strings.TrimSpace(outerText))
	if err != nil {
		return fmt.Errorf("outer key: %w", err)
	}
	inner, err := s.expr(strings.TrimSpace(innerText))
	if err != nil {
		return fmt.Errorf("inner key: %w", err)
	}
	if left {
		s.push(s.query.LeftJoin(entity, as).On(outer, inner))
	} else {
		s.push(s.query.Join(entity, as).On(outer, inner))
	}
	return nil
}

func (s *Session) cmdCrossJoin(args string) error {
	if err := s.requireQuery(); err != nil {
		return err
	}
	entity, as, err := entityAndName(args)
	if err != nil {
		return fmt.Errorf("usage: cross join <entity> [as <name>]: %w", err)
	}
	if as == "" {
		as = entity
	}
	s.push(s.query.CrossJoin(entity, as))
	return nil
}

// cmdSelectMany handles "select many <Collection> [as <name>]".
func (s *Session) cmdSelectMany(args string) error {
	if err := s.requireQuery(); err != nil {
		return err
	}
	collection, as, err := entityAndName(args)
	if err != nil {
		return fmt.Errorf("usage: select many <collection> [as <name>]: %w", err)
	}
	if as == "" {
		as = collection
	}
	s.push(s.query.SelectMany(collection, as))
	return nil
}

func (s *Session) cmdInclude(args string) error {
	if err := s.requireQuery(); err != nil {
		return err
	}
	if args == "" {
		return errors.New("usage: include <relation path>")
	}
	s.push(s.query.Include(args))
	return nil
}

// simple adds an operator that takes no argument.
func (s *Session) simple(add func(query.Query) query.Query) error {
	if err := s.requireQuery(); err != nil {
		return err
	}
	s.push(add(s.query))
	return nil
}

// cmdAggregate handles sum/avg/min/max <expr>.
func (s *Session) cmdAggregate(name, args string) error {
	add := map[string]func(query.Query, nodes.Node) query.Query{
		"sum": query.Query.Sum,
		"avg": query.Query.Avg,
		"min": query.Query.Min,
		"max": query.Query.Max,
	}[name]
	return s.exprCommand(args, add)
}

// cmdParam sets a parameter value: param <name> = <literal>.
func (s *Session) cmdParam(args string) error {
	name, valueText, ok := strings.Cut(args, "=")
	name = strings.TrimPrefix(strings.TrimSpace(name), "$")
	if !ok || name == "" {
		return errors.New("usage: param <name> = <value>")
	}
	v, err := query.ParseExpr(strings.TrimSpace(valueText), nil)
	if err != nil {
		return fmt.Errorf("param %s: %w", name, err)
	}
	c, ok := v.(*nodes.Constant)
	if !ok {
		return fmt.Errorf("param %s: value must be a literal", name)
	}
	s.params[name] = c.Value
	_, _ = fmt.Fprintf(s.out, "  $%s = %v\n", name, c.Value)
	return nil
}

func (s *Session) cmdParams() error {
	if len(s.params) == 0 {
		_, _ = fmt.Fprintln(s.out, "  No parameters set")
		return nil
	}
	names := make([]string, 0, len(s.params))
	for name := range s.params {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		_, _ = fmt.Fprintf(s.out, "  $%s = %v\n", name, s.params[name])
	}
	return nil
}

func (s *Session) cmdUndo() error {
	if len(s.history) == 0 {
		return errors.New("nothing to undo")
	}
	s.query = s.history[len(s.history)-1]
	s.history = s.history[:len(s.history)-1]
	if s.query.IsZero() {
		_, _ = fmt.Fprintln(s.out, "  Query cleared")
		return nil
	}
	_, _ = fmt.Fprintf(s.out, "  %s\n", s.query)
	return nil
}

func (s *Session) cmdReset() error {
	s.query = query.Query{}
	s.history = nil
	s.params = make(map[string]any)
	_, _ = fmt.Fprintln(s.out, "  Query cleared")
	return nil
}

func (s *Session) cmdShow() error {
	if err := s.requireQuery(); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(s.out, "  %s\n", s.Query())
	return nil
}

// cmdExpr parses a standalone expression and prints its canonical form.
func (s *Session) cmdExpr(args string) error {
	e, err := s.expr(args)
	if err != nil {
		return fmt.Errorf("expr: %w", err)
	}
	_, _ = fmt.Fprintf(s.out, "  %s : %s\n", nodes.Format(e), e.Type())
	return nil
}

// --- Output ---

// GenerateSQL compiles the current query for the session dialect and
// returns its statements.
func (s *Session) GenerateSQL() ([]string, error) {
	p, err := s.compile()
	if err != nil {
		return nil, err
	}
	return p.Statements(), nil
}

func (s *Session) compile() (*plan.Plan, error) {
	if err := s.requireQuery(); err != nil {
		return nil, err
	}
	if s.model == nil {
		return nil, errNoMapping
	}
	return translate.Compile(s.Query(), s.model, s.dialect, s.translateOptions()...)
}

// compileFor compiles the query for the dialect of db.
func (s *Session) compileFor(db *exec.DB) (*plan.Plan, error) {
	return translate.Compile(s.Query(), s.model, db.Dialect(), s.translateOptions()...)
}

func (s *Session) cmdSQL() error {
	p, err := s.compile()
	if err != nil {
		return err
	}
	s.printPlan(p)
	return nil
}

func (s *Session) printPlan(p *plan.Plan) {
	_, _ = fmt.Fprintf(s.out, "  %s;\n", p.SQL)
	if len(p.Params) > 0 {
		_, _ = fmt.Fprintf(s.out, "  Params: %s\n", formatParams(p))
	}
	for _, c := range p.Children {
		_, _ = fmt.Fprintln(s.out, "  -- client join")
		s.printPlan(c.Plan)
	}
}

func formatParams(p *plan.Plan) string {
	parts := make([]string, len(p.Params))
	for i, prm := range p.Params {
		parts[i] = fmt.Sprintf("%s=%s", prm.Name, exec.FormatValue(prm.Value))
	}
	return strings.Join(parts, ", ")
}

// cmdExplain prints every statement the query runs, one per line.
func (s *Session) cmdExplain() error {
	if err := s.requireQuery(); err != nil {
		return err
	}
	if s.model == nil {
		return errNoMapping
	}
	stmts, err := translate.Explain(s.Query(), s.model, s.dialect, s.translateOptions()...)
	if err != nil {
		return err
	}
	for i, stmt := range stmts {
		_, _ = fmt.Fprintf(s.out, "  [%d] %s;\n", i+1, stmt)
	}
	return nil
}

// cmdDot writes the optimized tree as a Graphviz DOT file.
func (s *Session) cmdDot(args string) error {
	if args == "" {
		return errors.New("usage: dot <filepath>")
	}
	if err := s.requireQuery(); err != nil {
		return err
	}
	if s.model == nil {
		return errNoMapping
	}
	dot, err := translate.Graph(s.Query(), s.model, s.dialect, s.translateOptions()...)
	if err != nil {
		return err
	}
	if err := os.WriteFile(args, []byte(dot), 0o600); err != nil {
		return fmt.Errorf("failed to write DOT file: %w", err)
	}
	_, _ = fmt.Fprintf(s.out, "  Wrote DOT to %s\n", args)
	return nil
}

// --- Settings ---

func (s *Session) cmdDialect(args string) error {
	d, err := dialect.Lookup(strings.ToLower(args))
	if err != nil {
		return fmt.Errorf("%w (choose: %s)", err, strings.Join(dialect.Names(), ", "))
	}
	s.dialect = d
	_, _ = fmt.Fprintf(s.out, "  Dialect set to %s (skip: %s)\n", d.Name, d.Skip)
	return nil
}

func (s *Session) cmdDialects() {
	for _, name := range dialect.Names() {
		marker := " "
		if name == s.dialect.Name {
			marker = "*"
		}
		_, _ = fmt.Fprintf(s.out, "  %s %s\n", marker, name)
	}
}

func (s *Session) cmdMapping(args string) error {
	m, err := mapping.LoadFile(args)
	if err != nil {
		return err
	}
	s.model = m
	s.cache.Purge()
	_, _ = fmt.Fprintf(s.out, "  Loaded %d entities from %s\n", len(m.Entities()), args)
	return nil
}

func (s *Session) cmdParameterize() error {
	s.parameterize = !s.parameterize
	if s.parameterize {
		_, _ = fmt.Fprintln(s.out, "  Literal parameterization enabled")
	} else {
		_, _ = fmt.Fprintln(s.out, "  Literal parameterization disabled")
	}
	return nil
}

func (s *Session) cmdFormat() error {
	s.format = !s.format
	if s.format {
		_, _ = fmt.Fprintln(s.out, "  Multi-line SQL enabled")
	} else {
		_, _ = fmt.Fprintln(s.out, "  Multi-line SQL disabled")
	}
	return nil
}

// cmdEntities lists the mapped entities; when connected, entities whose
// table is missing from the database are flagged.
func (s *Session) cmdEntities() error {
	if s.model == nil {
		return errNoMapping
	}
	missing := map[string]bool{}
	if s.db != nil {
		tables, err := s.db.MissingTables(context.Background(), s.model)
		if err != nil {
			return err
		}
		for _, t := range tables {
			missing[t] = true
		}
	}
	for _, e := range s.model.Entities() {
		note := ""
		if missing[e.Table] {
			note = "  (table missing)"
		}
		_, _ = fmt.Fprintf(s.out, "  %-12s -> %s%s\n", e.Name, e.Table, note)
	}
	return nil
}

func (s *Session) cmdDescribe(args string) error {
	if s.model == nil {
		return errNoMapping
	}
	e, ok := s.model.Entity(args)
	if !ok {
		return fmt.Errorf("unknown entity %q", args)
	}
	_, _ = fmt.Fprintf(s.out, "  %s (table %s)\n", e.Name, e.Table)
	for _, f := range e.Fields {
		key := ""
		if f.Key {
			key = " key"
		}
		_, _ = fmt.Fprintf(s.out, "    %-12s %-10s %s%s\n", f.Name, f.Type, f.Column, key)
	}
	for _, r := range e.Relations {
		_, _ = fmt.Fprintf(s.out, "    %-12s %-10s -> %s\n", r.Name, r.Kind, r.Target)
	}
	return nil
}

func (s *Session) cmdHelp() {
	_, _ = fmt.Fprintln(s.out, `
  Query Building:
    from <Entity> [as <name>]         Start a new query
    where <predicate>                 Filter rows (successive wheres are ANDed)
    select <expr>                     Project rows: Name, {Id, Name}, {Dept: Dept.Name}
    select many <Relation> [as <n>]   Flatten a one-to-many relation
    join <Entity> [as <n>] on <a> = <b>       Inner join on a key pair
    left join <Entity> [as <n>] on <a> = <b>  Left join on a key pair
    cross join <Entity> [as <n>]      Cross join
    group <key>                       Group by key; count() sum(x) ... range over the group
    order <expr> [asc|desc]           Order, replacing earlier orderings
    then <expr> [asc|desc]            Secondary ordering
    skip <n|$param>                   Skip rows
    take <n|$param>                   Limit rows
    distinct                          Remove duplicate rows
    include <Relation[.Relation]>     Load a relation with each row
    count | sum|avg|min|max <expr>    Aggregate the result
    first | first or default | single | single or default
    undo                              Drop the last operator
    reset                             Clear the query

  Parameters:
    param <name> = <value>            Set $name
    params                            List parameters

  Output:
    show                              Print the operator sequence
    sql                               Compile and print SQL and parameters
    explain                           Print every statement the query runs
    dot <file>                        Write the optimized tree as DOT
    expr <expr>                       Parse an expression and show its type

  Settings:
    dialect <name>                    Target dialect (dialects lists them)
    mapping <file>                    Load a mapping document
    entities | describe <Entity>      Inspect the mapping
    parameterize                      Toggle literal parameterization
    format                            Toggle multi-line SQL
    plugin softdelete [...]           Enable soft-delete filtering
    plugin opa <url> <rule> [k=v ...] Enforce an OPA policy
    opa [status]                      Show the OPA settings
    opa input <key> [value]           Set or remove an input value
    opa inputs [table]                List the inputs the policy reads
    opa explain <Entity|table>        Show how the policy translates
    plugin off [name]                 Disable plugins
    plugins                           Show plugin status

  Database:
    connect [<dsn>]                   Connect (wizard when no DSN)
    disconnect                        Close the connection
    run | exec                        Run the query and print the result

  exit | quit                         Leave the REPL`)
}
