// Package exec runs compiled plans against a database through
// database/sql and materializes their results.
package exec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/mapping"
	"github.com/bawdo/relq/plan"
	"github.com/bawdo/relq/query"
	"github.com/bawdo/relq/translate"
	"github.com/bawdo/relq/visitors"
)

// ErrNoDriver is returned by Open for engines without a registered driver.
var ErrNoDriver = errors.New("no driver for engine")

var driverName = map[string]string{
	"postgres": "pgx",
	"mysql":    "mysql",
	"sqlite":   "sqlite",
}

// Engines lists the engines Open can connect to.
func Engines() []string {
	names := make([]string, 0, len(driverName))
	for name := range driverName {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Queryer is the subset of *sql.DB, *sql.Conn and *sql.Tx a Fetcher needs.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// DB runs plans for one dialect over a database handle.
type DB struct {
	db      *sql.DB
	dialect *dialect.Dialect
	engine  string
	logger  *slog.Logger
	opts    []translate.Option
}

// Option configures a DB.
type Option func(*DB)

// WithLogger logs executed statements at Debug.
func WithLogger(l *slog.Logger) Option {
	return func(d *DB) { d.logger = l }
}

// WithTranslateOptions is passed to every compile done by Run.
func WithTranslateOptions(opts ...translate.Option) Option {
	return func(d *DB) { d.opts = append(d.opts, opts...) }
}

// New wraps an open database. d decides how parameters are passed.
func New(db *sql.DB, d *dialect.Dialect, opts ...Option) *DB {
	out := &DB{db: db, dialect: d, engine: d.Name}
	for _, opt := range opts {
		opt(out)
	}
	if out.logger == nil {
		out.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return out
}

// Open connects to engine at dsn and checks the connection. The dialect
// is the engine's built-in dialect.
func Open(ctx context.Context, engine, dsn string, opts ...Option) (*DB, error) {
	engine = strings.ToLower(engine)
	driver, ok := driverName[engine]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrNoDriver, engine)
	}
	d, err := dialect.Lookup(engine)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	if engine == "sqlite" {
		// Every connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	out := New(db, d, opts...)
	out.engine = engine
	return out, nil
}

// Close closes the underlying database.
func (d *DB) Close() error { return d.db.Close() }

// SQL returns the underlying database handle.
func (d *DB) SQL() *sql.DB { return d.db }

// Dialect is the dialect plans are compiled for.
func (d *DB) Dialect() *dialect.Dialect { return d.dialect }

// Engine is the engine name given to Open, or the dialect name.
func (d *DB) Engine() string { return d.engine }

// Run compiles q and assembles its result.
func (d *DB) Run(ctx context.Context, q query.Query, m *mapping.Model, opts ...translate.Option) (any, error) {
	p, err := translate.Compile(q, m, d.dialect, append(slices.Clone(d.opts), opts...)...)
	if err != nil {
		return nil, err
	}
	return d.Exec(ctx, p)
}

// Exec runs p and its client-joined statements and assembles the result.
func (d *DB) Exec(ctx context.Context, p *plan.Plan) (any, error) {
	d.logger.Debug("executing plan", "plan", p.ID, "statements", len(p.Statements()))
	return p.Assemble(ctx, d.Fetcher())
}

// Fetcher returns a plan.Fetcher reading from d.
func (d *DB) Fetcher() plan.Fetcher {
	fetch := Fetcher(d.db, d.dialect)
	return func(ctx context.Context, sqlText string, params []visitors.Param) ([][]any, error) {
		d.logger.Debug("query", "sql", sqlText, "params", len(params))
		return fetch(ctx, sqlText, params)
	}
}

// Fetcher returns a plan.Fetcher running statements on q. Parameters are
// passed by name for dialects with named placeholders and by position
// otherwise.
func Fetcher(q Queryer, d *dialect.Dialect) plan.Fetcher {
	return func(ctx context.Context, sqlText string, params []visitors.Param) ([][]any, error) {
		rows, err := q.QueryContext(ctx, sqlText, Args(d, params)...)
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		defer func() { _ = rows.Close() }()
		return ScanAll(rows)
	}
}

// Args converts plan parameters to database/sql arguments.
func Args(d *dialect.Dialect, params []visitors.Param) []any {
	args := make([]any, len(params))
	for i, p := range params {
		if d.Placeholder == dialect.Named {
			args[i] = sql.Named(p.Name, p.Value)
			continue
		}
		args[i] = p.Value
	}
	return args
}

// ScanAll reads every row as a slice of driver values.
func ScanAll(rows *sql.Rows) ([][]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	var out [][]any
	for rows.Next() {
		vals := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// Tables lists the tables of the connected database.
func (d *DB) Tables(ctx context.Context) ([]string, error) {
	var q string
	switch d.engine {
	case "postgres":
		q = "SELECT table_name FROM information_schema.tables WHERE table_schema = 'public' ORDER BY table_name"
	case "mysql":
		q = "SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() ORDER BY table_name"
	case "sqlite":
		q = "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name"
	default:
		return nil, fmt.Errorf("table listing is not available for %s", d.engine)
	}
	rows, err := d.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// MissingTables returns the tables of m's entities that the database does
// not have, sorted.
func (d *DB) MissingTables(ctx context.Context, m *mapping.Model) ([]string, error) {
	tables, err := d.Tables(ctx)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(tables))
	for _, t := range tables {
		have[strings.ToLower(t)] = true
	}
	var missing []string
	for _, e := range m.Entities() {
		if !have[strings.ToLower(e.Table)] && !slices.Contains(missing, e.Table) {
			missing = append(missing, e.Table)
		}
	}
	slices.Sort(missing)
	return missing, nil
}
