// Package dialect describes what a SQL target can express: identifier
// quoting, placeholders, boolean representation, paging primitives,
// operator emulation, cast names and the function registry. A dialect is
// plain data selected at translation start.
package dialect

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/bawdo/relq/internal/quoting"
	"github.com/bawdo/relq/nodes"
)

// Family selects the SQL builder specialisation for a dialect.
type Family int

const (
	FamilyPostgres Family = iota
	FamilyMySQL
	FamilySQLite
	FamilySQLServer
	FamilyOracle
)

// SkipStrategy is how a select with Skip is paged.
type SkipStrategy int

const (
	// SkipNative renders an OFFSET clause.
	SkipNative SkipStrategy = iota
	// SkipRowNumber wraps the select around a ROW_NUMBER() column.
	SkipRowNumber
	// SkipThreeTop nests three "first N rows" selects.
	SkipThreeTop
)

var skipStrategyNames = [...]string{
	SkipNative:    "native",
	SkipRowNumber: "row-number",
	SkipThreeTop:  "three-top",
}

func (s SkipStrategy) String() string {
	if int(s) < len(skipStrategyNames) {
		return skipStrategyNames[s]
	}
	return "unknown"
}

// TakeStyle is the clause used to limit rows.
type TakeStyle int

const (
	TakeLimit  TakeStyle = iota // LIMIT n OFFSET m
	TakeFetch                   // OFFSET m ROWS FETCH NEXT n ROWS ONLY
	TakeTop                     // SELECT TOP (n)
	TakeRowNum                  // wrapped in WHERE ROWNUM <= n
)

// PlaceholderStyle is how parameters appear in SQL text.
type PlaceholderStyle int

const (
	Positional PlaceholderStyle = iota // ?
	Numbered                           // $1
	Named                              // @name or :name
)

// ApplyStyle is how CROSS/OUTER APPLY joins are rendered.
type ApplyStyle int

const (
	ApplyNone ApplyStyle = iota
	ApplyNative
	ApplyLateral
)

// Dialect is the capability record of a SQL target.
type Dialect struct {
	Name   string
	Family Family

	// Quote quotes an identifier; EscapeString escapes the body of a
	// string literal.
	Quote        func(string) string
	EscapeString func(string) string

	// MaxIdentifierLength is 0 when identifiers are unbounded.
	MaxIdentifierLength int

	Placeholder PlaceholderStyle
	ParamPrefix string

	// NativeBool is false when predicates cannot be used as values and
	// booleans are stored as 0/1.
	NativeBool bool

	// DummyTable completes a select that has no source. Empty means a
	// FROM-less select is valid.
	DummyTable string

	Skip  SkipStrategy
	Take  TakeStyle
	Apply ApplyStyle

	// OffsetWithoutLimit is the LIMIT value rendered when only an offset
	// is present and the dialect cannot omit LIMIT.
	OffsetWithoutLimit string

	// NullSafeEq is a template for equality that treats two nulls as
	// equal. Empty means the comparison is expanded with IS NULL tests.
	NullSafeEq string

	// Operators overrides the native rendering of binary operators with a
	// template over ?1 and ?2. A present but empty template marks the
	// operator as unsupported.
	Operators      map[nodes.BinaryOp]string
	UnaryOperators map[nodes.UnaryOp]string

	// CastTypes names the SQL type used for CAST to each logical type.
	CastTypes map[nodes.TypeKind]string

	// AvgDigits truncates AVG results to this many decimal digits when
	// non-zero.
	AvgDigits int

	Functions *Registry
}

// Clone returns a copy that can be modified without affecting d.
func (d *Dialect) Clone() *Dialect {
	c := *d
	c.Operators = cloneMap(d.Operators)
	c.UnaryOperators = cloneMap(d.UnaryOperators)
	c.CastTypes = cloneMap(d.CastTypes)
	if d.Functions != nil {
		c.Functions = d.Functions.Clone()
	}
	return &c
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return nil
	}
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (d *Dialect) String() string { return d.Name }

// Operator returns the template for op, and whether op is supported at
// all. An empty template with ok true means the native infix form.
func (d *Dialect) Operator(op nodes.BinaryOp) (tmpl string, ok bool) {
	t, present := d.Operators[op]
	if !present {
		return "", true
	}
	return t, t != ""
}

// UnaryOperator is Operator for unary operators.
func (d *Dialect) UnaryOperator(op nodes.UnaryOp) (tmpl string, ok bool) {
	t, present := d.UnaryOperators[op]
	if !present {
		return "", true
	}
	return t, t != ""
}

// Expand substitutes ?N slots in tmpl with arg(N). arg is called once per
// slot occurrence, in text order, so placeholders are emitted in order.
func Expand(tmpl string, arg func(i int) string) string {
	var sb strings.Builder
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		if c != '?' || i+1 >= len(tmpl) || tmpl[i+1] < '0' || tmpl[i+1] > '9' {
			sb.WriteByte(c)
			continue
		}
		j := i + 1
		for j < len(tmpl) && tmpl[j] >= '0' && tmpl[j] <= '9' {
			j++
		}
		n, _ := strconv.Atoi(tmpl[i+1 : j])
		sb.WriteString(arg(n))
		i = j - 1
	}
	return sb.String()
}

// Slots returns the highest ?N slot used by tmpl.
func Slots(tmpl string) int {
	hi := 0
	Expand(tmpl, func(i int) string {
		if i > hi {
			hi = i
		}
		return ""
	})
	return hi
}

var registry = map[string]func() *Dialect{
	"postgres":      Postgres,
	"postgresql":    Postgres,
	"mysql":         MySQL,
	"sqlite":        SQLite,
	"sqlite3":       SQLite,
	"sqlserver":     SQLServer,
	"mssql":         SQLServer,
	"sqlserver2000": SQLServer2000,
	"sqlserver2012": SQLServer2012,
	"oracle":        Oracle,
}

// Lookup returns a fresh copy of the named built-in dialect.
func Lookup(name string) (*Dialect, error) {
	ctor, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown dialect %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return ctor(), nil
}

// Names lists the canonical built-in dialect names.
func Names() []string {
	seen := make(map[string]bool)
	var out []string
	for _, ctor := range registry {
		n := ctor().Name
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

var standardCasts = map[nodes.TypeKind]string{
	nodes.TypeBool:     "BOOLEAN",
	nodes.TypeInt:      "INTEGER",
	nodes.TypeInt64:    "BIGINT",
	nodes.TypeFloat:    "DOUBLE PRECISION",
	nodes.TypeDecimal:  "DECIMAL(29,4)",
	nodes.TypeString:   "VARCHAR(4000)",
	nodes.TypeDateTime: "TIMESTAMP",
	nodes.TypeBytes:    "BYTEA",
}

// Postgres is PostgreSQL: numbered placeholders, native OFFSET, LATERAL.
func Postgres() *Dialect {
	casts := cloneMap(standardCasts)
	casts[nodes.TypeString] = "TEXT"
	return &Dialect{
		Name:                "postgres",
		Family:              FamilyPostgres,
		Quote:               quoting.DoubleQuote,
		EscapeString:        quoting.EscapeStandard,
		MaxIdentifierLength: 63,
		Placeholder:         Numbered,
		ParamPrefix:         "$",
		NativeBool:          true,
		Skip:                SkipNative,
		Take:                TakeLimit,
		Apply:               ApplyLateral,
		NullSafeEq:          "?1 IS NOT DISTINCT FROM ?2",
		Operators: map[nodes.BinaryOp]string{
			nodes.OpBitXor:   "?1 # ?2",
			nodes.OpPower:    "POWER(?1, ?2)",
			nodes.OpCoalesce: "COALESCE(?1, ?2)",
		},
		CastTypes: casts,
		Functions: postgresFunctions(),
	}
}

// MySQL is MySQL 8: positional placeholders, backtick quoting, LATERAL.
func MySQL() *Dialect {
	casts := map[nodes.TypeKind]string{
		nodes.TypeBool:     "UNSIGNED",
		nodes.TypeInt:      "SIGNED",
		nodes.TypeInt64:    "SIGNED",
		nodes.TypeFloat:    "DOUBLE",
		nodes.TypeDecimal:  "DECIMAL(29,4)",
		nodes.TypeString:   "CHAR",
		nodes.TypeDateTime: "DATETIME",
		nodes.TypeBytes:    "BINARY",
	}
	return &Dialect{
		Name:                "mysql",
		Family:              FamilyMySQL,
		Quote:               quoting.Backtick,
		EscapeString:        quoting.EscapeString,
		MaxIdentifierLength: 64,
		Placeholder:         Positional,
		NativeBool:          true,
		Skip:                SkipNative,
		Take:                TakeLimit,
		Apply:               ApplyLateral,
		OffsetWithoutLimit:  "18446744073709551615",
		NullSafeEq:          "?1 <=> ?2",
		Operators: map[nodes.BinaryOp]string{
			nodes.OpConcat:   "CONCAT(?1, ?2)",
			nodes.OpPower:    "POWER(?1, ?2)",
			nodes.OpCoalesce: "COALESCE(?1, ?2)",
		},
		CastTypes: casts,
		Functions: mysqlFunctions(),
	}
}

// SQLite has no APPLY, no POWER operator and no XOR operator.
func SQLite() *Dialect {
	casts := map[nodes.TypeKind]string{
		nodes.TypeBool:     "INTEGER",
		nodes.TypeInt:      "INTEGER",
		nodes.TypeInt64:    "INTEGER",
		nodes.TypeFloat:    "REAL",
		nodes.TypeDecimal:  "NUMERIC",
		nodes.TypeString:   "TEXT",
		nodes.TypeDateTime: "TEXT",
		nodes.TypeBytes:    "BLOB",
	}
	return &Dialect{
		Name:               "sqlite",
		Family:             FamilySQLite,
		Quote:              quoting.DoubleQuote,
		EscapeString:       quoting.EscapeStandard,
		Placeholder:        Positional,
		NativeBool:         true,
		Skip:               SkipNative,
		Take:               TakeLimit,
		Apply:              ApplyNone,
		OffsetWithoutLimit: "-1",
		NullSafeEq:         "?1 IS ?2",
		Operators: map[nodes.BinaryOp]string{
			nodes.OpBitXor:   "((?1 | ?2) - (?1 & ?2))",
			nodes.OpPower:    "",
			nodes.OpCoalesce: "COALESCE(?1, ?2)",
		},
		CastTypes: casts,
		Functions: sqliteFunctions(),
	}
}

var sqlServerCasts = map[nodes.TypeKind]string{
	nodes.TypeBool:     "BIT",
	nodes.TypeInt:      "INT",
	nodes.TypeInt64:    "BIGINT",
	nodes.TypeFloat:    "FLOAT",
	nodes.TypeDecimal:  "DECIMAL(29,4)",
	nodes.TypeString:   "NVARCHAR(4000)",
	nodes.TypeDateTime: "DATETIME",
	nodes.TypeBytes:    "VARBINARY(MAX)",
}

// SQLServer is SQL Server 2005: TOP for take, ROW_NUMBER for skip.
func SQLServer() *Dialect {
	return &Dialect{
		Name:                "sqlserver",
		Family:              FamilySQLServer,
		Quote:               quoting.Bracket,
		EscapeString:        quoting.EscapeStandard,
		MaxIdentifierLength: 128,
		Placeholder:         Named,
		ParamPrefix:         "@",
		NativeBool:          false,
		Skip:                SkipRowNumber,
		Take:                TakeTop,
		Apply:               ApplyNative,
		Operators: map[nodes.BinaryOp]string{
			nodes.OpConcat:     "?1 + ?2",
			nodes.OpPower:      "POWER(?1, ?2)",
			nodes.OpShiftLeft:  "(?1 * POWER(2, ?2))",
			nodes.OpShiftRight: "(?1 / POWER(2, ?2))",
			nodes.OpCoalesce:   "COALESCE(?1, ?2)",
		},
		CastTypes: cloneMap(sqlServerCasts),
		Functions: sqlServerFunctions(),
	}
}

// SQLServer2000 has neither OFFSET nor window functions; skip uses the
// three-top pager.
func SQLServer2000() *Dialect {
	d := SQLServer()
	d.Name = "sqlserver2000"
	d.Skip = SkipThreeTop
	d.Apply = ApplyNone
	d.CastTypes[nodes.TypeString] = "NVARCHAR(4000)"
	d.CastTypes[nodes.TypeBytes] = "IMAGE"
	return d
}

// SQLServer2012 pages with OFFSET/FETCH.
func SQLServer2012() *Dialect {
	d := SQLServer()
	d.Name = "sqlserver2012"
	d.Skip = SkipNative
	d.Take = TakeFetch
	return d
}

// Oracle upper-cases identifiers, limits them to 30 characters, has no
// boolean values, takes through ROWNUM and emulates bit operators.
func Oracle() *Dialect {
	return &Dialect{
		Name:                "oracle",
		Family:              FamilyOracle,
		Quote:               quoting.UpperDoubleQuote,
		EscapeString:        quoting.EscapeStandard,
		MaxIdentifierLength: 30,
		Placeholder:         Named,
		ParamPrefix:         ":",
		NativeBool:          false,
		DummyTable:          "SYS.DUAL",
		Skip:                SkipRowNumber,
		Take:                TakeRowNum,
		Apply:               ApplyNone,
		Operators: map[nodes.BinaryOp]string{
			nodes.OpMod:        "MOD(?1, ?2)",
			nodes.OpPower:      "POWER(?1, ?2)",
			nodes.OpBitAnd:     "BITAND(?1, ?2)",
			nodes.OpBitOr:      "(?1 - BITAND(?1, ?2) + ?2)",
			nodes.OpBitXor:     "(?1 - 2 * BITAND(?1, ?2) + ?2)",
			nodes.OpShiftLeft:  "(?1 * POWER(2, ?2))",
			nodes.OpShiftRight: "FLOOR(?1 / POWER(2, ?2))",
			nodes.OpCoalesce:   "NVL(?1, ?2)",
		},
		UnaryOperators: map[nodes.UnaryOp]string{
			nodes.OpBitNot: "(0 - ?1 - 1)",
		},
		CastTypes: map[nodes.TypeKind]string{
			nodes.TypeBool:     "NUMBER(1)",
			nodes.TypeInt:      "NUMBER(10)",
			nodes.TypeInt64:    "NUMBER(19)",
			nodes.TypeFloat:    "BINARY_DOUBLE",
			nodes.TypeDecimal:  "NUMBER(29,4)",
			nodes.TypeString:   "NVARCHAR2(2000)",
			nodes.TypeDateTime: "TIMESTAMP",
			nodes.TypeBytes:    "BLOB",
		},
		AvgDigits: 20,
		Functions: oracleFunctions(),
	}
}
