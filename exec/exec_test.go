package exec

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/mapping"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/plan"
	"github.com/bawdo/relq/query"
	"github.com/bawdo/relq/visitors"
)

var schema = []string{
	"CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL, age INTEGER NOT NULL, dept_id INTEGER, deleted_at TEXT)",
	"CREATE TABLE depts (id INTEGER PRIMARY KEY, name TEXT NOT NULL)",
	"CREATE TABLE orders (id INTEGER PRIMARY KEY, user_id INTEGER NOT NULL, total NUMERIC NOT NULL)",
}

const userCount = 23

func loadShop(t *testing.T) *mapping.Model {
	t.Helper()
	m, err := mapping.LoadFile("../mapping/testdata/shop.yaml")
	require.NoError(t, err)
	return m
}

// openShop returns an in-memory database with users u00..u22 aged 10..32,
// two departments and orders for the first three users.
func openShop(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	for _, stmt := range schema {
		_, err = db.SQL().ExecContext(ctx, stmt)
		require.NoError(t, err)
	}
	_, err = db.SQL().ExecContext(ctx, "INSERT INTO depts (id, name) VALUES (1, 'eng'), (2, 'ops')")
	require.NoError(t, err)
	for i := range userCount {
		_, err = db.SQL().ExecContext(ctx,
			"INSERT INTO users (id, name, age, dept_id) VALUES (?, ?, ?, ?)",
			i+1, fmt.Sprintf("u%02d", i), 10+i, i%2+1)
		require.NoError(t, err)
	}
	_, err = db.SQL().ExecContext(ctx, `INSERT INTO orders (id, user_id, total) VALUES
		(1, 1, 9.5), (2, 1, 20), (3, 2, 7.25), (4, 3, 1)`)
	require.NoError(t, err)
	return db
}

// adultNames is the ordered list of names of users older than 18.
func adultNames() []string {
	var names []string
	for i := range userCount {
		if 10+i > 18 {
			names = append(names, fmt.Sprintf("u%02d", i))
		}
	}
	sort.Strings(names)
	return names
}

func strategyDialect(s dialect.SkipStrategy) *dialect.Dialect {
	d := dialect.SQLite()
	d.Name = "sqlite-" + s.String()
	d.Skip = s
	return d
}

func TestPagingStrategiesAgree(t *testing.T) {
	t.Parallel()
	db := openShop(t)
	m := loadShop(t)
	all := adultNames()

	pages := []struct{ skip, take int }{
		{0, 5}, {10, 5}, {12, 5}, {3, 0}, {13, 1}, {14, 3}, {20, 5},
	}
	for _, s := range []dialect.SkipStrategy{dialect.SkipNative, dialect.SkipRowNumber, dialect.SkipThreeTop} {
		runner := New(db.SQL(), strategyDialect(s))
		for _, pg := range pages {
			t.Run(fmt.Sprintf("%s/skip=%d/take=%d", s, pg.skip, pg.take), func(t *testing.T) {
				q := query.From("User").
					Where(nodes.Gt(query.F("Age"), query.V(18))).
					OrderBy(query.F("Name")).
					Select(query.F("Name")).
					Skip(pg.skip)
				if pg.take > 0 {
					q = q.Take(pg.take)
				}
				got, err := runner.Run(context.Background(), q, m)
				require.NoError(t, err)

				end := len(all)
				if pg.take > 0 {
					end = min(pg.skip+pg.take, len(all))
				}
				want := []any{}
				for i := pg.skip; i < end; i++ {
					want = append(want, all[i])
				}
				assert.Equal(t, want, got)
			})
		}
	}
}

func TestRunRecords(t *testing.T) {
	t.Parallel()
	db := openShop(t)
	q := query.From("User").
		Where(nodes.Eq(query.F("Name"), query.V("u01"))).
		Select(query.Fields(query.F("Id"), query.F("Name"), query.F("Age")))

	got, err := db.Run(context.Background(), q, loadShop(t))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, map[string]any{"Id": int64(2), "Name": "u01", "Age": int64(11)}, got.([]any)[0])
}

func TestRunParameters(t *testing.T) {
	t.Parallel()
	db := openShop(t)
	q := query.From("User").Where(nodes.Gt(query.F("Age"), query.P("min", 30))).Count()

	got, err := db.Run(context.Background(), q, loadShop(t))
	require.NoError(t, err)
	assert.Equal(t, int64(2), got)
}

func TestNullComparisons(t *testing.T) {
	t.Parallel()
	db := openShop(t)
	_, err := db.SQL().ExecContext(context.Background(),
		"INSERT INTO users (id, name, age) VALUES (101, 'n1', 40), (102, 'n2', 41), (103, 'n3', 42)")
	require.NoError(t, err)
	m := loadShop(t)

	tests := []struct {
		name string
		pred nodes.Node
		want int64
	}{
		{"equal to nil value", nodes.Eq(query.F("DeptId"), query.V(nil)), 3},
		{"equal to nil parameter", nodes.Eq(query.F("DeptId"), query.P("d", nil)), 3},
		{"equal to parameter", nodes.Eq(query.F("DeptId"), query.P("d", 1)), 12},
		{"not equal", nodes.NotEq(query.F("DeptId"), query.V(1)), 14},
		{"not of equal", nodes.Not(nodes.Eq(query.F("DeptId"), query.V(1))), 14},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.Run(context.Background(), query.From("User").Where(tt.pred).Count(), m)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRunClientJoin(t *testing.T) {
	t.Parallel()
	db := openShop(t)
	q := query.From("User").
		Where(nodes.Lt(query.F("Id"), query.V(5))).
		OrderBy(query.F("Id")).
		Select(query.Fields(query.F("Name"), query.F("Orders")))

	got, err := db.Run(context.Background(), q, loadShop(t))
	require.NoError(t, err)
	users := got.([]any)
	require.Len(t, users, 4)

	counts := make([]int, len(users))
	for i, u := range users {
		counts[i] = len(u.(map[string]any)["Orders"].([]any))
	}
	assert.Equal(t, []int{2, 1, 1, 0}, counts)

	var total decimal.Decimal
	for _, o := range users[0].(map[string]any)["Orders"].([]any) {
		total = total.Add(o.(map[string]any)["Total"].(decimal.Decimal))
	}
	assert.True(t, total.Equal(decimal.RequireFromString("29.5")), "got %s", total)
}

func TestRunTerminalOperators(t *testing.T) {
	t.Parallel()
	db := openShop(t)
	m := loadShop(t)
	ctx := context.Background()

	first, err := db.Run(ctx, query.From("User").OrderBy(query.F("Name")).Select(query.F("Name")).First(), m)
	require.NoError(t, err)
	assert.Equal(t, "u00", first)

	none, err := db.Run(ctx, query.From("User").Where(nodes.Gt(query.F("Age"), query.V(99))).Select(query.F("Name")).FirstOrDefault(), m)
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = db.Run(ctx, query.From("User").Where(nodes.Gt(query.F("Age"), query.V(99))).Select(query.F("Name")).First(), m)
	require.ErrorIs(t, err, plan.ErrNoRows)

	_, err = db.Run(ctx, query.From("User").Select(query.F("Name")).Single(), m)
	require.ErrorIs(t, err, plan.ErrMultipleRows)
}

func TestMissingTables(t *testing.T) {
	t.Parallel()
	db := openShop(t)
	m := loadShop(t)
	missing, err := db.MissingTables(context.Background(), m)
	require.NoError(t, err)
	assert.Empty(t, missing)

	_, err = db.SQL().ExecContext(context.Background(), "DROP TABLE depts")
	require.NoError(t, err)
	missing, err = db.MissingTables(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, []string{"depts"}, missing)
}

func TestArgs(t *testing.T) {
	t.Parallel()
	params := []visitors.Param{{Name: "a", Value: 1}, {Name: "b", Value: "x"}}

	assert.Equal(t, []any{1, "x"}, Args(dialect.Postgres(), params))
	assert.Equal(t, []any{sql.Named("a", 1), sql.Named("b", "x")}, Args(dialect.SQLServer(), params))
}

func TestOpenUnknownEngine(t *testing.T) {
	t.Parallel()
	_, err := Open(context.Background(), "db2", "")
	require.ErrorIs(t, err, ErrNoDriver)
	assert.Equal(t, []string{"mysql", "postgres", "sqlite"}, Engines())
}

func TestFetchError(t *testing.T) {
	t.Parallel()
	db := openShop(t)
	_, err := db.Fetcher()(context.Background(), "SELECT * FROM nope", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query:")
}
