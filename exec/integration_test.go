//go:build integration

package exec

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/plan"
	"github.com/bawdo/relq/query"
	"github.com/bawdo/relq/translate"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"postgres:18-alpine",
		postgres.WithDatabase("relq"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestPostgresPaging(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, "postgres", startPostgres(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	for _, stmt := range []string{
		"CREATE TABLE users (id BIGINT PRIMARY KEY, name TEXT NOT NULL, age INTEGER NOT NULL, dept_id BIGINT, deleted_at TIMESTAMPTZ)",
		"CREATE TABLE depts (id BIGINT PRIMARY KEY, name TEXT NOT NULL)",
		"CREATE TABLE orders (id BIGINT PRIMARY KEY, user_id BIGINT NOT NULL, total NUMERIC(10,2) NOT NULL)",
	} {
		_, err = db.SQL().ExecContext(ctx, stmt)
		require.NoError(t, err)
	}
	for i := range userCount {
		_, err = db.SQL().ExecContext(ctx,
			"INSERT INTO users (id, name, age) VALUES ($1, $2, $3)", i+1, fmt.Sprintf("u%02d", i), 10+i)
		require.NoError(t, err)
	}

	m := loadShop(t)
	missing, err := db.MissingTables(ctx, m)
	require.NoError(t, err)
	assert.Empty(t, missing)

	cache := plan.NewCache(16)
	page := func(skip, take int) query.Query {
		return query.From("User").
			Where(nodes.Gt(query.F("Age"), query.V(18))).
			OrderBy(query.F("Name")).
			Select(query.F("Name")).
			Skip(query.P("skip", skip)).
			Take(query.P("take", take))
	}
	all := adultNames()
	for _, skip := range []int{0, 5, 10, 13} {
		got, err := db.Run(ctx, page(skip, 5), m, translate.WithCache(cache))
		require.NoError(t, err)
		want := []any{}
		for i := skip; i < min(skip+5, len(all)); i++ {
			want = append(want, all[i])
		}
		assert.Equal(t, want, got, "skip %d", skip)
	}
	hits, misses := cache.Stats()
	assert.Equal(t, int64(3), hits)
	assert.Equal(t, int64(1), misses)
}
