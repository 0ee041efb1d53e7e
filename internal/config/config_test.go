package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_URL", "")

	cfg, path, err := Load("", nil)
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Equal(t, "postgres", cfg.Dialect)
	assert.Equal(t, 256, cfg.CacheSize)
	assert.False(t, cfg.Parameterize)

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)
}

func TestFileEnvAndFlagPrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "relq.yaml")
	writeFile(t, file, "dialect: mysql\nmapping: shop.yaml\ncache_size: 10\nlog_level: debug\ndatabase:\n  url: file.db\n")
	t.Setenv("DATABASE_URL", "")

	cfg, path, err := Load(file, nil)
	require.NoError(t, err)
	assert.Equal(t, file, path)
	assert.Equal(t, "mysql", cfg.Dialect)
	assert.Equal(t, 10, cfg.CacheSize)
	assert.Equal(t, filepath.Join(dir, "shop.yaml"), cfg.Mapping)
	assert.Equal(t, "sqlite", cfg.Engine())

	t.Setenv("RELQ_DIALECT", "sqlite")
	t.Setenv("RELQ_CACHE_SIZE", "20")
	flags := pflag.NewFlagSet("relq", pflag.ContinueOnError)
	flags.String("dialect", "", "")
	flags.Int("cache-size", 0, "")
	require.NoError(t, flags.Parse([]string{"--dialect", "oracle"}))

	cfg, _, err = Load(file, flags)
	require.NoError(t, err)
	assert.Equal(t, "oracle", cfg.Dialect, "a set flag wins")
	assert.Equal(t, 20, cfg.CacheSize, "environment beats the file")
}

func TestDatabaseURLFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/db")

	cfg, _, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@localhost/db", cfg.Database.URL)
	assert.Equal(t, "postgres", cfg.Engine())
}

func TestAutoDiscovery(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	writeFile(t, filepath.Join(root, "relq.yaml"), "dialect: sqlserver\n")
	nested := filepath.Join(root, "deep", "nested")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	t.Chdir(nested)
	t.Setenv("DATABASE_URL", "")

	cfg, path, err := Load("", nil)
	require.NoError(t, err)
	expected, _ := filepath.EvalSymlinks(filepath.Join(root, "relq.yaml"))
	actual, _ := filepath.EvalSymlinks(path)
	assert.Equal(t, expected, actual)
	assert.Equal(t, "sqlserver", cfg.Dialect)

	d, err := cfg.ResolveDialect()
	require.NoError(t, err)
	assert.Equal(t, "sqlserver", d.Name)
}

func TestExplicitPathNotFound(t *testing.T) {
	_, _, err := Load("/nonexistent/relq.yaml", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestBadLogLevel(t *testing.T) {
	cfg := &Config{LogLevel: "chatty"}
	_, err := cfg.Logger(os.Stderr)
	require.Error(t, err)
}

func TestLoadMapping(t *testing.T) {
	cfg := &Config{}
	_, err := cfg.LoadMapping()
	require.Error(t, err)

	cfg.Mapping = "../../mapping/testdata/shop.yaml"
	m, err := cfg.LoadMapping()
	require.NoError(t, err)
	_, ok := m.Entity("User")
	assert.True(t, ok)
}

func TestEngine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		cfg  Config
		want string
	}{
		{Config{Database: DatabaseConfig{Engine: "MySQL"}}, "mysql"},
		{Config{Database: DatabaseConfig{URL: "postgresql://localhost/x"}}, "postgres"},
		{Config{Database: DatabaseConfig{URL: "user:pw@tcp(localhost:3306)/x"}}, "mysql"},
		{Config{Database: DatabaseConfig{URL: ":memory:"}}, "sqlite"},
		{Config{Dialect: "sqlite"}, "sqlite"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.cfg.Engine())
	}
}

func TestOPASettings(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "relq.yaml")
	writeFile(t, file, "opa:\n  url: http://localhost:8181\n  policy: authz.allow\n  input:\n    subject:\n      tenant: 42\n")

	cfg, _, err := Load(file, nil)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8181", cfg.OPA.URL)
	assert.Equal(t, "authz.allow", cfg.OPA.Policy)
	subject, ok := cfg.OPA.Input["subject"].(map[string]any)
	require.True(t, ok, "nested input should decode to a map, got %T", cfg.OPA.Input["subject"])
	assert.Equal(t, 42, subject["tenant"])

	flags := pflag.NewFlagSet("relq", pflag.ContinueOnError)
	flags.String("opa-policy", "", "")
	require.NoError(t, flags.Parse([]string{"--opa-policy", "data.rows.allow"}))
	cfg, _, err = Load(file, flags)
	require.NoError(t, err)
	assert.Equal(t, "data.rows.allow", cfg.OPA.Policy)
}
