// Package config loads relq settings with the precedence
// flags > environment > config file > defaults.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/mapping"
)

const maxWalkDepth = 25

// FileNames are looked up, in order, in each directory walked.
var FileNames = []string{"relq.yaml", "relq.yml"}

// Config is the content of relq.yaml.
type Config struct {
	Dialect      string         `mapstructure:"dialect"`
	Mapping      string         `mapstructure:"mapping"`
	Database     DatabaseConfig `mapstructure:"database"`
	Parameterize bool           `mapstructure:"parameterize"`
	Format       bool           `mapstructure:"format"`
	SoftDelete   bool           `mapstructure:"soft_delete"`
	CacheSize    int            `mapstructure:"cache_size"`
	LogLevel     string         `mapstructure:"log_level"`
	OPA          OPAConfig      `mapstructure:"opa"`
}

// DatabaseConfig holds connection settings.
type DatabaseConfig struct {
	Engine string `mapstructure:"engine"`
	URL    string `mapstructure:"url"`
}

// OPAConfig enables policy enforcement through an OPA server when URL
// is set.
type OPAConfig struct {
	URL    string         `mapstructure:"url"`
	Policy string         `mapstructure:"policy"`
	Input  map[string]any `mapstructure:"input"`
}

// Flag names bound to configuration keys by Load.
var flagKeys = map[string]string{
	"dialect":      "dialect",
	"mapping":      "mapping",
	"engine":       "database.engine",
	"database-url": "database.url",
	"parameterize": "parameterize",
	"format":       "format",
	"soft-delete":  "soft_delete",
	"cache-size":   "cache_size",
	"log-level":    "log_level",
	"opa-url":      "opa.url",
	"opa-policy":   "opa.policy",
}

// Load discovers and loads the configuration. explicitPath, when set,
// must exist; otherwise relq.yaml is searched from the working directory
// up to the repository root. flags may be nil; flags that were set
// override every other source. Returns the config and the file it was
// read from (empty when none).
func Load(explicitPath string, flags *pflag.FlagSet) (*Config, string, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RELQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("database.url", "RELQ_DATABASE_URL", "DATABASE_URL"); err != nil {
		return nil, "", err
	}
	if err := v.BindEnv("database.engine", "RELQ_DATABASE_ENGINE", "RELQ_ENGINE"); err != nil {
		return nil, "", err
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, "", fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
	}

	path, err := findConfigFile(explicitPath)
	if err != nil {
		return nil, "", err
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, path, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, path, fmt.Errorf("unmarshaling config: %w", err)
	}
	// A relative mapping path in the file is relative to the file.
	fromFile := path != "" && v.InConfig("mapping") && os.Getenv("RELQ_MAPPING") == "" && !changed(flags, "mapping")
	if fromFile && cfg.Mapping != "" && !filepath.IsAbs(cfg.Mapping) {
		cfg.Mapping = filepath.Join(filepath.Dir(path), cfg.Mapping)
	}
	return &cfg, path, nil
}

func changed(flags *pflag.FlagSet, name string) bool {
	if flags == nil {
		return false
	}
	f := flags.Lookup(name)
	return f != nil && f.Changed
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dialect", "postgres")
	v.SetDefault("mapping", "")
	v.SetDefault("database.engine", "")
	v.SetDefault("database.url", "")
	v.SetDefault("parameterize", false)
	v.SetDefault("format", false)
	v.SetDefault("soft_delete", false)
	v.SetDefault("cache_size", 256)
	v.SetDefault("log_level", "warn")
	v.SetDefault("opa.url", "")
	v.SetDefault("opa.policy", "")
}

// findConfigFile validates explicitPath, or walks up from the working
// directory looking for one of FileNames, stopping at a .git directory.
func findConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting cwd: %w", err)
	}
	dir := cwd
	for range maxWalkDepth {
		for _, name := range FileNames {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", nil
}

// ResolveDialect returns the configured dialect.
func (c *Config) ResolveDialect() (*dialect.Dialect, error) {
	return dialect.Lookup(c.Dialect)
}

// LoadMapping reads the mapping document.
func (c *Config) LoadMapping() (*mapping.Model, error) {
	if c.Mapping == "" {
		return nil, fmt.Errorf("no mapping configured (set mapping in relq.yaml, RELQ_MAPPING or --mapping)")
	}
	return mapping.LoadFile(c.Mapping)
}

// Engine is the database engine: the configured one, or the one implied
// by the database URL, or the dialect name.
func (c *Config) Engine() string {
	if c.Database.Engine != "" {
		return strings.ToLower(c.Database.Engine)
	}
	return EngineFor(c.Database.URL, c.Dialect)
}

// EngineFor infers the engine from the form of a connection string,
// returning fallback when the form is not recognised.
func EngineFor(url, fallback string) string {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(url, "file:"), strings.HasSuffix(url, ".db"), url == ":memory:":
		return "sqlite"
	case strings.Contains(url, "@tcp("):
		return "mysql"
	}
	return strings.ToLower(fallback)
}

// Level parses LogLevel. Unknown names are an error.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	return l, nil
}

// Logger returns a text logger writing to w at the configured level.
func (c *Config) Logger(w io.Writer) (*slog.Logger, error) {
	l, err := c.Level()
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l})), nil
}
