// REPL binary for interactively building and running queries.
//
// Configuration is read like relq's: relq.yaml, then env vars such as
//
//	RELQ_MAPPING=<mapping.yaml>
//	RELQ_DIALECT=postgres|mysql|sqlite|sqlserver|oracle
//	DATABASE_URL=<dsn>                    (optional, auto-connects if set)
//
// Usage:
//
//	go run ./cmd/repl
package main

import (
	"fmt"
	"os"

	"github.com/bawdo/relq/internal/config"
	"github.com/bawdo/relq/internal/repl"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, _, err := config.Load("", nil)
	if err != nil {
		return err
	}
	logger, err := cfg.Logger(os.Stderr)
	if err != nil {
		return err
	}
	d, err := cfg.ResolveDialect()
	if err != nil {
		return err
	}
	opts := repl.Options{
		Dialect:      d,
		DSN:          cfg.Database.URL,
		Parameterize: cfg.Parameterize,
		Format:       cfg.Format,
		SoftDelete:   cfg.SoftDelete,
		CacheSize:    cfg.CacheSize,
		Logger:       logger,
		OPAURL:       cfg.OPA.URL,
		OPAPolicy:    cfg.OPA.Policy,
		OPAInput:     cfg.OPA.Input,
	}
	if cfg.Database.URL != "" {
		opts.Engine = cfg.Engine()
	}
	if cfg.Mapping != "" {
		if opts.Model, err = cfg.LoadMapping(); err != nil {
			return err
		}
	}
	return repl.Run(opts)
}
