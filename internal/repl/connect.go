package repl

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os/user"
	"slices"
	"strings"

	"github.com/ergochat/readline"

	"github.com/bawdo/relq/exec"
	"github.com/bawdo/relq/internal/config"
)

// cmdConnect handles "connect [engine] <dsn>"; without a DSN it offers a
// reconnect or runs the setup wizard.
func (s *Session) cmdConnect(args string) error {
	if s.db != nil {
		return fmt.Errorf("already connected to %s (use 'disconnect' first)", exec.RedactDSN(s.dsn))
	}

	if args != "" {
		engine, dsn := "", args
		if first, rest, ok := strings.Cut(args, " "); ok && slices.Contains(exec.Engines(), strings.ToLower(first)) {
			engine, dsn = strings.ToLower(first), strings.TrimSpace(rest)
		}
		return s.connectWithDSN(engine, dsn)
	}

	if s.lastDSN != "" {
		choice := prompt(s.rl, fmt.Sprintf("Reconnect to %s? (y/n/setup)", exec.RedactDSN(s.lastDSN)), "y")
		switch strings.ToLower(choice) {
		case "y", "yes":
			return s.connectWithDSN("", s.lastDSN)
		case "s", "setup":
			return s.connectViaWizard()
		default:
			_, _ = fmt.Fprintln(s.out, "  Connect cancelled")
			return nil
		}
	}
	return s.connectViaWizard()
}

// connectWithDSN opens dsn. An empty engine is inferred from the DSN,
// then from the session dialect.
func (s *Session) connectWithDSN(engine, dsn string) error {
	if engine == "" {
		engine = config.EngineFor(dsn, s.dialect.Name)
	}
	db, err := exec.Open(context.Background(), engine, dsn, exec.WithLogger(s.logger))
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	s.db = db
	s.dsn = dsn
	s.lastDSN = dsn
	_, _ = fmt.Fprintf(s.out, "  Connected to %s (%s)\n", exec.RedactDSN(dsn), engine)
	if db.Dialect().Name != s.dialect.Name {
		s.dialect = db.Dialect()
		_, _ = fmt.Fprintf(s.out, "  Dialect set to %s\n", s.dialect.Name)
	}
	return nil
}

func (s *Session) connectViaWizard() error {
	engine := strings.ToLower(prompt(s.rl, "Engine ("+strings.Join(exec.Engines(), ", ")+")", config.EngineFor("", s.dialect.Name)))
	var dsn string
	switch engine {
	case "sqlite":
		dsn = buildSQLiteDSN(s.rl)
	case "mysql":
		dsn = buildMySQLDSN(s.rl)
	case "postgres":
		dsn = buildPostgresDSN(s.rl)
	default:
		return fmt.Errorf("%w %q", exec.ErrNoDriver, engine)
	}
	if dsn == "" {
		_, _ = fmt.Fprintln(s.out, "  No connection configured")
		return nil
	}
	_, _ = fmt.Fprintf(s.out, "  DSN: %s\n", exec.RedactDSN(dsn))
	return s.connectWithDSN(engine, dsn)
}

func (s *Session) cmdDisconnect() error {
	if s.db == nil {
		return errors.New("not connected")
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	s.db = nil
	_, _ = fmt.Fprintf(s.out, "  Disconnected from %s\n", exec.RedactDSN(s.dsn))
	return nil
}

// cmdRun compiles the query for the connection's dialect, runs it and
// prints the result as a table.
func (s *Session) cmdRun() error {
	if s.db == nil {
		return errors.New("not connected (use 'connect <dsn>' first)")
	}
	if s.db.Dialect().Name != s.dialect.Name {
		_, _ = fmt.Fprintf(s.out, "  Warning: connected to %s but dialect is set to %s\n", s.db.Engine(), s.dialect.Name)
	}
	if err := s.requireQuery(); err != nil {
		return err
	}
	if s.model == nil {
		return errNoMapping
	}

	ctx := context.Background()
	p, err := s.compileFor(s.db)
	if err != nil {
		return err
	}
	s.printPlan(p)
	result, err := s.db.Exec(ctx, p)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprint(s.out, exec.FormatResult(result))
	return nil
}

// Close releases the connection, if any.
func (s *Session) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// prompt prints a label with an optional default and returns the user's input
// (or the default if they press enter).
func prompt(rl *readline.Instance, label, defaultVal string) string {
	if rl == nil {
		return defaultVal
	}
	if defaultVal != "" {
		rl.SetPrompt(fmt.Sprintf("[Config]   %s [%s]: ", label, defaultVal))
	} else {
		rl.SetPrompt(fmt.Sprintf("[Config]   %s: ", label))
	}
	defer rl.SetPrompt(promptText)
	line, err := rl.ReadLine()
	if err != nil {
		return defaultVal
	}
	if val := strings.TrimSpace(line); val != "" {
		return val
	}
	return defaultVal
}

func buildSQLiteDSN(rl *readline.Instance) string {
	return prompt(rl, "Database path", ":memory:")
}

func buildPostgresDSN(rl *readline.Instance) string {
	defaultUser := "postgres"
	if u, err := user.Current(); err == nil && u.Username != "" {
		defaultUser = u.Username
	}

	dbUser := prompt(rl, "User", defaultUser)
	dbPass := prompt(rl, "Password", "")
	host := prompt(rl, "Host", "localhost")
	port := prompt(rl, "Port", "5432")
	dbName := prompt(rl, "Database", dbUser)
	sslMode := prompt(rl, "SSL mode (disable/require/verify-full)", "disable")

	userInfo := url.User(dbUser)
	if dbPass != "" {
		userInfo = url.UserPassword(dbUser, dbPass)
	}
	u := &url.URL{
		Scheme:   "postgres",
		User:     userInfo,
		Host:     host + ":" + port,
		Path:     "/" + dbName,
		RawQuery: "sslmode=" + sslMode,
	}
	return u.String()
}

func buildMySQLDSN(rl *readline.Instance) string {
	dbUser := prompt(rl, "User", "root")
	dbPass := prompt(rl, "Password", "")
	host := prompt(rl, "Host", "localhost")
	port := prompt(rl, "Port", "3306")
	dbName := prompt(rl, "Database", "")
	if dbName == "" {
		return ""
	}

	// user:pass@tcp(host:port)/dbname
	auth := dbUser
	if dbPass != "" {
		auth = dbUser + ":" + dbPass
	}
	return fmt.Sprintf("%s@tcp(%s:%s)/%s", auth, host, port, dbName)
}
