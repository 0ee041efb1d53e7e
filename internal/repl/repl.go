package repl

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ergochat/readline"

	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/exec"
	"github.com/bawdo/relq/mapping"
	"github.com/bawdo/relq/plan"
)

const promptText = "relq> "

// Options configure Run.
type Options struct {
	Model   *mapping.Model
	Dialect *dialect.Dialect
	// Engine and DSN connect at startup when DSN is set. An empty Engine
	// is inferred from the DSN.
	Engine       string
	DSN          string
	Parameterize bool
	Format       bool
	SoftDelete   bool
	CacheSize    int
	Logger       *slog.Logger
	// HistoryFile defaults to ~/.relq_history.
	HistoryFile string
	// OPAURL and OPAPolicy enable the opa plugin at startup.
	OPAURL    string
	OPAPolicy string
	OPAInput  map[string]any
}

// Run starts an interactive session on the terminal and returns when the
// user exits.
func Run(opts Options) error {
	rl, err := readline.NewFromConfig(&readline.Config{
		Prompt:          promptText,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline init: %w", err)
	}
	defer func() { _ = rl.Close() }()

	sess := newConfiguredSession(opts, rl)
	defer func() { _ = sess.Close() }()

	history := opts.HistoryFile
	if history == "" {
		history = historyPath()
	}
	_ = rl.SetConfig(&readline.Config{
		Prompt:          promptText,
		HistoryFile:     history,
		HistoryLimit:    500,
		AutoComplete:    &replCompleter{sess: sess},
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})

	if opts.DSN != "" {
		fmt.Printf("[Config] Connecting to %s...\n", exec.RedactDSN(opts.DSN))
		if err := sess.connectWithDSN(opts.Engine, opts.DSN); err != nil {
			fmt.Fprintf(os.Stderr, "  Warning: connect failed: %v\n", err)
		}
	}

	fmt.Println()
	fmt.Printf("relq REPL (dialect %s), type 'help' for commands, 'exit' to quit\n", sess.dialect.Name)
	fmt.Println()

	loop(rl, sess)
	fmt.Println()
	return nil
}

// newConfiguredSession applies opts to a fresh session.
func newConfiguredSession(opts Options, rl *readline.Instance) *Session {
	sess := NewSession(opts.Model, opts.Dialect, rl)
	sess.parameterize = opts.Parameterize
	sess.format = opts.Format
	if opts.CacheSize > 0 {
		sess.cache = plan.NewCache(opts.CacheSize)
	}
	if opts.Logger != nil {
		sess.logger = opts.Logger
	}
	sess.out = io.Discard
	if opts.SoftDelete {
		_ = configureSoftdelete(sess, "")
	}
	if opts.OPAURL != "" && opts.OPAPolicy != "" {
		input := opts.OPAInput
		if input == nil {
			input = map[string]any{}
		}
		sess.opa = &opaSettings{url: opts.OPAURL, policy: opts.OPAPolicy, input: cloneInput(input)}
		_ = configureOPA(sess, "")
	}
	sess.out = os.Stdout
	return sess
}

func loop(rl *readline.Instance, sess *Session) {
	for {
		line, err := rl.ReadLine()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		if lower == "exit" || lower == "quit" {
			return
		}
		if err := sess.Execute(line); err != nil {
			fmt.Fprintf(os.Stderr, "  Error: %v\n", err)
		}
	}
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".relq_history")
}
