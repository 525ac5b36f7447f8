package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/jmoiron/sqlx"

	"github.com/erazemk/izposoja/internal/db"
)

// levelRouter is a slog.Handler that routes INFO/WARN to stdout and ERROR+ to stderr.
type levelRouter struct {
	stdout slog.Handler
	stderr slog.Handler
}

func (lr *levelRouter) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelInfo
}

func (lr *levelRouter) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError {
		return lr.stderr.Handle(ctx, r)
	}
	return lr.stdout.Handle(ctx, r)
}

func (lr *levelRouter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelRouter{stdout: lr.stdout.WithAttrs(attrs), stderr: lr.stderr.WithAttrs(attrs)}
}

func (lr *levelRouter) WithGroup(name string) slog.Handler {
	return &levelRouter{stdout: lr.stdout.WithGroup(name), stderr: lr.stderr.WithGroup(name)}
}

// setupLogger configures structured logging. If logPath is non-empty, all
// levels are also written to that file. The returned function closes it.
func setupLogger(logPath string) (func(), error) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	cleanup := func() {}

	stdoutW := io.Writer(os.Stdout)
	stderrW := io.Writer(os.Stderr)

	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		cleanup = func() { f.Close() }
		stdoutW = io.MultiWriter(os.Stdout, f)
		stderrW = io.MultiWriter(os.Stderr, f)
	}

	slog.SetDefault(slog.New(&levelRouter{
		stdout: slog.NewTextHandler(stdoutW, opts),
		stderr: slog.NewTextHandler(stderrW, opts),
	}))
	return cleanup, nil
}

// envOr returns the environment variable key, or def when it is unset.
func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

// common holds the flags every subcommand takes.
type common struct {
	dsn     string
	driver  string
	logPath string
}

func (c *common) register(fs *flag.FlagSet) {
	fs.StringVar(&c.dsn, "db", envOr("IZPOSOJA_DB", "izposoja.sqlite3"), "database path or postgres URL")
	fs.StringVar(&c.driver, "driver", envOr("IZPOSOJA_DRIVER", ""), "database driver: sqlite or pgx (default: from -db)")
	fs.StringVar(&c.logPath, "log", envOr("IZPOSOJA_LOG", ""), "also write logs to this file")
}

// open sets up logging, opens the database and ensures its schema.
func (c *common) open() (*sqlx.DB, func(), error) {
	closeLog, err := setupLogger(c.logPath)
	if err != nil {
		return nil, nil, err
	}

	database, err := db.Open(c.driver, c.dsn)
	if err != nil {
		closeLog()
		return nil, nil, err
	}
	if err := db.EnsureSchema(database); err != nil {
		database.Close()
		closeLog()
		return nil, nil, fmt.Errorf("ensuring schema: %w", err)
	}

	return database, func() {
		database.Close()
		closeLog()
	}, nil
}

const usage = `Usage: izposoja <command> [flags]

Commands:
  serve    run the HTTP API and the scheduled hold expiry sweep
  sweep    preview or apply a hold expiry sweep once
  seed     create a demo organization with patrons, titles and loans
  init     create an organization and its admin account

Common flags (defaults from the environment or .env):
  -db <dsn>          SQLite path or postgres:// URL (IZPOSOJA_DB, default: izposoja.sqlite3)
  -driver <name>     sqlite or pgx, inferred from -db when empty (IZPOSOJA_DRIVER)
  -log <path>        also write logs to this file (IZPOSOJA_LOG)

Run "izposoja <command> -h" for command flags.
`

func main() {
	// A missing .env file is fine; the environment and flags still apply.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	var run func([]string) error
	switch os.Args[1] {
	case "serve":
		run = runServe
	case "sweep":
		run = runSweep
	case "seed":
		run = runSeed
	case "init":
		run = runInit
	case "-h", "-help", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n%s", os.Args[1], usage)
		os.Exit(1)
	}

	if err := run(os.Args[2:]); err != nil {
		if err == flag.ErrHelp {
			return
		}
		slog.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}
