// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/mattn/go-sqlite3"

	"github.com/canonical/sqlinfer"
)

const (
	dialectPostgres = "postgres"
	dialectSQLite   = "sqlite"
)

var errUsage = errors.New("usage")

// Configuration holds the command-line settings of a run.
type Configuration struct {
	Dialect             string
	DatabaseURL         string
	PostgresDatabaseURL string
	SQLiteDatabaseURL   string
	Sessions            int
	StatementPrefix     string
	Format              string
	ContinueOnError     bool
	LogLevel            string
	LogFormat           string
	Files               []string
}

// parseArguments processes command-line flags. Usage errors are written to
// output and reported as errUsage.
func parseArguments(args []string, output io.Writer) (Configuration, error) {
	var config Configuration

	fs := flag.NewFlagSet("sqlinfer", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&config.Dialect, "dialect", dialectPostgres, "Database dialect: postgres or sqlite")
	fs.StringVar(&config.DatabaseURL, "database-url", "", "Database URL for either dialect")
	fs.StringVar(&config.PostgresDatabaseURL, "postgres-database-url", "", "Postgres database URL")
	fs.StringVar(&config.SQLiteDatabaseURL, "sqlite-database-url", "", "SQLite database file or URL")
	fs.IntVar(&config.Sessions, "sessions", 1, "Number of Postgres sessions to infer on in parallel")
	fs.StringVar(&config.StatementPrefix, "statement-prefix", "sqlinfer", "Prefix of the prepared statement names")
	fs.StringVar(&config.Format, "format", formatJSON, "Output format: json or text")
	fs.BoolVar(&config.ContinueOnError, "continue-on-error", false, "Report failing queries instead of aborting")
	fs.StringVar(&config.LogLevel, "log-level", "warn", "Log level: debug, info, warn or error")
	fs.StringVar(&config.LogFormat, "log-format", "text", "Log format: text or json")

	if err := fs.Parse(args); err != nil {
		return Configuration{}, errUsage
	}
	config.Files = fs.Args()

	switch config.Dialect {
	case dialectPostgres, dialectSQLite:
	default:
		fmt.Fprintf(output, "unknown dialect %q\n", config.Dialect)
		return Configuration{}, errUsage
	}
	if config.Sessions < 1 {
		fmt.Fprintf(output, "-sessions must be at least 1, got %d\n", config.Sessions)
		return Configuration{}, errUsage
	}
	return config, nil
}

var urlVariables = map[string][]string{
	dialectPostgres: {"POSTGRES_DATABASE_URL", "POSTGRES_URL", "POSTGRESQL_DATABASE_URL", "POSTGRESQL_URL", "DATABASE_URL"},
	dialectSQLite:   {"SQLITE_DATABASE_URL", "SQLITE_URL", "DATABASE_URL"},
}

// resolveURL returns the database URL for the configured dialect. Flags take
// precedence over the environment.
func resolveURL(config Configuration, getenv func(string) string) (string, error) {
	candidates := []string{config.DatabaseURL}
	if config.Dialect == dialectPostgres {
		candidates = append([]string{config.PostgresDatabaseURL}, candidates...)
	} else {
		candidates = append([]string{config.SQLiteDatabaseURL}, candidates...)
	}
	for _, name := range urlVariables[config.Dialect] {
		candidates = append(candidates, getenv(name))
	}
	for _, url := range candidates {
		if url != "" {
			return url, nil
		}
	}
	return "", fmt.Errorf("no %s database URL: set -%s-database-url or one of %s",
		config.Dialect, config.Dialect, strings.Join(urlVariables[config.Dialect], ", "))
}

// newLogger builds the logger of the command.
func newLogger(level, format string, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", format)
}

// openBackend connects to the database. The returned function releases
// every connection.
func openBackend(ctx context.Context, config Configuration, url string, logger *slog.Logger) (sqlinfer.Backend, func(), error) {
	if config.Dialect == dialectSQLite {
		db, err := sql.Open("sqlite3", strings.TrimPrefix(url, "sqlite://"))
		if err != nil {
			return nil, nil, fmt.Errorf("cannot open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("cannot open database: %w", err)
		}
		return sqlinfer.NewSQLite(db), func() { db.Close() }, nil
	}

	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(config.Sessions)
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot connect to database: %w", err)
	}

	var acquired []*pgxpool.Conn
	release := func() {
		for _, conn := range acquired {
			conn.Release()
		}
		pool.Close()
	}
	conns := make([]*pgx.Conn, 0, config.Sessions)
	for i := 0; i < config.Sessions; i++ {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			release()
			return nil, nil, fmt.Errorf("cannot connect to database: %w", err)
		}
		acquired = append(acquired, conn)
		conns = append(conns, conn.Conn())
	}
	logger.Debug("connected to database", slog.Int("sessions", len(conns)))

	backend, err := sqlinfer.NewPostgres(sqlinfer.PostgresConfig{
		Conns:           conns,
		StatementPrefix: config.StatementPrefix,
		Logger:          logger,
	})
	if err != nil {
		release()
		return nil, nil, err
	}
	return backend, release, nil
}
