// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Command sqlinfer infers the parameter and result schema of the queries in
// the given files against a live database and prints them.
//
// Usage:
//
//	sqlinfer [flags] [file ...]
//
// Queries are read from the files, or from standard input if there are
// none, and are separated by a semicolon at the end of a line. The database
// is named by a flag or by the first set variable of
//
//	postgres: POSTGRES_DATABASE_URL, POSTGRES_URL, POSTGRESQL_DATABASE_URL,
//	          POSTGRESQL_URL, DATABASE_URL
//	sqlite:   SQLITE_DATABASE_URL, SQLITE_URL, DATABASE_URL
//
// A .env file in the working directory is loaded first.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"

	"github.com/joho/godotenv"

	"github.com/canonical/sqlinfer"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "error: cannot load .env:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr, os.Getenv)
	if errors.Is(err, errUsage) {
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// run infers the queries named by args and renders them to stdout. Logs go
// to stderr.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, getenv func(string) string) error {
	config, err := parseArguments(args, stderr)
	if err != nil {
		return err
	}
	logger, err := newLogger(config.LogLevel, config.LogFormat, stderr)
	if err != nil {
		return err
	}
	url, err := resolveURL(config, getenv)
	if err != nil {
		return err
	}
	renderer, err := newRenderer(config.Format, stdout)
	if err != nil {
		return err
	}

	queries, err := readQueries(config.Files, stdin)
	if err != nil {
		return err
	}
	if len(queries) == 0 {
		logger.Warn("no queries to infer")
		return nil
	}

	backend, closeBackend, err := openBackend(ctx, config, url, logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	failures := &failureCounter{Renderer: renderer}
	coord, err := sqlinfer.NewCoordinator(sqlinfer.Config{
		Backend:         backend,
		Renderer:        failures,
		ContinueOnError: config.ContinueOnError,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	for _, q := range queries {
		coord.Register(q)
	}
	if err := coord.Flush(ctx); err != nil {
		return err
	}
	if failures.n > 0 {
		return fmt.Errorf("%d of %d queries failed", failures.n, len(queries))
	}
	return nil
}

// failureCounter counts the failed results it passes on.
type failureCounter struct {
	sqlinfer.Renderer
	n int
}

func (f *failureCounter) Render(ctx context.Context, results []sqlinfer.Result) error {
	for _, r := range results {
		if r.Err != nil {
			f.n++
		}
	}
	return f.Renderer.Render(ctx, results)
}
