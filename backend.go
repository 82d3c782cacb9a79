// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlinfer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/canonical/sqlinfer/internal/enum"
	"github.com/canonical/sqlinfer/internal/infer"
	"github.com/canonical/sqlinfer/internal/session"
	"github.com/canonical/sqlinfer/internal/sqlite"
	"github.com/canonical/sqlinfer/typeinfo"
)

// Backend is a database queries can be inferred against.
type Backend interface {
	// Begin starts the inference of one batch.
	Begin(ctx context.Context) (Pass, error)
}

// Pass infers the queries of one batch.
type Pass interface {
	// Workers is the number of queries that can be inferred at once.
	Workers() int
	// Infer returns the schema of query using the given worker, which is
	// in [0, Workers()). A worker is never used by two calls at once.
	Infer(ctx context.Context, worker int, query string) (*typeinfo.QuerySchema, error)
	// Close releases the resources of the pass.
	Close() error
}

// PostgresConfig configures a Postgres backend.
type PostgresConfig struct {
	// Conns are the connections queries are inferred on. Prepared
	// statements and planner settings are changed on them, so they must
	// not be used by anything else during a flush.
	Conns []*pgx.Conn
	// StatementPrefix prefixes the names of the statements the backend
	// prepares. Empty means "sqlinfer".
	StatementPrefix string
	// Logger receives the logs of the inference engine. Nil discards them.
	Logger *slog.Logger
}

// NewPostgres returns a Backend that infers through the given connections.
// The enumerations of the database are read once per batch, on the first
// connection.
func NewPostgres(cfg PostgresConfig) (Backend, error) {
	if len(cfg.Conns) == 0 {
		return nil, errors.New("cannot create postgres backend: no connections")
	}
	prefix := cfg.StatementPrefix
	if prefix == "" {
		prefix = "sqlinfer"
	}
	engine := infer.New(infer.WithLogger(cfg.Logger), infer.WithNames(infer.NewCounter(prefix)))
	sessions := make([]session.Session, len(cfg.Conns))
	for i, conn := range cfg.Conns {
		sessions[i] = session.NewPgx(conn)
	}
	return newPostgres(engine, sessions), nil
}

type postgresBackend struct {
	engine   *infer.Engine
	sessions []session.Session
}

func newPostgres(engine *infer.Engine, sessions []session.Session) *postgresBackend {
	return &postgresBackend{engine: engine, sessions: sessions}
}

func (b *postgresBackend) Begin(ctx context.Context) (Pass, error) {
	enums, err := enum.Resolve(ctx, b.sessions[0])
	if err != nil {
		return nil, err
	}
	return &postgresPass{backend: b, enums: enums}, nil
}

type postgresPass struct {
	backend *postgresBackend
	// enums is shared read-only by every worker.
	enums typeinfo.EnumTable
}

func (p *postgresPass) Workers() int {
	return len(p.backend.sessions)
}

func (p *postgresPass) Infer(ctx context.Context, worker int, query string) (*typeinfo.QuerySchema, error) {
	return p.backend.engine.Infer(ctx, p.backend.sessions[worker], query, p.enums)
}

func (p *postgresPass) Close() error {
	return nil
}

// NewSQLite returns a Backend that infers through db, which must have
// been opened with the go-sqlite3 driver or a wrapper of it.
func NewSQLite(db *sql.DB) Backend {
	return &sqliteBackend{db: db}
}

type sqliteBackend struct {
	db *sql.DB
}

func (b *sqliteBackend) Begin(ctx context.Context) (Pass, error) {
	conn, err := b.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot get connection: %w", err)
	}
	return &sqlitePass{conn: conn}, nil
}

type sqlitePass struct {
	conn *sql.Conn
}

func (p *sqlitePass) Workers() int {
	return 1
}

func (p *sqlitePass) Infer(ctx context.Context, worker int, query string) (*typeinfo.QuerySchema, error) {
	return sqlite.Describe(ctx, p.conn, query)
}

func (p *sqlitePass) Close() error {
	return p.conn.Close()
}
