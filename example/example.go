// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package example infers the schemas of the queries of a small SQLite
// application and prints them.
package example

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/canonical/sqlinfer"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE person (
	name TEXT NOT NULL,
	id INTEGER NOT NULL PRIMARY KEY,
	team TEXT
);
CREATE TABLE location (
	room_id INTEGER NOT NULL,
	name TEXT,
	team TEXT
);`

// Queries are the queries of the application, registered from wherever
// they are used.
var Queries = []string{
	"SELECT name, id, team FROM person WHERE id = ?",
	"SELECT l.room_id, p.name FROM person AS p JOIN location AS l ON p.team = l.team WHERE p.team = ?",
	"UPDATE person SET team = ? WHERE id = ?",
	"SELECT count(*) AS n FROM person",
}

// Run creates the application's tables in an in-memory database, infers
// the schema of every query and writes one line per query to w.
func Run(ctx context.Context, w io.Writer) error {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("cannot create tables: %w", err)
	}

	coord, err := sqlinfer.NewCoordinator(sqlinfer.Config{
		Backend: sqlinfer.NewSQLite(db),
		Renderer: sqlinfer.RendererFunc(func(ctx context.Context, results []sqlinfer.Result) error {
			for _, r := range results {
				if _, err := fmt.Fprintf(w, "%s: %s\n", r.Query, r.Schema); err != nil {
					return err
				}
			}
			return nil
		}),
	})
	if err != nil {
		return err
	}
	for _, q := range Queries {
		coord.Register(q)
	}
	return coord.Flush(ctx)
}
