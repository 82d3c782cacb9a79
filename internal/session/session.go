// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

/*
Package session defines the database session the inference engine talks to,
and provides an implementation on top of a single pgx connection.

A Session is stateful: prepared statement names and planner settings live on
it. It must not be used by more than one inference at a time.
*/
package session

import (
	"context"

	"github.com/canonical/sqlinfer/typeinfo"
)

// Rows is the result of Session.Query. It is satisfied by pgx.Rows.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// StatementMetadata holds the type identifiers the engine reported for a
// prepared statement, in declaration order.
type StatementMetadata struct {
	ParameterTypes []typeinfo.OID
	ResultTypes    []typeinfo.OID
}

// Session is a live connection to the database being introspected.
type Session interface {
	// Prepare registers query under name.
	Prepare(ctx context.Context, name, query string) error
	// Query runs sql and returns its rows. Rows must be closed.
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	// PreparedStatement reads the parameter and result type identifiers of
	// the statement registered under name.
	PreparedStatement(ctx context.Context, name string) (StatementMetadata, error)
	// Deallocate removes the statement registered under name.
	Deallocate(ctx context.Context, name string) error
}

// Exec runs sql on s and discards any rows.
func Exec(ctx context.Context, s Session, sql string, args ...any) error {
	rows, err := s.Query(ctx, sql, args...)
	if err != nil {
		return err
	}
	for rows.Next() {
	}
	rows.Close()
	return rows.Err()
}
