// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package infer

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// InferenceError is returned when the schema of a query cannot be inferred.
// Err is a *SessionError or a *MalformedQueryError.
type InferenceError struct {
	Query string
	// Stage is the stage the inference was moving into when it failed.
	Stage Stage
	Err   error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("cannot infer schema of query %q (%s): %s", e.Query, e.Stage, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

// SessionError is a failure of the database session: a lost connection,
// a refused catalog read or an unreadable plan.
type SessionError struct {
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session failure: %s", e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// MalformedQueryError is returned when the database rejects the query text.
type MalformedQueryError struct {
	Err error
}

func (e *MalformedQueryError) Error() string {
	return fmt.Sprintf("malformed query: %s", e.Err)
}

func (e *MalformedQueryError) Unwrap() error {
	return e.Err
}

// prepareError classifies a failure to prepare a statement. Errors reported
// by the server are about the query text; anything else is the session.
func prepareError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &MalformedQueryError{Err: err}
	}
	return &SessionError{Err: err}
}
