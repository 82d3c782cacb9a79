// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

/*
Package sqlite infers query schemas against a SQLite database.

SQLite has no planner output to interrogate, so the schema comes from the
prepared statement itself: the number of parameters and the name and
declared type of each result column. The statement is opened for reading
with every parameter bound to NULL but is never stepped, so no rows are
read and no writes happen.
*/
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/canonical/sqlinfer/internal/catalog"
	"github.com/canonical/sqlinfer/internal/infer"
	"github.com/canonical/sqlinfer/typeinfo"
)

// Describe returns the schema of query. Parameters are always Unknown, as
// SQLite does not type them. Every field is nullable, and fields whose
// declared type is not recognised are left out. The returned error is an
// *infer.InferenceError.
func Describe(ctx context.Context, conn *sql.Conn, query string) (*typeinfo.QuerySchema, error) {
	var schema *typeinfo.QuerySchema
	err := conn.Raw(func(driverConn any) error {
		var err error
		schema, err = describe(ctx, driverConn, query)
		return err
	})
	if err != nil {
		var inferErr *infer.InferenceError
		if !errors.As(err, &inferErr) {
			err = &infer.InferenceError{Query: query, Stage: infer.Preparing, Err: &infer.SessionError{Err: err}}
		}
		return nil, err
	}
	return schema, nil
}

func describe(ctx context.Context, driverConn any, query string) (schema *typeinfo.QuerySchema, err error) {
	fail := func(stage infer.Stage, err error) error {
		return &infer.InferenceError{Query: query, Stage: stage, Err: err}
	}

	preparer, ok := driverConn.(driver.ConnPrepareContext)
	if !ok {
		return nil, fail(infer.Preparing, &infer.SessionError{Err: fmt.Errorf("driver connection %T cannot prepare statements", driverConn)})
	}
	stmt, err := preparer.PrepareContext(ctx, query)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) {
			return nil, fail(infer.Preparing, &infer.MalformedQueryError{Err: err})
		}
		return nil, fail(infer.Preparing, &infer.SessionError{Err: err})
	}
	defer func() {
		if cerr := stmt.Close(); cerr != nil && err == nil {
			schema, err = nil, fail(infer.TornDown, &infer.SessionError{Err: cerr})
		}
	}()

	params := stmt.NumInput()
	if params < 0 {
		params = 0
	}

	querier, ok := stmt.(driver.StmtQueryContext)
	if !ok {
		return nil, fail(infer.MetadataRead, &infer.SessionError{Err: fmt.Errorf("driver statement %T cannot be queried", stmt)})
	}
	args := make([]driver.NamedValue, params)
	for i := range args {
		args[i] = driver.NamedValue{Ordinal: i + 1}
	}
	rows, err := querier.QueryContext(ctx, args)
	if err != nil {
		return nil, fail(infer.MetadataRead, &infer.SessionError{Err: err})
	}
	defer rows.Close()

	fields := []typeinfo.FieldSchema{}
	typed, _ := rows.(driver.RowsColumnTypeDatabaseTypeName)
	for i, name := range rows.Columns() {
		if typed == nil {
			break
		}
		t, ok := catalog.ResolveDeclType(typed.ColumnTypeDatabaseTypeName(i))
		if !ok {
			continue
		}
		fields = append(fields, typeinfo.FieldSchema{Name: name, Type: t, Nullable: true})
	}

	parameters := make([]typeinfo.Type, params)
	for i := range parameters {
		parameters[i] = typeinfo.Unknown{}
	}
	return &typeinfo.QuerySchema{Parameters: parameters, Fields: fields}, nil
}
