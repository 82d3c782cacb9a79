// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package session

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/canonical/sqlinfer/typeinfo"
)

const preparedStatementQuery = `
SELECT parameter_types::oid[], result_types::oid[]
FROM pg_prepared_statements
WHERE name = $1`

// PgxSession is a Session backed by a single pgx connection.
type PgxSession struct {
	conn *pgx.Conn
}

var _ Session = (*PgxSession)(nil)

// NewPgx returns a Session that runs on conn. The caller keeps ownership of
// the connection.
func NewPgx(conn *pgx.Conn) *PgxSession {
	return &PgxSession{conn: conn}
}

// Prepare issues an SQL-level PREPARE so that the statement is visible in
// pg_prepared_statements and can be the target of EXPLAIN EXECUTE.
func (s *PgxSession) Prepare(ctx context.Context, name, query string) error {
	_, err := s.conn.Exec(ctx, "PREPARE "+pgx.Identifier{name}.Sanitize()+" AS "+query)
	return errors.Wrapf(err, "cannot prepare statement %s", name)
}

// Query runs sql using the simple protocol when there are no arguments, so
// that utility statements such as EXPLAIN and SET never get prepared
// themselves.
func (s *PgxSession) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	if len(args) == 0 {
		args = []any{pgx.QueryExecModeSimpleProtocol}
	}
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "cannot run query")
	}
	return rows, nil
}

// PreparedStatement reads the statement's type identifiers from
// pg_prepared_statements.
func (s *PgxSession) PreparedStatement(ctx context.Context, name string) (StatementMetadata, error) {
	var params, results []uint32
	err := s.conn.QueryRow(ctx, preparedStatementQuery, name).Scan(&params, &results)
	if errors.Is(err, pgx.ErrNoRows) {
		return StatementMetadata{}, errors.Errorf("prepared statement %s not found", name)
	}
	if err != nil {
		return StatementMetadata{}, errors.Wrapf(err, "cannot read prepared statement %s", name)
	}
	return StatementMetadata{
		ParameterTypes: toOIDs(params),
		ResultTypes:    toOIDs(results),
	}, nil
}

// Deallocate removes the named statement from the session.
func (s *PgxSession) Deallocate(ctx context.Context, name string) error {
	_, err := s.conn.Exec(ctx, "DEALLOCATE "+pgx.Identifier{name}.Sanitize())
	return errors.Wrapf(err, "cannot deallocate statement %s", name)
}

func toOIDs(ids []uint32) []typeinfo.OID {
	oids := make([]typeinfo.OID, len(ids))
	for i, id := range ids {
		oids[i] = typeinfo.OID(id)
	}
	return oids
}
