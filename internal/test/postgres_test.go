// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	. "gopkg.in/check.v1"

	"github.com/canonical/sqlinfer"
	"github.com/canonical/sqlinfer/internal/enum"
	"github.com/canonical/sqlinfer/internal/infer"
	"github.com/canonical/sqlinfer/internal/session"
	"github.com/canonical/sqlinfer/typeinfo"
)

// These tests run against a real Postgres server, named by the
// SQLINFER_TEST_POSTGRES_URL environment variable. They are skipped when it
// is not set.

// Hook up gocheck into the "go test" runner.
func Test(t *testing.T) { TestingT(t) }

type PostgresSuite struct {
	url  string
	conn *pgx.Conn
}

var _ = Suite(&PostgresSuite{})

var ctx = context.Background()

const createSchema = `
DROP SCHEMA IF EXISTS sqlinfer_test CASCADE;
CREATE SCHEMA sqlinfer_test;
SET search_path TO sqlinfer_test;
CREATE TYPE mood AS ENUM ('sad', 'ok', 'happy');
CREATE TABLE account (
	id integer NOT NULL PRIMARY KEY,
	username text NOT NULL,
	active boolean
);
CREATE TABLE post (
	id integer NOT NULL PRIMARY KEY,
	account_id integer NOT NULL,
	title varchar(100),
	tags text[],
	body jsonb,
	created timestamptz NOT NULL,
	location point
);
CREATE TABLE person (
	name text NOT NULL,
	feeling mood NOT NULL,
	history mood[]
);
`

func (s *PostgresSuite) SetUpSuite(c *C) {
	s.url = os.Getenv("SQLINFER_TEST_POSTGRES_URL")
	if s.url == "" {
		c.Skip("SQLINFER_TEST_POSTGRES_URL not set")
	}
}

func (s *PostgresSuite) connect(c *C) *pgx.Conn {
	conn, err := pgx.Connect(ctx, s.url)
	c.Assert(err, IsNil)
	_, err = conn.Exec(ctx, "SET search_path TO sqlinfer_test")
	c.Assert(err, IsNil)
	return conn
}

func (s *PostgresSuite) SetUpTest(c *C) {
	conn, err := pgx.Connect(ctx, s.url)
	c.Assert(err, IsNil)
	_, err = conn.Exec(ctx, createSchema)
	c.Assert(err, IsNil)
	s.conn = conn
}

func (s *PostgresSuite) TearDownTest(c *C) {
	if s.conn == nil {
		return
	}
	_, err := s.conn.Exec(ctx, "DROP SCHEMA IF EXISTS sqlinfer_test CASCADE")
	c.Check(err, IsNil)
	c.Check(s.conn.Close(ctx), IsNil)
	s.conn = nil
}

func (s *PostgresSuite) infer(c *C, query string) (*typeinfo.QuerySchema, error) {
	sess := session.NewPgx(s.conn)
	enums, err := enum.Resolve(ctx, sess)
	c.Assert(err, IsNil)
	return infer.New().Infer(ctx, sess, query, enums)
}

func (s *PostgresSuite) preparedStatements(c *C) int {
	var n int
	err := s.conn.QueryRow(ctx, "SELECT count(*) FROM pg_prepared_statements WHERE from_sql").Scan(&n)
	c.Assert(err, IsNil)
	return n
}

var moodType = typeinfo.Enum{Variants: []string{"sad", "ok", "happy"}}

var inferTests = []struct {
	summary string
	query   string
	params  []typeinfo.Type
	fields  []typeinfo.FieldSchema
}{{
	summary: "integer literal",
	query:   "SELECT 1",
	params:  []typeinfo.Type{},
	fields:  []typeinfo.FieldSchema{{Name: "?column?", Type: typeinfo.Literal{Value: int64(1)}}},
}, {
	summary: "boolean literal",
	query:   "SELECT true",
	params:  []typeinfo.Type{},
	fields:  []typeinfo.FieldSchema{{Name: "?column?", Type: typeinfo.Literal{Value: true}}},
}, {
	summary: "text literal",
	query:   "SELECT 'a'",
	params:  []typeinfo.Type{},
	fields:  []typeinfo.FieldSchema{{Name: "?column?", Type: typeinfo.Literal{Value: "a"}}},
}, {
	summary: "last unaliased literal wins",
	query:   "SELECT 1, 'a'",
	params:  []typeinfo.Type{},
	fields:  []typeinfo.FieldSchema{{Name: "?column?", Type: typeinfo.Literal{Value: "a"}}},
}, {
	summary: "single table",
	query:   "SELECT id, title, tags, body, created, location FROM post WHERE id = $1",
	params:  []typeinfo.Type{typeinfo.Integer},
	fields: []typeinfo.FieldSchema{
		{Name: "id", Type: typeinfo.Integer},
		{Name: "title", Type: typeinfo.Text, Nullable: true},
		{Name: "tags", Type: typeinfo.Sequence{Elem: typeinfo.Text}, Nullable: true},
		{Name: "body", Type: typeinfo.JSON, Nullable: true},
		{Name: "created", Type: typeinfo.DateTime},
	},
}, {
	summary: "left join keeps declared nullability",
	query:   "SELECT p.id, u.username, u.active FROM post p LEFT JOIN account u ON u.id = p.account_id",
	params:  []typeinfo.Type{},
	fields: []typeinfo.FieldSchema{
		{Name: "id", Type: typeinfo.Integer},
		{Name: "username", Type: typeinfo.Text},
		{Name: "active", Type: typeinfo.Boolean, Nullable: true},
	},
}, {
	summary: "enums",
	query:   "SELECT feeling, history FROM person WHERE feeling = $1 AND name = $2",
	params:  []typeinfo.Type{typeinfo.Unknown{}, typeinfo.Text},
	fields: []typeinfo.FieldSchema{
		{Name: "feeling", Type: moodType},
		{Name: "history", Type: typeinfo.Sequence{Elem: moodType}, Nullable: true},
	},
}, {
	summary: "aggregate",
	query:   "SELECT count(*) FROM account",
	params:  []typeinfo.Type{},
	fields:  []typeinfo.FieldSchema{{Name: "count(*)", Type: typeinfo.Integer, Nullable: true}},
}}

func (s *PostgresSuite) TestInfer(c *C) {
	for i, t := range inferTests {
		schema, err := s.infer(c, t.query)
		c.Assert(err, IsNil, Commentf("test %d failed (%s)", i, t.summary))
		c.Check(schema.Parameters, DeepEquals, t.params, Commentf("test %d failed (%s)", i, t.summary))
		c.Check(schema.Fields, DeepEquals, t.fields, Commentf("test %d failed (%s)", i, t.summary))
	}
	c.Assert(s.preparedStatements(c), Equals, 0)
}

func (s *PostgresSuite) TestInferIdempotent(c *C) {
	query := "SELECT p.id, u.username FROM post p JOIN account u ON u.id = p.account_id WHERE p.id = $1"
	first, err := s.infer(c, query)
	c.Assert(err, IsNil)
	second, err := s.infer(c, query)
	c.Assert(err, IsNil)
	c.Assert(first, DeepEquals, second)
}

func (s *PostgresSuite) TestInferMalformedQuery(c *C) {
	_, err := s.infer(c, "SELEC 1")
	var malformed *infer.MalformedQueryError
	c.Assert(errors.As(err, &malformed), Equals, true)

	_, err = s.infer(c, "SELECT nope FROM account")
	c.Assert(errors.As(err, &malformed), Equals, true)
	c.Assert(s.preparedStatements(c), Equals, 0)
}

func (s *PostgresSuite) TestCoordinatorSessions(c *C) {
	first, second := s.connect(c), s.connect(c)
	defer first.Close(ctx)
	defer second.Close(ctx)

	backend, err := sqlinfer.NewPostgres(sqlinfer.PostgresConfig{Conns: []*pgx.Conn{first, second}})
	c.Assert(err, IsNil)
	var results []sqlinfer.Result
	coord, err := sqlinfer.NewCoordinator(sqlinfer.Config{
		Backend: backend,
		Renderer: sqlinfer.RendererFunc(func(ctx context.Context, r []sqlinfer.Result) error {
			results = r
			return nil
		}),
	})
	c.Assert(err, IsNil)

	for _, t := range inferTests {
		coord.Register(t.query)
	}
	c.Assert(coord.Flush(ctx), IsNil)
	c.Assert(results, HasLen, len(inferTests))
	for i, t := range inferTests {
		c.Check(results[i].Query, Equals, t.query)
		c.Check(results[i].Schema.Fields, DeepEquals, t.fields, Commentf("test %d failed (%s)", i, t.summary))
	}
}
