// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlinfer_test

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/mattn/go-sqlite3"
	. "gopkg.in/check.v1"

	"github.com/canonical/sqlinfer"
	"github.com/canonical/sqlinfer/internal/infer"
	"github.com/canonical/sqlinfer/internal/session"
	"github.com/canonical/sqlinfer/internal/session/sessiontest"
	"github.com/canonical/sqlinfer/typeinfo"
)

type BackendSuite struct{}

var _ = Suite(&BackendSuite{})

const (
	selectPerson = "SELECT name, mood FROM person"
	selectCount  = "SELECT count(*) FROM person WHERE mood = $1"
	selectOne    = "SELECT 1"
)

const personPlan = `[{"Plan": {"Node Type": "Seq Scan", "Relation Name": "person", "Schema": "public",
	"Alias": "person", "Output": ["name", "mood"]}}]`

const countPlan = `[{"Plan": {"Node Type": "Aggregate", "Strategy": "Plain", "Output": ["count(*)"],
	"Plans": [{"Node Type": "Seq Scan", "Relation Name": "person", "Schema": "public",
	           "Alias": "person", "Output": ["name", "mood"]}]}}]`

var moodType = typeinfo.Enum{Variants: []string{"sad", "ok", "happy"}}

func personSession() *sessiontest.Session {
	return &sessiontest.Session{
		Queries: map[string]sessiontest.Query{
			selectPerson: {
				Metadata: session.StatementMetadata{ResultTypes: []typeinfo.OID{25, 16390}},
				Plan:     personPlan,
			},
			selectCount: {
				Metadata: session.StatementMetadata{ParameterTypes: []typeinfo.OID{16390}, ResultTypes: []typeinfo.OID{20}},
				Plan:     countPlan,
			},
			selectOne: {
				Metadata: session.StatementMetadata{ResultTypes: []typeinfo.OID{23}},
				Plan:     `[{"Plan": {"Node Type": "Result", "Output": ["1"]}}]`,
			},
		},
		Relations: map[string][]sessiontest.Attribute{
			"public.person": {{Name: "name", NotNull: true}, {Name: "mood"}},
		},
		Enums: []sessiontest.EnumRow{{OID: 16390, ArrayOID: 16389, Labels: []string{"sad", "ok", "happy"}}},
	}
}

func (s *BackendSuite) TestPostgres(c *C) {
	first, second := personSession(), personSession()
	backend := sqlinfer.NewPostgresWithSessions(infer.New(), first, second)
	rec := &recorder{}
	coord := newCoordinator(c, backend, rec, &manualScheduler{})

	coord.Register(selectPerson)
	coord.Register(selectCount)
	coord.Register(selectOne)
	c.Assert(coord.Flush(ctx), IsNil)

	c.Assert(rec.Batches(), DeepEquals, [][]sqlinfer.Result{{{
		Query: selectPerson,
		Schema: &typeinfo.QuerySchema{
			Parameters: []typeinfo.Type{},
			Fields: []typeinfo.FieldSchema{
				{Name: "name", Type: typeinfo.Text},
				{Name: "mood", Type: moodType, Nullable: true},
			},
		},
	}, {
		Query: selectCount,
		Schema: &typeinfo.QuerySchema{
			// Parameters are resolved through the type catalog only.
			Parameters: []typeinfo.Type{typeinfo.Unknown{}},
			Fields:     []typeinfo.FieldSchema{{Name: "count(*)", Type: typeinfo.Integer, Nullable: true}},
		},
	}, {
		Query: selectOne,
		Schema: &typeinfo.QuerySchema{
			Parameters: []typeinfo.Type{},
			Fields:     []typeinfo.FieldSchema{{Name: "?column?", Type: typeinfo.Literal{Value: int64(1)}}},
		},
	}}})

	// Enums are read once, on the first session, and shared.
	c.Assert(first.Count("enums"), Equals, 1)
	c.Assert(second.Count("enums"), Equals, 0)
	// Queries are spread across the sessions.
	c.Assert(first.Count("prepare "), Equals, 2)
	c.Assert(second.Count("prepare "), Equals, 1)
	c.Assert(first.Prepared(), HasLen, 0)
	c.Assert(second.Prepared(), HasLen, 0)

	// The next batch reads the enums again.
	coord.Register(selectOne)
	c.Assert(coord.Flush(ctx), IsNil)
	c.Assert(first.Count("enums"), Equals, 2)
}

func (s *BackendSuite) TestPostgresEnumFailure(c *C) {
	sess := personSession()
	sess.Fail = map[sessiontest.Step]error{sessiontest.StepEnums: errors.New("permission denied for table pg_enum")}
	rec := &recorder{}
	coord := newCoordinator(c, sqlinfer.NewPostgresWithSessions(infer.New(), sess), rec, &manualScheduler{})

	coord.Register(selectOne)
	err := coord.Flush(ctx)
	c.Assert(err, ErrorMatches, "cannot resolve enums: permission denied for table pg_enum")
	var enumErr *sqlinfer.EnumResolutionError
	c.Assert(errors.As(err, &enumErr), Equals, true)
	c.Assert(sess.Count("prepare "), Equals, 0)
	c.Assert(rec.Batches(), HasLen, 0)
}

func (s *BackendSuite) TestPostgresMalformedQuery(c *C) {
	sess := personSession()
	sess.Queries["SELEC 1"] = sessiontest.Query{
		PrepareErr: &pgconn.PgError{Severity: "ERROR", Code: "42601", Message: `syntax error at or near "SELEC"`},
	}
	rec := &recorder{}
	coord := newCoordinator(c, sqlinfer.NewPostgresWithSessions(infer.New(), sess), rec, &manualScheduler{})

	coord.Register(selectOne)
	coord.Register("SELEC 1")
	err := coord.Flush(ctx)

	var flushErr *sqlinfer.FlushError
	c.Assert(errors.As(err, &flushErr), Equals, true)
	c.Assert(flushErr.Query, Equals, "SELEC 1")
	var malformed *sqlinfer.MalformedQueryError
	c.Assert(errors.As(err, &malformed), Equals, true)
	var inferErr *sqlinfer.InferenceError
	c.Assert(errors.As(err, &inferErr), Equals, true)
	c.Assert(inferErr.Stage, Equals, infer.Preparing)
	c.Assert(rec.Batches(), HasLen, 0)
}

func (s *BackendSuite) TestNewPostgresNeedsConns(c *C) {
	_, err := sqlinfer.NewPostgres(sqlinfer.PostgresConfig{})
	c.Assert(err, ErrorMatches, "cannot create postgres backend: no connections")
}

func (s *BackendSuite) TestSQLite(c *C) {
	db, err := sql.Open("sqlite3", ":memory:")
	c.Assert(err, IsNil)
	defer db.Close()
	db.SetMaxOpenConns(1)
	_, err = db.Exec(`CREATE TABLE person (id INTEGER NOT NULL, name TEXT)`)
	c.Assert(err, IsNil)

	rec := &recorder{}
	coord, err := sqlinfer.NewCoordinator(sqlinfer.Config{
		Backend:         sqlinfer.NewSQLite(db),
		Renderer:        rec,
		Schedule:        (&manualScheduler{}).Schedule,
		ContinueOnError: true,
	})
	c.Assert(err, IsNil)

	coord.Register("SELECT id, name FROM person WHERE id = ?")
	coord.Register("SELECT id FROM nowhere")
	c.Assert(coord.Flush(ctx), IsNil)

	c.Assert(rec.Batches(), HasLen, 1)
	results := rec.Batches()[0]
	c.Assert(results, HasLen, 2)
	c.Assert(results[0].Err, IsNil)
	c.Assert(results[0].Schema, DeepEquals, &typeinfo.QuerySchema{
		Parameters: []typeinfo.Type{typeinfo.Unknown{}},
		Fields: []typeinfo.FieldSchema{
			{Name: "id", Type: typeinfo.Integer, Nullable: true},
			{Name: "name", Type: typeinfo.Text, Nullable: true},
		},
	})
	c.Assert(results[1].Schema, IsNil)
	var malformed *sqlinfer.MalformedQueryError
	c.Assert(errors.As(results[1].Err, &malformed), Equals, true)

	// The connection of the pass was returned to the pool.
	c.Assert(db.Stats().InUse, Equals, 0)
}
