// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

/*
Package infer infers the parameter and result schema of a query by asking
the database to prepare and plan it. The query is never executed.

For each query the engine:

  - prepares the query under a fresh statement name,
  - reads the parameter and result type identifiers of the statement,
  - forces a generic plan and explains an execution with every parameter
    bound to NULL,
  - interprets the plan: a plan with no relations yields a single literal
    field, otherwise the output columns are matched with the declared
    not-null flags of the scanned relations,
  - deallocates the statement, whether or not the previous steps succeeded.
*/
package infer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/canonical/sqlinfer/internal/assemble"
	"github.com/canonical/sqlinfer/internal/parse"
	"github.com/canonical/sqlinfer/internal/session"
	"github.com/canonical/sqlinfer/typeinfo"
)

const genericPlanSQL = "SET plan_cache_mode = force_generic_plan"

// teardownTimeout bounds the deallocation of a statement.
const teardownTimeout = 5 * time.Second

const attributesSQL = `SELECT a.attname::text, a.attnotnull
FROM pg_attribute a
JOIN pg_class c ON c.oid = a.attrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE (n.nspname = $1 OR ($1 = '' AND pg_table_is_visible(c.oid)))
AND c.relname = $2
AND a.attnum > 0
AND NOT a.attisdropped
ORDER BY a.attnum`

// Engine infers query schemas. An Engine holds no per-query state and can
// be shared by inferences running on different sessions.
type Engine struct {
	names  Names
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger stage transitions are reported to.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithNames sets the source of prepared statement names.
func WithNames(names Names) Option {
	return func(e *Engine) {
		if names != nil {
			e.names = names
		}
	}
}

// New returns an Engine. Without options it logs nothing and names
// statements sqlinfer_1, sqlinfer_2 and so on.
func New(opts ...Option) *Engine {
	e := &Engine{
		names:  NewCounter("sqlinfer"),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// inference is the state of one call to Infer.
type inference struct {
	engine  *Engine
	session session.Session
	query   string
	name    string
	stage   Stage
}

func (in *inference) enter(ctx context.Context, stage Stage) {
	in.stage = stage
	in.engine.logger.DebugContext(ctx, "inference stage",
		slog.String("statement", in.name),
		slog.String("stage", stage.String()),
	)
}

func (in *inference) fail(err error) error {
	return &InferenceError{Query: in.query, Stage: in.stage, Err: err}
}

// Infer returns the schema of query. enums is consulted for result types
// the catalog does not know. The returned error is an *InferenceError.
func (e *Engine) Infer(ctx context.Context, s session.Session, query string, enums typeinfo.EnumTable) (schema *typeinfo.QuerySchema, err error) {
	in := &inference{engine: e, session: s, query: query, name: e.names.Next()}

	in.enter(ctx, Preparing)
	if err := s.Prepare(ctx, in.name, query); err != nil {
		err = in.fail(prepareError(err))
		in.enter(ctx, TornDown)
		return nil, err
	}
	defer func() {
		failed := err != nil
		// The statement is deallocated even if ctx was cancelled.
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
		defer cancel()
		in.enter(tctx, TornDown)
		derr := s.Deallocate(tctx, in.name)
		if derr == nil {
			return
		}
		if failed {
			e.logger.DebugContext(tctx, "cannot deallocate statement",
				slog.String("statement", in.name),
				slog.Any("error", derr),
			)
			return
		}
		schema, err = nil, in.fail(&SessionError{Err: derr})
	}()

	in.enter(ctx, MetadataRead)
	meta, err := s.PreparedStatement(ctx, in.name)
	if err != nil {
		return nil, in.fail(&SessionError{Err: err})
	}

	in.enter(ctx, PlanRequested)
	root, err := in.plan(ctx, len(meta.ParameterTypes))
	if err != nil {
		return nil, in.fail(&SessionError{Err: err})
	}

	in.enter(ctx, PlanInterpreted)
	var fields []typeinfo.FieldSchema
	if result, ok := root.(*parse.ResultNode); ok {
		fields = assemble.LiteralFields(result.Output)
	} else {
		notNull, err := in.notNull(ctx, root)
		if err != nil {
			return nil, in.fail(&SessionError{Err: err})
		}
		fields = assemble.Fields(parse.Output(root), meta.ResultTypes, notNull, enums)
	}

	in.enter(ctx, Resolved)
	return &typeinfo.QuerySchema{
		Parameters: assemble.Parameters(meta.ParameterTypes),
		Fields:     fields,
	}, nil
}

// plan forces a generic plan and explains the prepared statement with every
// parameter bound to NULL.
func (in *inference) plan(ctx context.Context, params int) (parse.Node, error) {
	if err := session.Exec(ctx, in.session, genericPlanSQL); err != nil {
		return nil, fmt.Errorf("cannot force generic plan: %w", err)
	}
	rows, err := in.session.Query(ctx, explainSQL(in.name, params))
	if err != nil {
		return nil, fmt.Errorf("cannot explain statement: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("cannot explain statement: %w", err)
		}
		return nil, fmt.Errorf("cannot explain statement: no plan returned")
	}
	var data []byte
	if err := rows.Scan(&data); err != nil {
		return nil, fmt.Errorf("cannot explain statement: %w", err)
	}
	return parse.Plan(data)
}

func explainSQL(name string, params int) string {
	sql := "EXPLAIN (VERBOSE, FORMAT JSON) EXECUTE " + pgx.Identifier{name}.Sanitize()
	if params == 0 {
		return sql
	}
	nulls := make([]string, params)
	for i := range nulls {
		nulls[i] = "NULL"
	}
	return sql + "(" + strings.Join(nulls, ", ") + ")"
}

// notNull reads the declared not-null flags of every relation scanned by
// the plan. Each relation is read once, however many times it is scanned.
func (in *inference) notNull(ctx context.Context, root parse.Node) (assemble.NotNull, error) {
	notNull := assemble.NotNull{}
	read := map[[2]string][]assemble.Column{}
	for _, scan := range parse.Relations(root) {
		key := [2]string{scan.Schema, scan.Relation}
		columns, ok := read[key]
		if !ok {
			var err error
			columns, err = in.columns(ctx, scan.Schema, scan.Relation)
			if err != nil {
				return nil, err
			}
			read[key] = columns
		}
		notNull.Add(scan, columns)
	}
	return notNull, nil
}

func (in *inference) columns(ctx context.Context, schema, relation string) ([]assemble.Column, error) {
	rows, err := in.session.Query(ctx, attributesSQL, schema, relation)
	if err != nil {
		return nil, fmt.Errorf("cannot read columns of %s: %w", relation, err)
	}
	defer rows.Close()

	var columns []assemble.Column
	for rows.Next() {
		var col assemble.Column
		if err := rows.Scan(&col.Name, &col.NotNull); err != nil {
			return nil, fmt.Errorf("cannot read columns of %s: %w", relation, err)
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cannot read columns of %s: %w", relation, err)
	}
	return columns, nil
}
