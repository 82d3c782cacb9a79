// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package sessiontest provides an in-memory Session that imitates the parts
// of a Postgres session the inference engine relies on.
package sessiontest

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/canonical/sqlinfer/internal/session"
)

// Step names a kind of call that can be made to fail.
type Step string

const (
	StepPrepare    Step = "prepare"
	StepMetadata   Step = "metadata"
	StepSetting    Step = "setting"
	StepExplain    Step = "explain"
	StepAttributes Step = "attributes"
	StepEnums      Step = "enums"
	StepDeallocate Step = "deallocate"
)

// Attribute is a row of the relation metadata query.
type Attribute struct {
	Name    string
	NotNull bool
}

// EnumRow is a row of the enum scan.
type EnumRow struct {
	OID      uint32
	ArrayOID uint32
	Labels   []string
}

// Query is what the fake knows about one query text.
type Query struct {
	Metadata session.StatementMetadata
	// Plan is the raw EXPLAIN (FORMAT JSON) output.
	Plan string
	// PrepareErr is returned when the query is prepared.
	PrepareErr error
}

// Session is a fake session. Fields must be set up before use.
type Session struct {
	// Queries are keyed by query text.
	Queries map[string]Query
	// Relations are keyed by schema-qualified name, e.g. "public.post", or
	// by bare name for relations the plan reports without a schema.
	Relations map[string][]Attribute
	Enums     []EnumRow
	// Fail makes the given step return the error.
	Fail map[Step]error
	// AfterPrepare, if set, is called after a statement is prepared.
	AfterPrepare func()

	mu       sync.Mutex
	prepared map[string]string
	calls    []string
}

var _ session.Session = (*Session)(nil)

// Calls returns a log of calls made to the session, one entry per call.
func (s *Session) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Prepared returns the names of the statements currently registered.
func (s *Session) Prepared() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := []string{}
	for name := range s.prepared {
		names = append(names, name)
	}
	return names
}

// Count returns the number of logged calls that start with prefix.
func (s *Session) Count(prefix string) int {
	n := 0
	for _, call := range s.Calls() {
		if strings.HasPrefix(call, prefix) {
			n++
		}
	}
	return n
}

func (s *Session) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

// fail returns the error of step. Like a real connection, every call fails
// once ctx is done.
func (s *Session) fail(ctx context.Context, step Step) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Fail[step]
}

// Prepare implements session.Session.
func (s *Session) Prepare(ctx context.Context, name, query string) error {
	s.record("prepare " + name)
	if err := s.fail(ctx, StepPrepare); err != nil {
		return err
	}
	q, ok := s.Queries[query]
	if !ok {
		return fmt.Errorf("unknown query %q", query)
	}
	if q.PrepareErr != nil {
		return q.PrepareErr
	}
	if err := s.register(name, query); err != nil {
		return err
	}
	if s.AfterPrepare != nil {
		s.AfterPrepare()
	}
	return nil
}

func (s *Session) register(name, query string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prepared == nil {
		s.prepared = map[string]string{}
	}
	if _, ok := s.prepared[name]; ok {
		return fmt.Errorf("prepared statement %q already exists", name)
	}
	s.prepared[name] = query
	return nil
}

func (s *Session) lookup(name string) (Query, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	query, ok := s.prepared[name]
	if !ok {
		return Query{}, false
	}
	return s.Queries[query], true
}

// PreparedStatement implements session.Session.
func (s *Session) PreparedStatement(ctx context.Context, name string) (session.StatementMetadata, error) {
	s.record("metadata " + name)
	if err := s.fail(ctx, StepMetadata); err != nil {
		return session.StatementMetadata{}, err
	}
	q, ok := s.lookup(name)
	if !ok {
		return session.StatementMetadata{}, fmt.Errorf("prepared statement %q does not exist", name)
	}
	return q.Metadata, nil
}

// Deallocate implements session.Session.
func (s *Session) Deallocate(ctx context.Context, name string) error {
	s.record("deallocate " + name)
	if err := s.fail(ctx, StepDeallocate); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.prepared[name]; !ok {
		return fmt.Errorf("prepared statement %q does not exist", name)
	}
	delete(s.prepared, name)
	return nil
}

// Query implements session.Session. It recognises the statements issued by
// the inference engine and the enum resolver.
func (s *Session) Query(ctx context.Context, sql string, args ...any) (session.Rows, error) {
	switch {
	case strings.Contains(sql, "plan_cache_mode"):
		s.record("setting")
		if err := s.fail(ctx, StepSetting); err != nil {
			return nil, err
		}
		return &Rows{}, nil
	case strings.HasPrefix(sql, "EXPLAIN"):
		s.record("explain " + sql)
		if err := s.fail(ctx, StepExplain); err != nil {
			return nil, err
		}
		fields := strings.Fields(strings.NewReplacer("(", " ", ")", " ", ",", " ").Replace(sql))
		for i, f := range fields {
			if f != "EXECUTE" || i+1 >= len(fields) {
				continue
			}
			q, ok := s.lookup(strings.Trim(fields[i+1], `"`))
			if !ok {
				return nil, fmt.Errorf("prepared statement %q does not exist", fields[i+1])
			}
			return &Rows{Data: [][]any{{[]byte(q.Plan)}}}, nil
		}
		return nil, fmt.Errorf("malformed EXPLAIN %q", sql)
	case strings.Contains(sql, "pg_attribute"):
		if len(args) != 2 {
			return nil, fmt.Errorf("expected two arguments, got %d", len(args))
		}
		schema, _ := args[0].(string)
		relation, _ := args[1].(string)
		if schema != "" {
			relation = schema + "." + relation
		}
		s.record("attributes " + relation)
		if err := s.fail(ctx, StepAttributes); err != nil {
			return nil, err
		}
		attrs, ok := s.Relations[relation]
		if !ok {
			return nil, fmt.Errorf("relation %q does not exist", relation)
		}
		data := make([][]any, len(attrs))
		for i, a := range attrs {
			data[i] = []any{a.Name, a.NotNull}
		}
		return &Rows{Data: data}, nil
	case strings.Contains(sql, "pg_enum"):
		s.record("enums")
		if err := s.fail(ctx, StepEnums); err != nil {
			return nil, err
		}
		data := make([][]any, len(s.Enums))
		for i, e := range s.Enums {
			data[i] = []any{e.OID, e.ArrayOID, e.Labels}
		}
		return &Rows{Data: data}, nil
	}
	s.record("query " + sql)
	return nil, fmt.Errorf("unexpected query %q", sql)
}

// Rows is a fixed result set. Values are assigned to Scan destinations by
// reflection, so their types must match exactly.
type Rows struct {
	Data [][]any
	// ScanErr is returned by Scan if set.
	ScanErr error

	pos    int
	closed bool
}

var _ session.Rows = (*Rows)(nil)

func (r *Rows) Next() bool {
	if r.closed || r.pos >= len(r.Data) {
		return false
	}
	r.pos++
	return true
}

func (r *Rows) Scan(dest ...any) error {
	if r.ScanErr != nil {
		return r.ScanErr
	}
	if r.pos == 0 || r.pos > len(r.Data) {
		return fmt.Errorf("scan called without a current row")
	}
	row := r.Data[r.pos-1]
	if len(dest) != len(row) {
		return fmt.Errorf("expected %d destinations, got %d", len(row), len(dest))
	}
	for i, d := range dest {
		target := reflect.ValueOf(d)
		if target.Kind() != reflect.Pointer || target.IsNil() {
			return fmt.Errorf("destination %d is not a non-nil pointer", i)
		}
		value := reflect.ValueOf(row[i])
		if !value.Type().AssignableTo(target.Elem().Type()) {
			return fmt.Errorf("cannot scan %T into %s", row[i], target.Elem().Type())
		}
		target.Elem().Set(value)
	}
	return nil
}

func (r *Rows) Err() error {
	return nil
}

func (r *Rows) Close() {
	r.closed = true
}
