// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlinfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/canonical/sqlinfer/internal/enum"
	"github.com/canonical/sqlinfer/internal/infer"
	"github.com/canonical/sqlinfer/typeinfo"
)

// DefaultWindow is how long a coordinator waits after the first
// registration of a cycle before flushing.
const DefaultWindow = 10 * time.Millisecond

type (
	// InferenceError is returned when the schema of a query cannot be
	// inferred. It wraps a *SessionError or a *MalformedQueryError.
	InferenceError = infer.InferenceError
	// SessionError is a failure of the database session.
	SessionError = infer.SessionError
	// MalformedQueryError is returned when the database rejects a query.
	MalformedQueryError = infer.MalformedQueryError
	// EnumResolutionError is returned when the enumerations of the database
	// cannot be read. It aborts the whole batch.
	EnumResolutionError = enum.ResolutionError
	// Stage is the stage of an inference at which it failed.
	Stage = infer.Stage
)

// Result is the outcome of inferring one query of a batch. Exactly one of
// Schema and Err is set.
type Result struct {
	Query  string
	Schema *typeinfo.QuerySchema
	Err    error
}

// Renderer receives the results of every flush, in registration order.
type Renderer interface {
	Render(ctx context.Context, results []Result) error
}

// RendererFunc adapts a function to a Renderer.
type RendererFunc func(ctx context.Context, results []Result) error

func (f RendererFunc) Render(ctx context.Context, results []Result) error {
	return f(ctx, results)
}

// FlushError is returned by a flush that was aborted by the failure of
// Query.
type FlushError struct {
	Query string
	Err   error
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("cannot flush batch: %s", e.Err)
}

func (e *FlushError) Unwrap() error {
	return e.Err
}

// Config configures a Coordinator.
type Config struct {
	// Backend is the database queries are inferred against. It is required.
	Backend Backend
	// Renderer receives the results of every flush. It may be nil.
	Renderer Renderer
	// Window is how long to wait after the first registration of a cycle
	// before flushing. Zero means DefaultWindow.
	Window time.Duration
	// Schedule, if set, is called instead of starting a timer when a
	// flush needs scheduling. It must eventually call flush exactly once.
	Schedule func(flush func())
	// ContinueOnError makes a flush infer every query of the batch even if
	// some fail. Failures are reported in the Result of the query.
	ContinueOnError bool
	// Logger receives the coordinator's logs. Nil discards them.
	Logger *slog.Logger
}

type state int

const (
	idle state = iota
	collecting
	flushing
)

func (s state) String() string {
	switch s {
	case idle:
		return "idle"
	case collecting:
		return "collecting"
	case flushing:
		return "flushing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Coordinator collects queries and infers them in batches. It is safe for
// concurrent use.
type Coordinator struct {
	backend         Backend
	renderer        Renderer
	schedule        func(flush func())
	continueOnError bool
	logger          *slog.Logger

	mu    sync.Mutex
	cond  *sync.Cond
	state state
	batch *batch
	// cycle identifies the scheduled flush that is allowed to run. It is
	// bumped whenever a batch is taken so that stale timers do nothing.
	cycle uint64
	errs  []error
}

// NewCoordinator returns an idle Coordinator.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Backend == nil {
		return nil, errors.New("cannot create coordinator: no backend")
	}
	c := &Coordinator{
		backend:         cfg.Backend,
		renderer:        cfg.Renderer,
		schedule:        cfg.Schedule,
		continueOnError: cfg.ContinueOnError,
		logger:          cfg.Logger,
		batch:           newBatch(),
	}
	c.cond = sync.NewCond(&c.mu)
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.schedule == nil {
		window := cfg.Window
		if window <= 0 {
			window = DefaultWindow
		}
		c.schedule = func(flush func()) {
			time.AfterFunc(window, flush)
		}
	}
	return c, nil
}

// Register adds query to the current batch and schedules a flush if none
// is pending. It never blocks on the database.
func (c *Coordinator) Register(query string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.batch.add(query) {
		return
	}
	c.logger.Debug("query registered", slog.String("query", query), slog.String("state", c.state.String()))
	if c.state == idle {
		c.state = collecting
		c.scheduleLocked()
	}
}

func (c *Coordinator) scheduleLocked() {
	cycle := c.cycle
	c.schedule(func() { c.flushScheduled(cycle) })
}

// takeLocked starts flushing the current batch.
func (c *Coordinator) takeLocked() *batch {
	b := c.batch
	c.batch = newBatch()
	c.state = flushing
	c.cycle++
	return b
}

func (c *Coordinator) flushScheduled(cycle uint64) {
	c.mu.Lock()
	if c.state != collecting || c.cycle != cycle {
		c.mu.Unlock()
		return
	}
	b := c.takeLocked()
	c.mu.Unlock()

	err := c.run(context.Background(), b)
	c.finish(err, true)
}

// finish ends a flush. Queries registered during the flush start the next
// cycle.
func (c *Coordinator) finish(err error, background bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil && background {
		c.logger.Error("flush failed", slog.Any("error", err))
		c.errs = append(c.errs, err)
	}
	if c.batch.len() == 0 {
		c.state = idle
	} else {
		c.state = collecting
		c.scheduleLocked()
	}
	c.cond.Broadcast()
}

// Flush infers the current batch now, waiting for any flush already
// running to finish first. It returns the error of the flush it ran.
func (c *Coordinator) Flush(ctx context.Context) error {
	c.mu.Lock()
	for c.state == flushing {
		c.cond.Wait()
	}
	if c.batch.len() == 0 {
		c.mu.Unlock()
		return nil
	}
	b := c.takeLocked()
	c.mu.Unlock()

	err := c.run(ctx, b)
	c.finish(err, false)
	return err
}

// Wait blocks until the coordinator is idle and returns the errors of the
// scheduled flushes that failed since the last call to Wait.
func (c *Coordinator) Wait() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.state != idle {
		c.cond.Wait()
	}
	err := errors.Join(c.errs...)
	c.errs = nil
	return err
}

// run infers every query of b and renders the results.
func (c *Coordinator) run(ctx context.Context, b *batch) error {
	start := time.Now()
	c.logger.Info("flushing batch", slog.Int("queries", b.len()))

	pass, err := c.backend.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := pass.Close(); err != nil {
			c.logger.Warn("cannot close inference pass", slog.Any("error", err))
		}
	}()

	results, err := c.inferAll(ctx, pass, b.queries)
	if err != nil {
		return err
	}
	if c.renderer != nil {
		if err := c.renderer.Render(ctx, results); err != nil {
			return fmt.Errorf("cannot render results: %w", err)
		}
	}
	c.logger.Info("batch flushed", slog.Int("queries", b.len()), slog.Duration("took", time.Since(start)))
	return nil
}

// inferAll infers queries across the workers of pass. Worker w handles the
// queries at positions w, w+n, w+2n and so on, one at a time.
func (c *Coordinator) inferAll(ctx context.Context, pass Pass, queries []string) ([]Result, error) {
	results := make([]Result, len(queries))
	workers := pass.Workers()
	if workers < 1 {
		workers = 1
	}
	if workers > len(queries) {
		workers = len(queries)
	}

	var g *errgroup.Group
	gctx := ctx
	if c.continueOnError {
		g = &errgroup.Group{}
	} else {
		g, gctx = errgroup.WithContext(ctx)
	}
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := w; i < len(queries); i += workers {
				if err := gctx.Err(); err != nil && !c.continueOnError {
					return err
				}
				schema, err := pass.Infer(gctx, w, queries[i])
				results[i] = Result{Query: queries[i], Schema: schema, Err: err}
				if err != nil {
					c.logger.Debug("query failed", slog.String("query", queries[i]), slog.Any("error", err))
					if !c.continueOnError {
						return &FlushError{Query: queries[i], Err: err}
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
