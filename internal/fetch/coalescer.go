// Package fetch schedules fetch requests so that at most one runs at a time
// and only the newest pending request survives a burst.
package fetch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/leapstack-labs/leapgrid/pkg/core"
	"golang.org/x/sync/semaphore"
)

// DefaultPollInterval is how often the scheduler looks for queued work
// when nothing woke it.
const DefaultPollInterval = 50 * time.Millisecond

// Page is what an executor yields for one request.
type Page struct {
	Columns []core.Column
	Entity  *core.Entity
	Rows    [][]any
	Stats   core.ExecutionStatistics
}

// Executor runs one fetch. It must honour ctx.
type Executor func(ctx context.Context, req core.FetchRequest) (*Page, error)

// Completion reports a finished job. Page is nil when Err is set; a
// cancelled job always reports a cancellation error and no rows.
type Completion struct {
	JobID   uuid.UUID
	Request core.FetchRequest
	Page    *Page
	Err     error
}

// Options configures a Coalescer.
type Options struct {
	PollInterval time.Duration
	// Gate is held while a job executes. Share it with anything else that
	// must not use the execution context at the same time.
	Gate   *semaphore.Weighted
	Logger *slog.Logger
}

type job struct {
	id     uuid.UUID
	req    core.FetchRequest
	cancel context.CancelFunc
}

// Coalescer runs submitted fetches one at a time. A newly submitted request
// replaces any request still waiting, so a burst executes at most the job
// already running and the last one submitted.
type Coalescer struct {
	exec   Executor
	onDone func(Completion)
	gate   *semaphore.Weighted
	logger *slog.Logger
	poll   time.Duration

	mu      sync.Mutex
	idle    *sync.Cond
	running *job
	pending *job
	closed  bool

	wake   chan struct{}
	ctx    context.Context
	stop   context.CancelFunc
	doneCh chan struct{}
}

// New starts a coalescer. onDone is called from the scheduler goroutine
// for every job that ran; callers must hand the result to their own
// goroutine rather than block.
func New(exec Executor, onDone func(Completion), opts Options) *Coalescer {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Gate == nil {
		opts.Gate = semaphore.NewWeighted(1)
	}
	if onDone == nil {
		onDone = func(Completion) {}
	}

	ctx, stop := context.WithCancel(context.Background())
	c := &Coalescer{
		exec:   exec,
		onDone: onDone,
		gate:   opts.Gate,
		logger: opts.Logger,
		poll:   opts.PollInterval,
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		stop:   stop,
		doneCh: make(chan struct{}),
	}
	c.idle = sync.NewCond(&c.mu)
	go c.loop()
	return c
}

// Submit queues a request and returns its job ID. A request still waiting
// from an earlier Submit is dropped without running.
func (c *Coalescer) Submit(req core.FetchRequest) uuid.UUID {
	j := &job{id: uuid.New(), req: req}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return uuid.Nil
	}
	if c.pending != nil {
		c.logger.Debug("fetch dropped", slog.String("job", c.pending.id.String()))
	}
	c.pending = j
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return j.id
}

// Cancel interrupts the running job and drops the pending one. It reports
// whether anything was cancelled.
func (c *Coalescer) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cancelled := false
	if c.pending != nil {
		c.pending = nil
		cancelled = true
		c.idle.Broadcast()
	}
	if c.running != nil && c.running.cancel != nil {
		c.running.cancel()
		cancelled = true
	}
	return cancelled
}

// Busy reports whether a job is running or waiting.
func (c *Coalescer) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running != nil || c.pending != nil
}

// Wait blocks until no job is running or waiting, or ctx ends.
func (c *Coalescer) Wait(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.idle.Broadcast()
	})
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for (c.running != nil || c.pending != nil) && !c.closed {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.idle.Wait()
	}
	return nil
}

// Close cancels any running job, drops pending work and stops the scheduler.
func (c *Coalescer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.pending = nil
	c.idle.Broadcast()
	c.mu.Unlock()

	c.stop()
	<-c.doneCh
}

func (c *Coalescer) loop() {
	defer close(c.doneCh)
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.wake:
		case <-ticker.C:
		}
		for c.runNext() {
		}
	}
}

// runNext executes the pending job, if any, and reports whether one ran.
func (c *Coalescer) runNext() bool {
	c.mu.Lock()
	if c.closed || c.running != nil || c.pending == nil {
		c.mu.Unlock()
		return false
	}
	j := c.pending
	c.pending = nil
	ctx, cancel := context.WithCancel(c.ctx)
	j.cancel = cancel
	c.running = j
	c.mu.Unlock()

	comp := c.run(ctx, j)
	cancel()
	c.onDone(comp)

	c.mu.Lock()
	c.running = nil
	c.idle.Broadcast()
	c.mu.Unlock()
	return true
}

func (c *Coalescer) run(ctx context.Context, j *job) Completion {
	comp := Completion{JobID: j.id, Request: j.req}
	log := c.logger.With(slog.String("job", j.id.String()), slog.String("container", j.req.Container.String()))

	if err := c.gate.Acquire(ctx, 1); err != nil {
		comp.Err = core.Cancelled("fetch")
		log.Debug("fetch cancelled before start")
		return comp
	}
	defer c.gate.Release(1)

	start := time.Now()
	log.Debug("fetch started", slog.Int("offset", j.req.Offset), slog.Int("max_rows", j.req.MaxRows))
	page, err := c.exec(ctx, j.req)

	switch {
	case ctx.Err() != nil:
		// Partial rows of a cancelled fetch are never merged.
		comp.Err = core.Cancelled("fetch")
		log.Debug("fetch cancelled")
	case err != nil:
		comp.Err = err
		log.Debug("fetch failed", slog.String("error", err.Error()))
	default:
		if page == nil {
			page = &Page{}
		}
		comp.Page = page
		log.Debug("fetch finished", slog.Int("rows", len(page.Rows)), slog.Duration("duration", time.Since(start)))
	}
	return comp
}
