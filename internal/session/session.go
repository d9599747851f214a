// Package session coordinates one result session: it owns the model and
// history, schedules fetches, runs scripts and persists edits.
//
// All model and history mutation happens on a single goroutine. Public
// methods hand work to it and wait; background completions are posted to
// it the same way. Methods must not be called from an OnChange callback.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/leapstack-labs/leapgrid/internal/fetch"
	"github.com/leapstack-labs/leapgrid/internal/history"
	"github.com/leapstack-labs/leapgrid/internal/model"
	"github.com/leapstack-labs/leapgrid/internal/persist"
	"github.com/leapstack-labs/leapgrid/internal/pipeline"
	"github.com/leapstack-labs/leapgrid/pkg/core"
	"golang.org/x/sync/semaphore"
)

// Defaults for Options.
const (
	DefaultSegmentSize  = 200
	DefaultReadAllLimit = 100000
)

var (
	// ErrPendingChanges is returned when an operation would replace rows
	// that have unsaved edits.
	ErrPendingChanges = errors.New("result has unsaved changes")
	// ErrNoStore is returned by operations that need a state store.
	ErrNoStore = errors.New("no state store configured")
	// ErrNoDialect is returned by a dry run without a statement renderer.
	ErrNoDialect = errors.New("no dialect to render statements")
)

// Options configures a Session.
type Options struct {
	// Connection identifies the target in container IDs and the run log.
	Connection string

	SegmentSize  int
	ReadAllLimit int
	PollInterval time.Duration
	HistorySize  int

	// ServerOrdering and ServerFiltering allow pushing the filter to the
	// source when the entity supports it.
	ServerOrdering  bool
	ServerFiltering bool
	Locale          string

	Persist persist.Settings
	// RestoreFilter loads the saved filter of a container on Open.
	RestoreFilter bool

	// Store keeps saved filters and the run log. Optional.
	Store core.Store
	// Previewer renders dry-run scripts. Optional.
	Previewer persist.Previewer
	// OnChange is called on the session goroutine after every state change.
	OnChange func()
	Logger   *slog.Logger
}

// Session is a result session over one execution source.
type Session struct {
	source    core.ExecutionSource
	opts      Options
	logger    *slog.Logger
	gate      *semaphore.Weighted
	coalescer *fetch.Coalescer
	pipeline  *pipeline.Pipeline
	persister *persist.Persister

	ops       chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// entity is read by the fetch goroutine, written on the session goroutine.
	entity atomic.Pointer[core.Entity]

	// Owned by the session goroutine.
	model     *model.Model
	history   *history.Navigator
	container core.DataContainer
	opened    bool
	focus     int
	selected  []int // row IDs
	hasMore   bool
	status    string
	lastErr   error
	// virtualKeys holds user-declared key columns by container ID.
	virtualKeys map[string][]string
	// pendingJob is the newest fresh fetch not yet applied; pendingReq is its request.
	pendingJob uuid.UUID
	pendingReq core.FetchRequest
}

// New starts a session. If logger is nil, a discard logger is used.
func New(source core.ExecutionSource, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.SegmentSize <= 0 {
		opts.SegmentSize = DefaultSegmentSize
	}
	if opts.ReadAllLimit <= 0 {
		opts.ReadAllLimit = DefaultReadAllLimit
	}

	gate := semaphore.NewWeighted(1)
	s := &Session{
		source:    source,
		opts:      opts,
		logger:    opts.Logger,
		gate:      gate,
		persister: persist.New(opts.Logger),
		ops:       make(chan func()),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		model: model.New(model.Options{
			ServerOrdering:  opts.ServerOrdering,
			ServerFiltering: opts.ServerFiltering,
			Locale:          opts.Locale,
			Logger:          opts.Logger,
		}),
		history:     history.New(opts.HistorySize),
		virtualKeys: map[string][]string{},
	}
	s.pipeline = pipeline.New(source, pipeline.Options{
		Gate:      gate,
		FetchSize: opts.SegmentSize,
		Logger:    opts.Logger,
	})
	s.coalescer = fetch.New(s.execFetch, s.onFetchDone, fetch.Options{
		PollInterval: opts.PollInterval,
		Gate:         gate,
		Logger:       opts.Logger,
	})
	go s.loop()
	return s
}

func (s *Session) loop() {
	defer close(s.done)
	for {
		select {
		case fn := <-s.ops:
			fn()
		case <-s.quit:
			return
		}
	}
}

// do runs fn on the session goroutine and waits for it.
func (s *Session) do(fn func() error) error {
	var err error
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		err = fn()
		s.changed()
	}
	select {
	case s.ops <- task:
	case <-s.done:
		return core.ErrSessionClosed
	}
	<-finished
	return err
}

// post queues fn on the session goroutine without waiting for it to run.
func (s *Session) post(fn func()) {
	select {
	case s.ops <- func() { fn(); s.changed() }:
	case <-s.done:
	}
}

func (s *Session) changed() {
	if s.opts.OnChange != nil {
		s.opts.OnChange()
	}
}

func (s *Session) setStatus(msg string) {
	s.status = msg
	s.lastErr = nil
}

func (s *Session) setError(err error) {
	s.lastErr = err
	s.status = err.Error()
	s.logger.Debug("session error", slog.String("error", err.Error()))
}

// Wait blocks until no fetch is running or queued and its result has been applied.
func (s *Session) Wait(ctx context.Context) error {
	if err := s.coalescer.Wait(ctx); err != nil {
		return err
	}
	return s.do(func() error { return nil })
}

// Close cancels background work and stops the session. It is safe to call twice.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.pipeline.Cancel()
		s.coalescer.Close()
		close(s.quit)
		<-s.done
	})
	return nil
}

// RowView is a read-only copy of one displayed row.
type RowView struct {
	Number  int
	State   model.RowState
	Values  []any
	Changed []bool
}

// Snapshot is a read-only copy of session state for rendering.
type Snapshot struct {
	Container       core.DataContainer
	Opened          bool
	Columns         []core.Column
	Rows            []RowView
	Filter          *core.DataFilter
	FocusRow        int
	Selected        []int
	Dirty           bool
	HasMore         bool
	Busy            bool
	Editable        bool
	Status          string
	Err             error
	History         []core.HistoryState
	HistoryPosition int
	HistoryLen      int
	CanBack         bool
	CanForward      bool
}

// Snapshot copies the current state.
func (s *Session) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := s.do(func() error {
		snap = Snapshot{
			Container:       s.container,
			Opened:          s.opened,
			Columns:         s.model.Columns(),
			Filter:          s.model.Filter(),
			FocusRow:        s.focus,
			Selected:        s.selectedIndexes(),
			Dirty:           s.model.IsDirty(),
			HasMore:         s.hasMore,
			Busy:            s.coalescer.Busy(),
			Editable:        s.model.Entity().BestIdentifier().Valid(),
			Status:          s.status,
			Err:             s.lastErr,
			History:         s.history.Entries(),
			HistoryPosition: s.history.Position(),
			HistoryLen:      s.history.Len(),
			CanBack:         s.history.CanBack(),
			CanForward:      s.history.CanForward(),
		}
		for _, r := range s.model.Rows() {
			rv := RowView{Number: r.VisualNumber, State: r.State, Values: r.Snapshot()}
			for i := range r.Values {
				rv.Changed = append(rv.Changed, r.State != model.StateNormal && r.Changed(i))
			}
			snap.Rows = append(snap.Rows, rv)
		}
		return nil
	})
	return snap, err
}
