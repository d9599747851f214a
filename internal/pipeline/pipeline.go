// Package pipeline executes scripts statement by statement against an
// execution source and reports progress to listeners.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/leapstack-labs/leapgrid/pkg/core"
	"golang.org/x/sync/semaphore"
)

// DefaultFetchSize caps the rows fetched per result set.
const DefaultFetchSize = 200

// Options configures a Pipeline.
type Options struct {
	// Gate is held for the whole script. Share it with fetches and persists.
	Gate *semaphore.Weighted
	// FetchSize caps rows fetched per result set; zero means DefaultFetchSize.
	FetchSize int
	Logger    *slog.Logger
}

// Summary is the outcome of one script.
type Summary struct {
	Results   []*core.QueryResult
	Stats     core.ExecutionStatistics
	HadErrors bool
	Cancelled bool
}

// Pipeline runs scripts one at a time. Overlapping calls queue on the gate.
type Pipeline struct {
	source    core.ExecutionSource
	gate      *semaphore.Weighted
	fetchSize int
	logger    *slog.Logger

	mu   sync.Mutex
	runs map[int]context.CancelFunc // running or queued calls
	next int
}

// New creates a pipeline over source.
func New(source core.ExecutionSource, opts Options) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Gate == nil {
		opts.Gate = semaphore.NewWeighted(1)
	}
	if opts.FetchSize <= 0 {
		opts.FetchSize = DefaultFetchSize
	}
	return &Pipeline{
		source:    source,
		gate:      opts.Gate,
		fetchSize: opts.FetchSize,
		logger:    opts.Logger,
		runs:      map[int]context.CancelFunc{},
	}
}

// Cancel stops every running or queued script before its next statement
// and interrupts the current one where the driver allows.
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cancel := range p.runs {
		cancel()
	}
}

// begin registers a call so Cancel reaches it; the returned func releases it.
func (p *Pipeline) begin(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.next++
	id := p.next
	p.runs[id] = cancel
	p.mu.Unlock()
	return ctx, func() {
		p.mu.Lock()
		delete(p.runs, id)
		p.mu.Unlock()
		cancel()
	}
}

// Execute runs queries in order. A failing statement is reported through
// its own result and the script continues; a lost connection or a cancel
// stops it. The returned error is set only when the script could not run
// to its end for a reason other than cancellation.
func (p *Pipeline) Execute(ctx context.Context, queries []*core.Query, params map[string]any, l Listener, recv ResultReceiver) (*Summary, error) {
	if l == nil {
		l = NopListener{}
	}
	ctx, end := p.begin(ctx)
	defer end()

	if err := p.gate.Acquire(ctx, 1); err != nil {
		return &Summary{Cancelled: true}, nil
	}
	defer p.gate.Release(1)

	ectx, err := p.source.OpenSession(ctx, core.PurposeUserScript)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := ectx.Close(); cerr != nil {
			p.logger.Warn("failed to close execution context", "error", cerr)
		}
	}()

	p.logger.Info("starting script", "queries", len(queries))
	l.OnStartScript(queries)

	sum := &Summary{}
	var fatal error
	for _, q := range queries {
		if ctx.Err() != nil {
			sum.Cancelled = true
			break
		}

		l.OnStartQuery(q)
		res := p.run(ctx, ectx, q, params, recv)
		q.SetLastResult(res)
		sum.Results = append(sum.Results, res)
		sum.Stats.Add(res.Stats)
		l.OnEndQuery(res)

		if res.Err == nil {
			continue
		}
		if core.IsCancelled(res.Err) {
			sum.Cancelled = true
			break
		}
		sum.HadErrors = true
		if kind, _ := core.KindOf(res.Err); kind == core.KindConnection {
			fatal = res.Err
			break
		}
	}

	l.OnEndScript(sum.Stats, sum.HadErrors)
	p.logger.Info("script finished",
		"queries", len(sum.Results),
		"rows_affected", sum.Stats.RowsAffected,
		"had_errors", sum.HadErrors,
		"cancelled", sum.Cancelled)
	return sum, fatal
}

// ExecuteImmediate runs a single statement and hands every result set it
// yields to recv.
func (p *Pipeline) ExecuteImmediate(ctx context.Context, q *core.Query, params map[string]any, l Listener, recv ResultReceiver) (*core.QueryResult, error) {
	sum, err := p.Execute(ctx, []*core.Query{q}, params, l, recv)
	if err != nil && (sum == nil || len(sum.Results) == 0) {
		return nil, err
	}
	if len(sum.Results) == 0 {
		return &core.QueryResult{Query: q, Err: core.Cancelled("execute")}, nil
	}
	return sum.Results[0], err
}

func (p *Pipeline) run(ctx context.Context, ectx core.ExecutionContext, q *core.Query, params map[string]any, recv ResultReceiver) *core.QueryResult {
	res := &core.QueryResult{Query: q}
	start := time.Now()

	cur, stats, err := ectx.Execute(ctx, q, params)
	res.Stats = stats
	res.Stats.Statements = 1
	if err != nil {
		res.Err = err
		res.Stats.TotalTime = time.Since(start)
		p.logger.Debug("query failed", "offset", q.Offset, "error", err)
		return res
	}
	defer cur.Close()

	fetchStart := time.Now()
	for set := 0; ; set++ {
		rows, err := cur.Fetch(ctx, 0, p.fetchSize)
		if err != nil {
			res.Err = err
			break
		}
		if len(cur.Columns()) > 0 {
			res.ResultSets++
			res.Stats.RowsFetched += int64(len(rows))
			if recv != nil {
				if err := recv.ReceiveResultSet(q, set, cur.Columns(), rows); err != nil {
					res.Err = core.NewQueryError("receive results", err)
					break
				}
			}
		}
		if !cur.NextResultSet() {
			break
		}
	}
	res.Stats.FetchTime += time.Since(fetchStart)
	res.Stats.TotalTime = time.Since(start)
	return res
}
