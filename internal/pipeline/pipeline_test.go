package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/leapstack-labs/leapgrid/internal/script"
	"github.com/leapstack-labs/leapgrid/internal/state"
	"github.com/leapstack-labs/leapgrid/internal/testutil"
	"github.com/leapstack-labs/leapgrid/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"
)

// eventLog records listener calls as strings.
type eventLog struct {
	events []string
	onEnd  func(r *core.QueryResult)
}

func (l *eventLog) OnStartScript(queries []*core.Query) {
	l.events = append(l.events, fmt.Sprintf("start script %d", len(queries)))
}

func (l *eventLog) OnStartQuery(q *core.Query) {
	l.events = append(l.events, "start "+q.Text)
}

func (l *eventLog) OnEndQuery(r *core.QueryResult) {
	status := "ok"
	if r.Err != nil {
		status = "error"
	}
	l.events = append(l.events, "end "+r.Query.Text+" "+status)
	if l.onEnd != nil {
		l.onEnd(r)
	}
}

func (l *eventLog) OnEndScript(stats core.ExecutionStatistics, hadErrors bool) {
	l.events = append(l.events, fmt.Sprintf("end script errors=%t", hadErrors))
}

func newSource() *testutil.MemSource {
	src := testutil.NewMemSource()
	src.Results["SELECT 1"] = testutil.MemResult{Columns: []string{"n"}, Rows: [][]any{{1}, {2}}}
	src.Results["UPDATE t SET x = 1"] = testutil.MemResult{RowsAffected: 3}
	return src
}

func TestPipeline_ErrorIsolation(t *testing.T) {
	src := newSource()
	p := New(src, Options{Logger: testutil.NewTestLogger(t)})
	queries := script.Split("SELECT 1; BAD; UPDATE t SET x = 1")
	l := &eventLog{}

	sum, err := p.Execute(context.Background(), queries, nil, l, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"start script 3",
		"start SELECT 1", "end SELECT 1 ok",
		"start BAD", "end BAD error",
		"start UPDATE t SET x = 1", "end UPDATE t SET x = 1 ok",
		"end script errors=true",
	}, l.events)
	assert.True(t, sum.HadErrors)
	assert.False(t, sum.Cancelled)
	assert.Equal(t, int64(3), sum.Stats.RowsAffected)
	assert.Equal(t, int64(2), sum.Stats.RowsFetched)
	assert.Equal(t, 3, sum.Stats.Statements)

	assert.Equal(t, 1, queries[0].LastResult().ResultSets)
	kind, _ := core.KindOf(queries[1].LastResult().Err)
	assert.Equal(t, core.KindQuery, kind)
	assert.Zero(t, src.OpenSessions(), "execution context released")
}

func TestPipeline_CancelBetweenQueries(t *testing.T) {
	src := newSource()
	p := New(src, Options{})
	l := &eventLog{onEnd: func(*core.QueryResult) { p.Cancel() }}

	sum, err := p.Execute(context.Background(), script.Split("SELECT 1; UPDATE t SET x = 1"), nil, l, nil)
	require.NoError(t, err)

	assert.True(t, sum.Cancelled)
	assert.Len(t, sum.Results, 1)
	assert.Equal(t, []string{"SELECT 1"}, src.Executed())
	assert.Equal(t, "end script errors=false", l.events[len(l.events)-1])
}

func TestPipeline_CancelInterruptsStatement(t *testing.T) {
	src := newSource()
	src.Results["SLOW"] = testutil.MemResult{Delay: time.Minute}
	p := New(src, Options{})

	go func() {
		time.Sleep(20 * time.Millisecond)
		p.Cancel()
	}()
	sum, err := p.Execute(context.Background(), script.Split("SLOW; SELECT 1"), nil, nil, nil)
	require.NoError(t, err)
	assert.True(t, sum.Cancelled)
	assert.False(t, sum.HadErrors)
	assert.True(t, core.IsCancelled(sum.Results[0].Err))
	assert.Equal(t, []string{"SLOW"}, src.Executed())
}

func TestPipeline_CancelStopsOverlappingScripts(t *testing.T) {
	src := newSource()
	src.Results["SLOW"] = testutil.MemResult{Delay: time.Minute}
	p := New(src, Options{})
	active := func() int {
		p.mu.Lock()
		defer p.mu.Unlock()
		return len(p.runs)
	}

	first := make(chan *Summary, 1)
	go func() {
		sum, _ := p.Execute(context.Background(), script.Split("SLOW"), nil, nil, nil)
		first <- sum
	}()
	require.Eventually(t, func() bool { return len(src.Executed()) == 1 }, time.Second, 5*time.Millisecond)

	second := make(chan *Summary, 1)
	go func() {
		sum, _ := p.Execute(context.Background(), script.Split("SELECT 1"), nil, nil, nil)
		second <- sum
	}()
	require.Eventually(t, func() bool { return active() == 2 }, time.Second, 5*time.Millisecond)

	p.Cancel()
	sum := <-first
	assert.True(t, sum.Cancelled)
	assert.True(t, core.IsCancelled(sum.Results[0].Err))
	sum = <-second
	assert.True(t, sum.Cancelled)
	assert.Empty(t, sum.Results)
	assert.Equal(t, []string{"SLOW"}, src.Executed())
	assert.Zero(t, active())

	sum, err := p.Execute(context.Background(), script.Split("SELECT 1"), nil, nil, nil)
	require.NoError(t, err)
	assert.False(t, sum.Cancelled, "an earlier cancel does not leak into later scripts")
}

func TestPipeline_ConnectionErrorStops(t *testing.T) {
	src := newSource()
	src.Results["LOST"] = testutil.MemResult{Err: core.NewConnectionError("execute", errors.New("broken pipe"))}
	p := New(src, Options{})

	sum, err := p.Execute(context.Background(), script.Split("LOST; SELECT 1"), nil, nil, nil)
	require.Error(t, err)
	kind, _ := core.KindOf(err)
	assert.Equal(t, core.KindConnection, kind)
	assert.True(t, sum.HadErrors)
	assert.Len(t, sum.Results, 1)
}

func TestPipeline_OpenSessionFails(t *testing.T) {
	src := newSource()
	src.OpenErr = core.NewConnectionError("open session", core.ErrNotConnected)
	l := &eventLog{}

	sum, err := New(src, Options{}).Execute(context.Background(), script.Split("SELECT 1"), nil, l, nil)
	assert.ErrorIs(t, err, core.ErrNotConnected)
	assert.Nil(t, sum)
	assert.Empty(t, l.events)
}

func TestPipeline_WaitsForGate(t *testing.T) {
	gate := semaphore.NewWeighted(1)
	require.True(t, gate.TryAcquire(1))
	src := newSource()
	p := New(src, Options{Gate: gate})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	sum, err := p.Execute(ctx, script.Split("SELECT 1"), nil, nil, nil)
	require.NoError(t, err)
	assert.True(t, sum.Cancelled)
	assert.Empty(t, src.Executed())
}

func TestPipeline_ExecuteImmediateResultSets(t *testing.T) {
	src := newSource()
	src.Results["CALL report()"] = testutil.MemResult{
		Columns: []string{"a"},
		Rows:    [][]any{{1}},
		More: []testutil.MemResult{
			{Columns: []string{"b", "c"}, Rows: [][]any{{1, 2}, {3, 4}}},
		},
	}

	type received struct {
		set  int
		cols int
		rows int
	}
	var got []received
	recv := ReceiverFunc(func(q *core.Query, set int, cols []core.Column, rows [][]any) error {
		got = append(got, received{set, len(cols), len(rows)})
		return nil
	})

	res, err := New(src, Options{}).ExecuteImmediate(context.Background(), script.Parse("CALL report()"), nil, nil, recv)
	require.NoError(t, err)
	assert.Equal(t, 2, res.ResultSets)
	assert.Equal(t, int64(3), res.Stats.RowsFetched)
	assert.Equal(t, []received{{0, 1, 1}, {1, 2, 2}}, got)
}

func TestPipeline_FetchSize(t *testing.T) {
	src := newSource()
	var rows int
	recv := ReceiverFunc(func(_ *core.Query, _ int, _ []core.Column, r [][]any) error {
		rows = len(r)
		return nil
	})
	_, err := New(src, Options{FetchSize: 1}).ExecuteImmediate(context.Background(), script.Parse("SELECT 1"), nil, nil, recv)
	require.NoError(t, err)
	assert.Equal(t, 1, rows)
}

func TestPipeline_ReceiverError(t *testing.T) {
	recv := ReceiverFunc(func(*core.Query, int, []core.Column, [][]any) error {
		return errors.New("grid full")
	})
	res, err := New(newSource(), Options{}).ExecuteImmediate(context.Background(), script.Parse("SELECT 1"), nil, nil, recv)
	require.NoError(t, err)
	assert.ErrorContains(t, res.Err, "grid full")
}

func TestRunRecorder(t *testing.T) {
	store := state.NewSQLiteStore(testutil.NewTestLogger(t))
	require.NoError(t, store.Open(filepath.Join(t.TempDir(), "state.db")))
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.InitSchema())

	tests := []struct {
		name     string
		script   string
		cancel   bool
		status   core.RunStatus
		recorded int
	}{
		{name: "completed", script: "SELECT 1; UPDATE t SET x = 1", status: core.RunStatusCompleted, recorded: 2},
		{name: "failed", script: "SELECT 1; BAD", status: core.RunStatusFailed, recorded: 2},
		{name: "cancelled", script: "SELECT 1; UPDATE t SET x = 1", cancel: true, status: core.RunStatusCancelled, recorded: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(newSource(), Options{})
			rec := NewRunRecorder(store, "mem://", testutil.NewTestLogger(t))
			var l Listener = rec
			if tt.cancel {
				l = Multi(rec, &eventLog{onEnd: func(*core.QueryResult) { p.Cancel() }})
			}

			_, err := p.Execute(context.Background(), script.Split(tt.script), nil, l, nil)
			require.NoError(t, err)

			run, err := store.GetRun(rec.RunID())
			require.NoError(t, err)
			assert.Equal(t, tt.status, run.Status)
			assert.NotNil(t, run.CompletedAt)

			qruns, err := store.GetQueryRunsForRun(run.ID)
			require.NoError(t, err)
			assert.Len(t, qruns, tt.recorded)
			if tt.status == core.RunStatusFailed {
				assert.Equal(t, core.QueryRunStatusFailed, qruns[1].Status)
				assert.NotEmpty(t, run.Error)
			}
		})
	}
}

func TestMulti_SkipsNil(t *testing.T) {
	a, b := &eventLog{}, &eventLog{}
	l := Multi(a, nil, b)
	l.OnStartScript(nil)
	assert.Equal(t, []string{"start script 0"}, a.events)
	assert.Equal(t, a.events, b.events)
}
