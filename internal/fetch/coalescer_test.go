package fetch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leapstack-labs/leapgrid/internal/testutil"
	"github.com/leapstack-labs/leapgrid/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"
)

// recorder is an executor whose jobs block until released.
type recorder struct {
	mu      sync.Mutex
	ran     []int
	done    []Completion
	started chan int
	release chan struct{}
	fail    map[int]error
}

func newRecorder() *recorder {
	return &recorder{
		started: make(chan int, 16),
		release: make(chan struct{}),
		fail:    map[int]error{},
	}
}

func (r *recorder) exec(ctx context.Context, req core.FetchRequest) (*Page, error) {
	r.mu.Lock()
	r.ran = append(r.ran, req.Offset)
	err := r.fail[req.Offset]
	r.mu.Unlock()

	r.started <- req.Offset
	select {
	case <-r.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &Page{Rows: [][]any{{req.Offset}}}, nil
}

func (r *recorder) onDone(c Completion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = append(r.done, c)
}

func (r *recorder) executed() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.ran...)
}

func (r *recorder) completions() []Completion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Completion(nil), r.done...)
}

func newCoalescer(t *testing.T, r *recorder, gate *semaphore.Weighted) *Coalescer {
	t.Helper()
	c := New(r.exec, r.onDone, Options{
		PollInterval: 5 * time.Millisecond,
		Gate:         gate,
		Logger:       testutil.NewTestLogger(t),
	})
	t.Cleanup(c.Close)
	return c
}

func waitStarted(t *testing.T, r *recorder, offset int) {
	t.Helper()
	select {
	case got := <-r.started:
		require.Equal(t, offset, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("job %d did not start", offset)
	}
}

func waitIdle(t *testing.T, c *Coalescer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))
}

func TestCoalescer_KeepsInFlightAndLast(t *testing.T) {
	r := newRecorder()
	c := newCoalescer(t, r, nil)

	first := c.Submit(core.FetchRequest{Offset: 1})
	waitStarted(t, r, 1)

	var last uuid.UUID
	for i := 2; i <= 10; i++ {
		last = c.Submit(core.FetchRequest{Offset: i})
	}
	assert.True(t, c.Busy())

	close(r.release)
	waitIdle(t, c)

	assert.Equal(t, []int{1, 10}, r.executed())
	done := r.completions()
	require.Len(t, done, 2)
	assert.Equal(t, first, done[0].JobID)
	assert.Equal(t, last, done[1].JobID)
	assert.Equal(t, [][]any{{10}}, done[1].Page.Rows)
	assert.False(t, c.Busy())
}

func TestCoalescer_ErrorDoesNotStopQueue(t *testing.T) {
	r := newRecorder()
	r.fail[1] = core.NewQueryError("read", errors.New("relation does not exist"))
	c := newCoalescer(t, r, nil)

	c.Submit(core.FetchRequest{Offset: 1})
	waitStarted(t, r, 1)
	c.Submit(core.FetchRequest{Offset: 2})
	close(r.release)
	waitIdle(t, c)

	done := r.completions()
	require.Len(t, done, 2)
	assert.Nil(t, done[0].Page)
	kind, _ := core.KindOf(done[0].Err)
	assert.Equal(t, core.KindQuery, kind)
	assert.NoError(t, done[1].Err)
}

func TestCoalescer_Cancel(t *testing.T) {
	r := newRecorder()
	c := newCoalescer(t, r, nil)

	c.Submit(core.FetchRequest{Offset: 1})
	waitStarted(t, r, 1)
	c.Submit(core.FetchRequest{Offset: 2})

	assert.True(t, c.Cancel())
	waitIdle(t, c)

	assert.Equal(t, []int{1}, r.executed(), "pending job dropped")
	done := r.completions()
	require.Len(t, done, 1)
	assert.True(t, core.IsCancelled(done[0].Err))
	assert.Nil(t, done[0].Page)
	assert.False(t, c.Cancel())
}

func TestCoalescer_CancelledRowsDiscarded(t *testing.T) {
	var mu sync.Mutex
	var done []Completion
	started := make(chan struct{})
	exec := func(ctx context.Context, req core.FetchRequest) (*Page, error) {
		close(started)
		<-ctx.Done()
		// A driver that ignores cancellation still hands back rows.
		return &Page{Rows: [][]any{{1}}}, nil
	}
	c := New(exec, func(comp Completion) {
		mu.Lock()
		defer mu.Unlock()
		done = append(done, comp)
	}, Options{PollInterval: 5 * time.Millisecond})
	t.Cleanup(c.Close)

	c.Submit(core.FetchRequest{})
	<-started
	c.Cancel()
	waitIdle(t, c)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, done, 1)
	assert.Nil(t, done[0].Page)
	assert.True(t, core.IsCancelled(done[0].Err))
}

func TestCoalescer_WaitsForGate(t *testing.T) {
	gate := semaphore.NewWeighted(1)
	require.True(t, gate.TryAcquire(1))

	r := newRecorder()
	close(r.release)
	c := newCoalescer(t, r, gate)
	c.Submit(core.FetchRequest{Offset: 1})

	assert.Never(t, func() bool { return len(r.completions()) > 0 }, 100*time.Millisecond, 10*time.Millisecond)

	gate.Release(1)
	waitIdle(t, c)
	assert.Equal(t, []int{1}, r.executed())
}

func TestCoalescer_WaitHonoursContext(t *testing.T) {
	r := newRecorder()
	c := newCoalescer(t, r, nil)
	c.Submit(core.FetchRequest{Offset: 1})
	waitStarted(t, r, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Wait(ctx), context.DeadlineExceeded)
	close(r.release)
}

func TestCoalescer_Close(t *testing.T) {
	r := newRecorder()
	c := New(r.exec, r.onDone, Options{PollInterval: 5 * time.Millisecond})

	c.Submit(core.FetchRequest{Offset: 1})
	waitStarted(t, r, 1)
	c.Submit(core.FetchRequest{Offset: 2})

	c.Close()
	c.Close()

	assert.Equal(t, []int{1}, r.executed())
	assert.Equal(t, uuid.Nil, c.Submit(core.FetchRequest{Offset: 3}))
	require.NoError(t, c.Wait(context.Background()))
}
