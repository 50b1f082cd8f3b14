package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testState struct {
	values  []string
	stopped bool
}

func (s *testState) Clone() *testState {
	c := &testState{stopped: s.stopped}
	c.values = append([]string(nil), s.values...)
	return c
}

func (s *testState) Stopped() bool { return s.stopped }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startExecutor(t *testing.T) *Executor[*testState] {
	t.Helper()
	e := New(&testState{}, WithLogger(quietLogger()))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return e
}

func waitIdle(t *testing.T, e *Executor[*testState]) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.WaitIdle(ctx))
}

func appendItem(value string) *ItemFunc[*testState] {
	return &ItemFunc[*testState]{
		Name: "append-" + value,
		ApplyFunc: func(s *testState, _ Poster[*testState]) (*testState, SideEffect[*testState], error) {
			s.values = append(s.values, value)
			return s, nil, nil
		},
	}
}

func stopItem() *ItemFunc[*testState] {
	return &ItemFunc[*testState]{
		Name: "stop",
		ApplyFunc: func(s *testState, _ Poster[*testState]) (*testState, SideEffect[*testState], error) {
			s.stopped = true
			return s, nil, nil
		},
	}
}

// snapshot reads the current values through the queue.
func snapshot(t *testing.T, e *Executor[*testState]) []string {
	t.Helper()
	out := make(chan []string, 1)
	e.Enqueue(&ItemFunc[*testState]{
		Name: "snapshot",
		ApplyFunc: func(s *testState, _ Poster[*testState]) (*testState, SideEffect[*testState], error) {
			out <- append([]string(nil), s.values...)
			return s, nil, nil
		},
	})
	select {
	case v := <-out:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot timed out")
		return nil
	}
}

func TestExecutor_ProcessesInSubmissionOrder(t *testing.T) {
	e := startExecutor(t)

	var want []string
	for i := 0; i < 50; i++ {
		v := fmt.Sprintf("v%02d", i)
		want = append(want, v)
		e.Enqueue(appendItem(v))
	}

	assert.Equal(t, want, snapshot(t, e))
}

func TestExecutor_ApplyStepsNeverOverlap(t *testing.T) {
	e := startExecutor(t)

	var mu sync.Mutex
	running := 0
	maxRunning := 0

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				e.Enqueue(&ItemFunc[*testState]{
					ApplyFunc: func(s *testState, _ Poster[*testState]) (*testState, SideEffect[*testState], error) {
						mu.Lock()
						running++
						if running > maxRunning {
							maxRunning = running
						}
						mu.Unlock()
						time.Sleep(50 * time.Microsecond)
						mu.Lock()
						running--
						mu.Unlock()
						s.values = append(s.values, "x")
						return s, nil, nil
					},
				})
			}
		}()
	}
	wg.Wait()
	waitIdle(t, e)

	assert.Equal(t, 1, maxRunning)
	assert.Len(t, snapshot(t, e), 100)
}

func TestExecutor_FollowUpWorkRunsAfterItem(t *testing.T) {
	e := startExecutor(t)

	applied := make(chan struct{})
	e.Enqueue(&ItemFunc[*testState]{
		ApplyFunc: func(s *testState, post Poster[*testState]) (*testState, SideEffect[*testState], error) {
			post(appendItem("follow-up"))
			s.values = append(s.values, "first")
			close(applied)
			return s, nil, nil
		},
	})
	<-applied
	e.Enqueue(appendItem("later"))

	assert.Equal(t, []string{"first", "follow-up", "later"}, snapshot(t, e))
}

func TestExecutor_ApplyErrorLeavesStateUnchanged(t *testing.T) {
	e := New(&testState{}, WithLogger(quietLogger()))

	var gotErr error
	e.Enqueue(appendItem("a"))
	e.Enqueue(&ItemFunc[*testState]{
		Name: "failing",
		ApplyFunc: func(s *testState, _ Poster[*testState]) (*testState, SideEffect[*testState], error) {
			s.values = append(s.values, "should-not-stick")
			return s, nil, errors.New("boom")
		},
		OnError: func(err error, post Poster[*testState]) {
			gotErr = err
			post(appendItem("compensation"))
		},
	})
	e.Enqueue(appendItem("b"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = e.Run(ctx) }()
	waitIdle(t, e)

	assert.Equal(t, []string{"a", "b", "compensation"}, snapshot(t, e))
	assert.EqualError(t, gotErr, "boom")
}

func TestExecutor_ApplyPanicIsUnexpectedError(t *testing.T) {
	e := startExecutor(t)

	errCh := make(chan error, 1)
	e.Enqueue(&ItemFunc[*testState]{
		ApplyFunc: func(s *testState, _ Poster[*testState]) (*testState, SideEffect[*testState], error) {
			panic("bad item")
		},
		OnError: func(err error, _ Poster[*testState]) { errCh <- err },
	})
	e.Enqueue(appendItem("after"))

	err := <-errCh
	assert.Contains(t, err.Error(), "bad item")
	assert.Equal(t, []string{"after"}, snapshot(t, e), "queue keeps going")
}

func TestExecutor_SideEffectPostsResult(t *testing.T) {
	e := startExecutor(t)

	e.Enqueue(&ItemFunc[*testState]{
		ApplyFunc: func(s *testState, _ Poster[*testState]) (*testState, SideEffect[*testState], error) {
			s.values = append(s.values, "scheduled")
			return s, func(ctx context.Context, post Poster[*testState]) error {
				post(appendItem("async-result"))
				return nil
			}, nil
		},
	})
	waitIdle(t, e)

	assert.Equal(t, []string{"scheduled", "async-result"}, snapshot(t, e))
}

func TestExecutor_SideEffectErrorIsUnexpectedAsyncError(t *testing.T) {
	e := startExecutor(t)

	errCh := make(chan error, 1)
	e.Enqueue(&ItemFunc[*testState]{
		ApplyFunc: func(s *testState, _ Poster[*testState]) (*testState, SideEffect[*testState], error) {
			s.values = append(s.values, "kept")
			return s, func(context.Context, Poster[*testState]) error {
				return errors.New("network down")
			}, nil
		},
		OnError:      func(err error, _ Poster[*testState]) { t.Errorf("sync hook called: %v", err) },
		OnAsyncError: func(err error, _ Poster[*testState]) { errCh <- err },
	})

	select {
	case err := <-errCh:
		assert.EqualError(t, err, "network down")
	case <-time.After(2 * time.Second):
		t.Fatal("async error hook not called")
	}
	assert.Equal(t, []string{"kept"}, snapshot(t, e), "state from apply is kept")
}

func TestExecutor_StopAnswersQueuedItems(t *testing.T) {
	e := New(&testState{}, WithLogger(quietLogger()))

	applied := false
	var stoppedErrs []error
	var mu sync.Mutex
	record := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		stoppedErrs = append(stoppedErrs, err)
	}

	// Queue everything before the loop starts so ordering is fixed.
	e.Enqueue(appendItem("before"))
	e.Enqueue(stopItem())
	for i := 0; i < 3; i++ {
		e.Enqueue(&ItemFunc[*testState]{
			ApplyFunc: func(s *testState, _ Poster[*testState]) (*testState, SideEffect[*testState], error) {
				applied = true
				return s, nil, nil
			},
			OnStopped: record,
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = e.Run(ctx) }()
	waitIdle(t, e)

	assert.False(t, applied, "apply never runs after stop")
	assert.True(t, e.Stopped())
	mu.Lock()
	require.Len(t, stoppedErrs, 3)
	for _, err := range stoppedErrs {
		assert.True(t, IsStoppedError(err))
		assert.ErrorIs(t, err, ErrStopped)
	}
	mu.Unlock()
}

func TestExecutor_EnqueueAfterStopAnswersImmediately(t *testing.T) {
	e := startExecutor(t)
	e.Enqueue(stopItem())
	waitIdle(t, e)

	var got error
	e.Enqueue(&ItemFunc[*testState]{
		ApplyFunc: func(s *testState, _ Poster[*testState]) (*testState, SideEffect[*testState], error) {
			t.Error("apply must not run")
			return s, nil, nil
		},
		OnStopped: func(err error) { got = err },
	})

	// Answered synchronously on the calling goroutine.
	assert.ErrorIs(t, got, ErrStopped)
	assert.Equal(t, 0, e.QueueLen())
}

func TestExecutor_SideEffectResultDiscardedAfterStop(t *testing.T) {
	e := startExecutor(t)

	release := make(chan struct{})
	stoppedErr := make(chan error, 1)
	e.Enqueue(&ItemFunc[*testState]{
		ApplyFunc: func(s *testState, _ Poster[*testState]) (*testState, SideEffect[*testState], error) {
			return s, func(ctx context.Context, post Poster[*testState]) error {
				<-release
				post(&ItemFunc[*testState]{
					ApplyFunc: func(s *testState, _ Poster[*testState]) (*testState, SideEffect[*testState], error) {
						t.Error("late result must not be applied")
						return s, nil, nil
					},
					OnStopped: func(err error) { stoppedErr <- err },
				})
				return nil
			}, nil
		},
	})
	e.Enqueue(stopItem())
	for !e.Stopped() {
		time.Sleep(time.Millisecond)
	}
	close(release)

	select {
	case err := <-stoppedErr:
		assert.True(t, IsStoppedError(err))
	case <-time.After(2 * time.Second):
		t.Fatal("late result not answered")
	}
}

func TestExecutor_RunCancelAnswersRemainingItems(t *testing.T) {
	e := New(&testState{}, WithLogger(quietLogger()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := make(chan error, 1)
	e.Enqueue(&ItemFunc[*testState]{OnStopped: func(err error) { got <- err }})

	err := e.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	// The item was queued before Run and may either be processed first or
	// answered on shutdown; a cancelled context answers it as stopped only
	// if it was not dequeued.
	select {
	case err := <-got:
		assert.True(t, IsStoppedError(err))
	default:
	}

	var late error
	e.Enqueue(&ItemFunc[*testState]{OnStopped: func(err error) { late = err }})
	assert.ErrorIs(t, late, ErrStopped)
}

func TestExecutor_WaitIdleRespectsContext(t *testing.T) {
	e := New(&testState{}, WithLogger(quietLogger()))
	e.Enqueue(appendItem("never processed"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.WaitIdle(ctx), context.DeadlineExceeded)
}

func TestExecutor_OnCommitSeesCommittedStatesOnly(t *testing.T) {
	e := New(&testState{}, WithLogger(quietLogger()))
	var committed [][]string
	e.OnCommit(func(s *testState) {
		committed = append(committed, append([]string(nil), s.values...))
	})

	e.Enqueue(appendItem("a"))
	e.Enqueue(&ItemFunc[*testState]{
		Name: "fails",
		ApplyFunc: func(s *testState, _ Poster[*testState]) (*testState, SideEffect[*testState], error) {
			s.values = append(s.values, "discarded")
			return s, nil, errors.New("nope")
		},
	})
	e.Enqueue(appendItem("b"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()
	waitIdle(t, e)
	cancel()
	<-done

	assert.Equal(t, [][]string{{"a"}, {"a", "b"}}, committed)
}
