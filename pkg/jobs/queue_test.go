package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPoolRunsTasksSubmittedBeforeStart(t *testing.T) {
	done := make(chan Task, 4)
	pool := NewPool("test", func(_ context.Context, task Task) error {
		done <- task
		return nil
	}, PoolConfig{Workers: 1})

	require.NoError(t, pool.Submit(Task{JobID: "job-1", Kind: "test.kind"}))
	require.NoError(t, pool.Submit(Task{JobID: "job-2", Kind: "test.kind"}))

	pool.Start(context.Background())
	defer pool.Stop()

	for _, want := range []string{"job-1", "job-2"} {
		select {
		case task := <-done:
			require.Equal(t, want, task.JobID)
		case <-time.After(2 * time.Second):
			t.Fatalf("task %s never ran", want)
		}
	}
}

func TestPoolSubmitSaturated(t *testing.T) {
	pool := NewPool("test", func(context.Context, Task) error { return nil }, PoolConfig{Workers: 1, Depth: 1})

	require.NoError(t, pool.Submit(Task{JobID: "job-1"}))
	require.ErrorIs(t, pool.Submit(Task{JobID: "job-2"}), ErrQueueSaturated)
}

func TestPoolSubmitAfterStop(t *testing.T) {
	pool := NewPool("test", func(context.Context, Task) error { return nil }, PoolConfig{Workers: 1})
	pool.Stop()

	require.ErrorIs(t, pool.Submit(Task{JobID: "job-1"}), ErrQueueClosed)
}

func TestPoolRetriesUntilSuccess(t *testing.T) {
	var attempts int32
	done := make(chan struct{})
	pool := NewPool("test", func(context.Context, Task) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("transient")
		}
		close(done)
		return nil
	}, PoolConfig{Workers: 1, Retries: 3, Backoff: time.Millisecond})

	pool.Start(context.Background())
	defer pool.Stop()
	require.NoError(t, pool.Submit(Task{JobID: "job-1"}))

	select {
	case <-done:
		require.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	case <-time.After(2 * time.Second):
		t.Fatal("task never succeeded")
	}
}

func TestPoolGivesUpAfterRetries(t *testing.T) {
	var attempts int32
	pool := NewPool("test", func(context.Context, Task) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("permanent")
	}, PoolConfig{Workers: 1, Retries: 2, Backoff: time.Millisecond})

	pool.Start(context.Background())
	require.NoError(t, pool.Submit(Task{JobID: "job-1"}))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&attempts) == 3
	}, 2*time.Second, 5*time.Millisecond)
	pool.Stop()
	require.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}
