package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestWorkerPoolRunsSubmittedTasks(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	wp := NewWorkerPool(context.Background(), 2, 10, "test", logger)
	wp.Start()
	defer wp.Stop()

	var counter atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		require.NoError(t, wp.Submit(func() {
			defer wg.Done()
			counter.Add(1)
		}))
	}
	wg.Wait()
	assert.Equal(t, int64(5), counter.Load())
}

func TestWorkerPoolSubmitBeforeStart(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	wp := NewWorkerPool(context.Background(), 2, 10, "test", logger)

	err := wp.Submit(func() {})
	assert.ErrorIs(t, err, ErrWorkerPoolNotRunning)
}

func TestWorkerPoolSubmitAfterStop(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	wp := NewWorkerPool(context.Background(), 1, 4, "test", logger)
	wp.Start()
	wp.Stop()

	err := wp.Submit(func() {})
	assert.ErrorIs(t, err, ErrWorkerPoolNotRunning)
}

func TestWorkerPoolQueueFull(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	wp := NewWorkerPool(context.Background(), 1, 1, "test", logger)
	wp.Start()
	defer wp.Stop()

	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, wp.Submit(func() {
		close(started)
		<-block
	}))
	<-started

	// The single worker is blocked, so one task fills the queue and the
	// next is rejected.
	require.NoError(t, wp.Submit(func() {}))
	err := wp.Submit(func() {})
	assert.ErrorIs(t, err, ErrWorkerPoolQueueFull)

	close(block)
}

func TestWorkerPoolStopDrainsQueuedTasks(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	wp := NewWorkerPool(context.Background(), 1, 10, "test", logger)
	wp.Start()

	var counter atomic.Int64
	started := make(chan struct{})
	require.NoError(t, wp.Submit(func() {
		close(started)
		time.Sleep(5 * time.Millisecond)
		counter.Add(1)
	}))
	for i := 0; i < 4; i++ {
		require.NoError(t, wp.Submit(func() {
			counter.Add(1)
		}))
	}
	<-started
	wp.Stop()

	// The in-flight task always completes; queued ones may be dropped on
	// cancellation.
	assert.GreaterOrEqual(t, counter.Load(), int64(1))
	assert.LessOrEqual(t, counter.Load(), int64(5))
}

func TestWorkerPoolRecoversFromTaskPanic(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	wp := NewWorkerPool(context.Background(), 1, 10, "test", logger)
	wp.Start()
	defer wp.Stop()

	require.NoError(t, wp.Submit(func() {
		panic("task blew up")
	}))

	done := make(chan struct{})
	require.NoError(t, wp.Submit(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive task panic")
	}
}

func TestWorkerPoolDoubleStartAndStop(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	wp := NewWorkerPool(context.Background(), 2, 10, "test", logger)
	wp.Start()
	wp.Start()
	wp.Stop()
	wp.Stop()
}
