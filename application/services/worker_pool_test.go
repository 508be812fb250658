package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWorkerPool_RunsSubmittedTasks(t *testing.T) {
	// Arrange
	pool := NewWorkerPool(2, 8, zap.NewNop())
	pool.Start(context.Background(), 2)
	t.Cleanup(pool.Stop)

	var ran int32
	done := make(chan struct{})

	// Act
	ok := pool.Submit(context.Background(), func(context.Context) {
		atomic.AddInt32(&ran, 1)
		close(done)
	})

	// Assert
	require.True(t, ok)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
}

func TestWorkerPool_StopRunsQueuedTasks(t *testing.T) {
	// Arrange: a single worker held on a gate so later submissions queue up
	pool := NewWorkerPool(1, 8, zap.NewNop())
	pool.Start(context.Background(), 1)

	gate := make(chan struct{})
	started := make(chan struct{})
	require.True(t, pool.Submit(context.Background(), func(context.Context) {
		close(started)
		<-gate
	}))
	<-started

	var ran int32
	for i := 0; i < 4; i++ {
		require.True(t, pool.Submit(context.Background(), func(context.Context) {
			atomic.AddInt32(&ran, 1)
		}))
	}

	// Act: release the worker while Stop is waiting on it
	go func() {
		time.Sleep(10 * time.Millisecond)
		close(gate)
	}()
	pool.Stop()

	// Assert: every task queued before Stop ran before Stop returned
	assert.Equal(t, int32(4), atomic.LoadInt32(&ran))
}

func TestWorkerPool_SubmitAfterStopIsRejected(t *testing.T) {
	// Arrange
	pool := NewWorkerPool(1, 2, zap.NewNop())
	pool.Start(context.Background(), 1)
	pool.Stop()

	// Act
	ok := pool.Submit(context.Background(), func(context.Context) {})

	// Assert
	assert.False(t, ok)
}
