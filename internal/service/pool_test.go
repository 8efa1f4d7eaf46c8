package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPoolBoundsParallelism(t *testing.T) {
	p := NewWorkerPool(2, discardLogger())

	var (
		running, peak atomic.Int32
		wg            sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		err := p.Submit(func(context.Context) {
			defer wg.Done()
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
		}, nil)
		require.NoError(t, err)
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
	require.NoError(t, p.Close(t.Context()))
}

func TestWorkerPoolCloseAbortsQueuedWork(t *testing.T) {
	p := NewWorkerPool(1, discardLogger())

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(func(context.Context) {
		close(started)
		<-release
	}, nil))
	<-started

	aborted := make(chan error, 1)
	var ran atomic.Bool
	require.NoError(t, p.Submit(func(context.Context) { ran.Store(true) }, func(err error) { aborted <- err }))

	closed := make(chan error, 1)
	go func() { closed <- p.Close(context.Background()) }()

	select {
	case err := <-aborted:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("queued work was not aborted")
	}

	close(release)
	require.NoError(t, <-closed)
	assert.False(t, ran.Load())

	assert.ErrorIs(t, p.Submit(func(context.Context) {}, nil), ErrClosed)
}

func TestWorkerPoolCloseTimesOut(t *testing.T) {
	p := NewWorkerPool(1, discardLogger())
	release := make(chan struct{})
	defer close(release)
	require.NoError(t, p.Submit(func(context.Context) { <-release }, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Close(ctx), context.DeadlineExceeded)
}

func TestWorkerPoolRecoversPanics(t *testing.T) {
	p := NewWorkerPool(1, discardLogger())
	aborted := make(chan error, 1)
	require.NoError(t, p.Submit(func(context.Context) { panic("boom") }, func(err error) { aborted <- err }))

	select {
	case err := <-aborted:
		assert.Contains(t, err.Error(), "boom")
	case <-time.After(5 * time.Second):
		t.Fatal("panic not reported")
	}
	require.NoError(t, p.Close(t.Context()))
}
