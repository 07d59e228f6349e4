package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPoolRunsEveryItem(t *testing.T) {
	pool := NewWorkerPool(4, func(_ context.Context, item any) (any, error) {
		n := item.(int)
		return n * 2, nil
	})
	defer pool.Close()

	resultCh := make(chan outcome, 10)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(ctx, i, resultCh))
	}

	total := 0
	for i := 0; i < 10; i++ {
		res := <-resultCh
		require.NoError(t, res.err)
		total += res.result.(int)
	}
	assert.Equal(t, 90, total) // 2*(0+1+...+9)
}

func TestWorkerPoolSubmitAfterCloseFails(t *testing.T) {
	pool := NewWorkerPool(1, func(_ context.Context, item any) (any, error) { return item, nil })
	pool.Close()

	err := pool.Submit(context.Background(), 1, make(chan outcome, 1))
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestWorkerPoolSubmitRespectsContextCancellation(t *testing.T) {
	pool := NewWorkerPool(1, func(ctx context.Context, item any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	resultCh := make(chan outcome, 2)
	require.NoError(t, pool.Submit(ctx, 1, resultCh)) // occupies the only worker

	cancel()
	err := pool.Submit(ctx, 2, resultCh)
	assert.True(t, err == nil || errors.Is(err, context.Canceled))
}

func TestWorkerPoolCloseWaitsForInFlightWork(t *testing.T) {
	pool := NewWorkerPool(2, func(_ context.Context, item any) (any, error) {
		time.Sleep(20 * time.Millisecond)
		return item, nil
	})

	resultCh := make(chan outcome, 2)
	ctx := context.Background()
	require.NoError(t, pool.Submit(ctx, 1, resultCh))
	require.NoError(t, pool.Submit(ctx, 2, resultCh))

	start := time.Now()
	pool.Close()
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}
