package resource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_Concurrency(t *testing.T) {
	c := NewController(Config{MaxBackgroundWorkers: 2})

	// Acquire 2
	require.NoError(t, c.AcquireBackground(context.Background()))
	require.NoError(t, c.AcquireBackground(context.Background()))

	// A 3rd acquire blocks until a slot is released.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := c.AcquireBackground(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Release 1
	c.ReleaseBackground()

	// Now a 3rd acquire succeeds.
	require.NoError(t, c.AcquireBackground(context.Background()))
}

func TestController_IOLimitsThroughput(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 1000})
	require.NoError(t, c.AcquireIO(context.Background(), 500))

	c2 := NewController(Config{})
	require.NoError(t, c2.AcquireIO(context.Background(), 1<<30), "no IOLimitBytesPerSec configured means unlimited")
}
