package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	const numWorkers = 2
	p := NewPool(context.Background(), numWorkers)

	var inFlight, maxInFlight int32
	release := make(chan struct{})
	for i := 0; i < 6; i++ {
		p.Go(func(ctx context.Context) error {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				old := atomic.LoadInt32(&maxInFlight)
				if n <= old || atomic.CompareAndSwapInt32(&maxInFlight, old, n) {
					break
				}
			}
			<-release
			atomic.AddInt32(&inFlight, -1)
			return nil
		})
	}
	close(release)
	require.NoError(t, p.Wait())
	assert.LessOrEqual(t, maxInFlight, int32(numWorkers))
}

func TestPoolWaitReturnsFirstError(t *testing.T) {
	boom := errors.New("boom")
	p := NewPool(context.Background(), 4)
	p.Go(func(ctx context.Context) error { return boom })
	err := p.Wait()
	assert.ErrorIs(t, err, boom)
}

func TestRunAllFansOutAndWaits(t *testing.T) {
	var n int32
	err := RunAll(context.Background(), 4,
		func(ctx context.Context) error { atomic.AddInt32(&n, 1); return nil },
		func(ctx context.Context) error { atomic.AddInt32(&n, 1); return nil },
		func(ctx context.Context) error { atomic.AddInt32(&n, 1); return nil },
	)
	require.NoError(t, err)
	assert.Equal(t, int32(3), n)
}
