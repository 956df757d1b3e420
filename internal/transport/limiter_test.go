package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHostLimiterThrottlesPerHost(t *testing.T) {
	t.Parallel()

	l := NewHostLimiter(10, 1)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Wait(ctx, "api.github.com"))
	}
	// 10 rps with burst 1 means two of the three calls wait ~100ms each.
	require.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestHostLimiterIndependentHosts(t *testing.T) {
	t.Parallel()

	l := NewHostLimiter(1, 1)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "pypi.org"))
	require.NoError(t, l.Wait(ctx, "registry.npmjs.org"))
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestHostLimiterRespectsContext(t *testing.T) {
	t.Parallel()

	l := NewHostLimiter(0.1, 1)
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "slow.example.com"))

	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "slow.example.com"))
}

func TestHostLimiterUnlimitedByDefault(t *testing.T) {
	t.Parallel()

	l := NewHostLimiter(0, 0)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(ctx, "fast.example.com"))
	}
	require.Less(t, time.Since(start), 100*time.Millisecond)
}
