package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verwatch/verwatch/internal/check"
	"github.com/verwatch/verwatch/internal/registry"
)

type checkerFunc func(ctx context.Context, packageID string, spec check.SourceSpec) (check.VersionInfo, error)

func (f checkerFunc) Check(ctx context.Context, packageID string, spec check.SourceSpec) (check.VersionInfo, error) {
	return f(ctx, packageID, spec)
}

type captureSink struct {
	mu      sync.Mutex
	results []check.Result
}

func (s *captureSink) Publish(r check.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
}

func (s *captureSink) all() []check.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]check.Result, len(s.results))
	copy(out, s.results)
	return out
}

func stubSpec() check.SourceSpec {
	return check.SourceSpec{Kind: "stub", URL: "https://upstream.test/pkg"}
}

func closeScheduler(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Close(ctx))
}

func TestSubmitDedupesLiveTasks(t *testing.T) {
	var invocations atomic.Int64
	gate := make(chan struct{})
	reg := registry.New()
	reg.Register("stub", checkerFunc(func(ctx context.Context, _ string, _ check.SourceSpec) (check.VersionInfo, error) {
		invocations.Add(1)
		select {
		case <-gate:
		case <-ctx.Done():
			return check.VersionInfo{}, ctx.Err()
		}
		return check.VersionInfo{Version: "1.2.0", Normalized: "1.2.0"}, nil
	}))
	sink := &captureSink{}
	s := New(reg, sink, WithSlots(4))
	defer closeScheduler(t, s)

	h1, err := s.Submit("ripgrep", stubSpec(), check.PriorityNormal)
	require.NoError(t, err)
	h2, err := s.Submit("ripgrep", stubSpec(), check.PriorityNormal)
	require.NoError(t, err)
	h3, err := s.Submit("ripgrep", stubSpec(), check.PriorityHigh)
	require.NoError(t, err)

	assert.Same(t, h1, h2)
	assert.Same(t, h1, h3)

	close(gate)
	res, err := h1.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "1.2.0", res.Version.Version)
	assert.EqualValues(t, 1, invocations.Load())

	require.Eventually(t, func() bool {
		return len(sink.all()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConcurrencyNeverExceedsSlots(t *testing.T) {
	const slots = 3
	const burst = 5 * slots

	var current, peak atomic.Int64
	reg := registry.New()
	reg.Register("stub", checkerFunc(func(ctx context.Context, _ string, _ check.SourceSpec) (check.VersionInfo, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		current.Add(-1)
		return check.VersionInfo{Version: "1.0.0"}, nil
	}))
	sink := &captureSink{}
	s := New(reg, sink, WithSlots(slots))
	defer closeScheduler(t, s)

	handles := make([]*Handle, 0, burst)
	for i := 0; i < burst; i++ {
		h, err := s.Submit("pkg-"+string(rune('a'+i)), stubSpec(), check.PriorityNormal)
		require.NoError(t, err)
		handles = append(handles, h)
	}
	for _, h := range handles {
		_, err := h.Wait(context.Background())
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, peak.Load(), int64(slots))
	assert.Len(t, sink.all(), burst)
}

func TestHighPriorityDispatchesFirst(t *testing.T) {
	var mu sync.Mutex
	var order []string
	gate := make(chan struct{})
	reg := registry.New()
	reg.Register("stub", checkerFunc(func(ctx context.Context, packageID string, _ check.SourceSpec) (check.VersionInfo, error) {
		if packageID == "blocker" {
			<-gate
		}
		mu.Lock()
		order = append(order, packageID)
		mu.Unlock()
		return check.VersionInfo{Version: "1.0.0"}, nil
	}))
	sink := &captureSink{}
	s := New(reg, sink, WithSlots(1))
	defer closeScheduler(t, s)

	hb, err := s.Submit("blocker", stubSpec(), check.PriorityNormal)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		state, ok := s.Status(hb.Key())
		return ok && state == check.TaskRunning
	}, 2*time.Second, 5*time.Millisecond)

	hLow, err := s.Submit("low", stubSpec(), check.PriorityLow)
	require.NoError(t, err)
	hHigh, err := s.Submit("high", stubSpec(), check.PriorityHigh)
	require.NoError(t, err)

	close(gate)
	for _, h := range []*Handle{hb, hHigh, hLow} {
		_, err := h.Wait(context.Background())
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"blocker", "high", "low"}, order)
}

func TestTimeoutsRetriedUntilSuccess(t *testing.T) {
	var invocations atomic.Int64
	reg := registry.New()
	reg.Register("stub", checkerFunc(func(ctx context.Context, _ string, _ check.SourceSpec) (check.VersionInfo, error) {
		if invocations.Add(1) <= 3 {
			return check.VersionInfo{}, check.NewError(check.KindTimeout, "stub.check", "deadline exceeded")
		}
		return check.VersionInfo{Version: "2.3.0", Normalized: "2.3.0"}, nil
	}))
	policy := check.DefaultRetryPolicy().Override(check.KindTimeout, check.RetryRule{
		Retryable:   true,
		MaxAttempts: 4,
		BaseDelay:   time.Millisecond,
		Multiplier:  2,
		MaxDelay:    10 * time.Millisecond,
	})
	sink := &captureSink{}
	s := New(reg, sink, WithSlots(2), WithRetryPolicy(policy))
	defer closeScheduler(t, s)

	h, err := s.Submit("flaky", stubSpec(), check.PriorityNormal)
	require.NoError(t, err)
	res, err := h.Wait(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "2.3.0", res.Version.Version)
	assert.Equal(t, 4, res.Attempts)
	assert.EqualValues(t, 4, invocations.Load())
	require.Len(t, sink.all(), 1)
}

func TestNotFoundNeverRetried(t *testing.T) {
	var invocations atomic.Int64
	reg := registry.New()
	reg.Register("stub", checkerFunc(func(ctx context.Context, _ string, _ check.SourceSpec) (check.VersionInfo, error) {
		invocations.Add(1)
		return check.VersionInfo{}, check.NewError(check.KindNotFound, "stub.check", "package gone upstream")
	}))
	sink := &captureSink{}
	s := New(reg, sink, WithSlots(2))
	defer closeScheduler(t, s)

	h, err := s.Submit("gone", stubSpec(), check.PriorityNormal)
	require.NoError(t, err)
	res, err := h.Wait(context.Background())
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, check.KindNotFound, res.ErrKind)
	assert.Equal(t, 1, res.Attempts)
	assert.EqualValues(t, 1, invocations.Load())
}

func TestUnknownKindFailsAsConfiguration(t *testing.T) {
	sink := &captureSink{}
	s := New(registry.New(), sink, WithSlots(1))
	defer closeScheduler(t, s)

	h, err := s.Submit("pkg", check.SourceSpec{Kind: "nope", URL: "https://upstream.test"}, check.PriorityNormal)
	require.NoError(t, err)
	res, err := h.Wait(context.Background())
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, check.KindConfiguration, res.ErrKind)
	assert.Equal(t, 1, res.Attempts)
}

func TestCancelPendingSkipsInvocation(t *testing.T) {
	var invoked sync.Map
	gate := make(chan struct{})
	reg := registry.New()
	reg.Register("stub", checkerFunc(func(ctx context.Context, packageID string, _ check.SourceSpec) (check.VersionInfo, error) {
		invoked.Store(packageID, true)
		if packageID == "blocker" {
			<-gate
		}
		return check.VersionInfo{Version: "1.0.0"}, nil
	}))
	sink := &captureSink{}
	s := New(reg, sink, WithSlots(1))
	defer closeScheduler(t, s)

	hb, err := s.Submit("blocker", stubSpec(), check.PriorityNormal)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		state, ok := s.Status(hb.Key())
		return ok && state == check.TaskRunning
	}, 2*time.Second, 5*time.Millisecond)

	hp, err := s.Submit("parked", stubSpec(), check.PriorityNormal)
	require.NoError(t, err)
	require.True(t, s.Cancel(hp.Key()))

	res, err := hp.Wait(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 0, res.Attempts)
	_, ran := invoked.Load("parked")
	assert.False(t, ran)

	close(gate)
	_, err = hb.Wait(context.Background())
	require.NoError(t, err)

	// only the blocker reaches the sink; cancellations publish nothing
	require.Eventually(t, func() bool {
		return len(sink.all()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCancelRunningReleasesSlot(t *testing.T) {
	reg := registry.New()
	reg.Register("stub", checkerFunc(func(ctx context.Context, packageID string, _ check.SourceSpec) (check.VersionInfo, error) {
		if packageID == "stuck" {
			<-ctx.Done()
			return check.VersionInfo{}, ctx.Err()
		}
		return check.VersionInfo{Version: "1.0.0"}, nil
	}))
	sink := &captureSink{}
	s := New(reg, sink, WithSlots(1))
	defer closeScheduler(t, s)

	hs, err := s.Submit("stuck", stubSpec(), check.PriorityNormal)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		state, ok := s.Status(hs.Key())
		return ok && state == check.TaskRunning
	}, 2*time.Second, 5*time.Millisecond)

	require.True(t, s.Cancel(hs.Key()))
	res, err := hs.Wait(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Success)

	// the freed slot must let the next task run to completion
	hn, err := s.Submit("next", stubSpec(), check.PriorityNormal)
	require.NoError(t, err)
	next, err := hn.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, next.Success)
}

func TestResubmitAfterTerminalStartsFresh(t *testing.T) {
	var invocations atomic.Int64
	reg := registry.New()
	reg.Register("stub", checkerFunc(func(ctx context.Context, _ string, _ check.SourceSpec) (check.VersionInfo, error) {
		invocations.Add(1)
		return check.VersionInfo{Version: "1.0.0"}, nil
	}))
	sink := &captureSink{}
	s := New(reg, sink, WithSlots(1))
	defer closeScheduler(t, s)

	h1, err := s.Submit("pkg", stubSpec(), check.PriorityNormal)
	require.NoError(t, err)
	_, err = h1.Wait(context.Background())
	require.NoError(t, err)

	h2, err := s.Submit("pkg", stubSpec(), check.PriorityNormal)
	require.NoError(t, err)
	assert.NotSame(t, h1, h2)
	_, err = h2.Wait(context.Background())
	require.NoError(t, err)

	assert.EqualValues(t, 2, invocations.Load())
	assert.Len(t, sink.all(), 2)
}

func TestCancelAllSuppressesRetries(t *testing.T) {
	var invocations atomic.Int64
	reg := registry.New()
	reg.Register("stub", checkerFunc(func(ctx context.Context, _ string, _ check.SourceSpec) (check.VersionInfo, error) {
		invocations.Add(1)
		return check.VersionInfo{}, check.NewError(check.KindNetwork, "stub.check", "connection refused")
	}))
	policy := check.DefaultRetryPolicy().Override(check.KindNetwork, check.RetryRule{
		Retryable:   true,
		MaxAttempts: 10,
		BaseDelay:   50 * time.Millisecond,
		Multiplier:  2,
		MaxDelay:    time.Second,
	})
	sink := &captureSink{}
	s := New(reg, sink, WithSlots(2), WithRetryPolicy(policy))
	defer closeScheduler(t, s)

	h, err := s.Submit("flappy", stubSpec(), check.PriorityNormal)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		state, ok := s.Status(h.Key())
		return ok && state == check.TaskRetrying
	}, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, 1, s.CancelAll())
	require.Equal(t, 0, s.CancelAll())

	res, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Success)

	seen := invocations.Load()
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, seen, invocations.Load())
	assert.Empty(t, sink.all())
}

func TestSubmitAfterCloseFails(t *testing.T) {
	s := New(registry.New(), &captureSink{})
	closeScheduler(t, s)

	_, err := s.Submit("pkg", stubSpec(), check.PriorityNormal)
	require.Error(t, err)
}

func TestSubmitValidatesIdentity(t *testing.T) {
	s := New(registry.New(), &captureSink{})
	defer closeScheduler(t, s)

	_, err := s.Submit("", stubSpec(), check.PriorityNormal)
	require.Error(t, err)
	_, err = s.Submit("pkg", check.SourceSpec{URL: "https://upstream.test"}, check.PriorityNormal)
	require.Error(t, err)
}
