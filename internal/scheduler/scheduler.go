// Package scheduler runs check tasks under a concurrency cap with
// priority-ordered dispatch, retry backoff, and cooperative cancellation.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/verwatch/verwatch/internal/check"
	"github.com/verwatch/verwatch/internal/clock/system"
	"github.com/verwatch/verwatch/internal/metrics"
	"github.com/verwatch/verwatch/internal/registry"
)

// DefaultSlots is the concurrency cap used when none is configured.
const DefaultSlots = 10

// Sink receives exactly one Result per completed task. Cancelled tasks
// never reach the sink; their handles still resolve.
type Sink interface {
	Publish(result check.Result)
}

// task is the internal lifecycle record for one live identity.
type task struct {
	key      check.TaskKey
	spec     check.SourceSpec
	priority check.Priority

	seq   uint64
	index int

	state     check.TaskState
	attempts  int
	cancelled bool
	cancel    context.CancelFunc
	timer     *time.Timer
	handle    *Handle
	submitted time.Time
}

// Scheduler owns the task table, the pending queue, and the slot pool.
// At most one live task exists per TaskKey; submissions for a live key
// join it instead of spawning a duplicate.
type Scheduler struct {
	registry *registry.Registry
	sink     Sink
	policy   *check.RetryPolicy
	clock    check.Clock
	logger   *zap.Logger

	baseCtx context.Context
	stop    context.CancelFunc

	mu     sync.Mutex
	tasks  map[check.TaskKey]*task
	queue  taskQueue
	seq    uint64
	closed bool

	slots    chan struct{}
	wake     chan struct{}
	wg       sync.WaitGroup
	loopDone chan struct{}
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithSlots sets the concurrency cap.
func WithSlots(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.slots = make(chan struct{}, n)
		}
	}
}

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p *check.RetryPolicy) Option {
	return func(s *Scheduler) {
		if p != nil {
			s.policy = p
		}
	}
}

// WithClock injects a clock for tests.
func WithClock(c check.Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// New builds a Scheduler and starts its dispatch loop.
func New(reg *registry.Registry, sink Sink, opts ...Option) *Scheduler {
	metrics.Init()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		registry: reg,
		sink:     sink,
		policy:   check.DefaultRetryPolicy(),
		clock:    system.Clock{},
		logger:   zap.NewNop(),
		baseCtx:  ctx,
		stop:     cancel,
		tasks:    make(map[check.TaskKey]*task),
		slots:    make(chan struct{}, DefaultSlots),
		wake:     make(chan struct{}, 1),
		loopDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.loop()
	return s
}

// Submit enqueues a check for the package's source. If a live task already
// exists for the same identity, the caller joins it and receives the shared
// handle; no duplicate work is scheduled. Once a task has finished, the next
// submission starts a fresh one.
func (s *Scheduler) Submit(packageID string, spec check.SourceSpec, priority check.Priority) (*Handle, error) {
	if packageID == "" || spec.Kind == "" {
		return nil, check.NewError(check.KindConfiguration, "scheduler.submit",
			"package id and source kind are required")
	}
	key := check.TaskKey{PackageID: packageID, SourceKind: spec.Kind}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("submit %s: scheduler is closed", key)
	}
	if existing, ok := s.tasks[key]; ok {
		h := existing.handle
		s.mu.Unlock()
		s.logger.Debug("joined live task", zap.String("task", key.String()))
		return h, nil
	}
	s.seq++
	t := &task{
		key:       key,
		spec:      spec,
		priority:  priority,
		seq:       s.seq,
		state:     check.TaskPending,
		handle:    newHandle(key),
		submitted: s.clock.Now(),
	}
	s.tasks[key] = t
	s.queue.push(t)
	metrics.SetQueueDepth(s.queue.Len())
	s.mu.Unlock()

	s.logger.Debug("task queued",
		zap.String("task", key.String()),
		zap.String("priority", priority.String()),
	)
	s.signalWake()
	return t.handle, nil
}

// Status reports the state of the live task for key, if one exists.
func (s *Scheduler) Status(key check.TaskKey) (check.TaskState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[key]
	if !ok {
		return "", false
	}
	return t.state, true
}

// Cancel stops the live task for key. Pending and retrying tasks resolve
// immediately without another checker invocation; running tasks get their
// context cancelled and resolve when the attempt returns. Returns false when
// no live task exists.
func (s *Scheduler) Cancel(key check.TaskKey) bool {
	s.mu.Lock()
	t, ok := s.tasks[key]
	if !ok {
		s.mu.Unlock()
		return false
	}
	cancelled := s.cancelLocked(t)
	metrics.SetQueueDepth(s.queue.Len())
	s.mu.Unlock()
	if cancelled {
		s.logger.Info("task cancelled", zap.String("task", key.String()))
	}
	return cancelled
}

// CancelAll cancels every live task and returns how many it touched.
// Pending retries are suppressed. Safe to call repeatedly.
func (s *Scheduler) CancelAll() int {
	s.mu.Lock()
	live := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		live = append(live, t)
	}
	n := 0
	for _, t := range live {
		if s.cancelLocked(t) {
			n++
		}
	}
	metrics.SetQueueDepth(s.queue.Len())
	s.mu.Unlock()
	if n > 0 {
		s.logger.Info("cancelled all tasks", zap.Int("count", n))
	}
	return n
}

// cancelLocked transitions one task toward cancelled. Caller holds mu.
func (s *Scheduler) cancelLocked(t *task) bool {
	switch t.state {
	case check.TaskPending:
		s.queue.remove(t)
		s.finalizeLocked(t, check.TaskCancelled, s.cancelledResult(t))
		return true
	case check.TaskRetrying:
		if t.timer != nil {
			t.timer.Stop()
			t.timer = nil
		}
		s.finalizeLocked(t, check.TaskCancelled, s.cancelledResult(t))
		return true
	case check.TaskRunning:
		if t.cancelled {
			return false
		}
		t.cancelled = true
		if t.cancel != nil {
			t.cancel()
		}
		return true
	default:
		return false
	}
}

// Close cancels everything and waits for in-flight attempts to finish or
// for ctx to expire. The scheduler accepts no submissions afterwards.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	already := s.closed
	s.closed = true
	s.mu.Unlock()

	s.CancelAll()
	s.stop()
	if already {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("scheduler close: %w", ctx.Err())
	}
	<-s.loopDone
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop() {
	defer close(s.loopDone)
	for {
		select {
		case <-s.baseCtx.Done():
			return
		case <-s.wake:
		}
		s.dispatch()
	}
}

// dispatch starts attempts while a free slot and a queued task both exist.
// The slot is reserved before popping so a task never leaves the queue
// without the capacity to run.
func (s *Scheduler) dispatch() {
	for {
		if s.baseCtx.Err() != nil {
			return
		}
		select {
		case s.slots <- struct{}{}:
		default:
			return
		}

		s.mu.Lock()
		t := s.queue.pop()
		if t == nil {
			s.mu.Unlock()
			<-s.slots
			return
		}
		t.state = check.TaskRunning
		t.attempts++
		attempt := t.attempts
		ctx, cancel := context.WithCancel(s.baseCtx)
		t.cancel = cancel
		metrics.SetQueueDepth(s.queue.Len())
		s.mu.Unlock()

		s.wg.Add(1)
		go s.runAttempt(ctx, cancel, t, attempt)
	}
}

// runAttempt performs one checker invocation. The held slot is released
// before any retry is scheduled, so backoff waits never starve dispatch.
func (s *Scheduler) runAttempt(ctx context.Context, cancel context.CancelFunc, t *task, attempt int) {
	defer s.wg.Done()
	defer cancel()

	released := false
	release := func() {
		if released {
			return
		}
		released = true
		<-s.slots
		metrics.DecInflight()
		s.signalWake()
	}
	defer release()

	metrics.IncInflight()
	metrics.ObserveAttempt(t.key.SourceKind)
	s.logger.Debug("attempt started",
		zap.String("task", t.key.String()),
		zap.Int("attempt", attempt),
	)

	var info check.VersionInfo
	checker, err := s.registry.Resolve(t.key.SourceKind)
	if err == nil {
		info, err = checker.Check(ctx, t.key.PackageID, t.spec)
	}
	release()

	if err != nil {
		s.handleFailure(t, err, attempt)
		return
	}
	s.complete(t, info, attempt)
}

func (s *Scheduler) complete(t *task, info check.VersionInfo, attempts int) {
	s.mu.Lock()
	if t.state.Terminal() {
		s.mu.Unlock()
		return
	}
	if t.cancelled {
		s.finalizeLocked(t, check.TaskCancelled, s.cancelledResult(t))
		s.mu.Unlock()
		return
	}
	res := check.Result{
		PackageID:  t.key.PackageID,
		SourceKind: t.key.SourceKind,
		Success:    true,
		Version:    info,
		Attempts:   attempts,
		FetchedAt:  s.clock.Now(),
	}
	s.finalizeLocked(t, check.TaskSucceeded, res)
	s.mu.Unlock()

	metrics.ObserveCheck(t.key.SourceKind, "success")
	s.sink.Publish(res)
	s.logger.Info("check succeeded",
		zap.String("task", t.key.String()),
		zap.String("version", info.Version),
		zap.Int("attempts", attempts),
	)
}

func (s *Scheduler) handleFailure(t *task, err error, attempts int) {
	kind := check.Classify(err)

	s.mu.Lock()
	if t.state.Terminal() {
		s.mu.Unlock()
		return
	}
	if t.cancelled || s.closed {
		s.finalizeLocked(t, check.TaskCancelled, s.cancelledResult(t))
		s.mu.Unlock()
		return
	}
	if s.policy.ShouldRetry(kind, attempts) {
		t.state = check.TaskRetrying
		t.cancel = nil
		delay := s.policy.Delay(kind, attempts)
		key := t.key
		t.timer = time.AfterFunc(delay, func() { s.requeue(key) })
		s.mu.Unlock()

		metrics.ObserveRetry(string(kind))
		s.logger.Warn("attempt failed, retrying",
			zap.String("task", key.String()),
			zap.String("kind", string(kind)),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		return
	}
	res := check.Result{
		PackageID:  t.key.PackageID,
		SourceKind: t.key.SourceKind,
		ErrKind:    kind,
		Message:    err.Error(),
		Attempts:   attempts,
		FetchedAt:  s.clock.Now(),
	}
	s.finalizeLocked(t, check.TaskFailed, res)
	s.mu.Unlock()

	metrics.ObserveCheck(t.key.SourceKind, "failure")
	s.sink.Publish(res)
	s.logger.Error("check failed",
		zap.String("task", t.key.String()),
		zap.String("kind", string(kind)),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
}

// requeue moves a retrying task back to pending once its backoff elapses.
func (s *Scheduler) requeue(key check.TaskKey) {
	s.mu.Lock()
	t, ok := s.tasks[key]
	if !ok || t.state != check.TaskRetrying || s.closed {
		s.mu.Unlock()
		return
	}
	t.timer = nil
	t.state = check.TaskPending
	s.queue.push(t)
	metrics.SetQueueDepth(s.queue.Len())
	s.mu.Unlock()
	s.signalWake()
}

// finalizeLocked records the terminal state, retires the identity so a
// later submission starts fresh, and resolves the shared handle. Cancelled
// results are visible on the handle but never published. Caller holds mu.
func (s *Scheduler) finalizeLocked(t *task, state check.TaskState, res check.Result) {
	t.state = state
	t.cancel = nil
	delete(s.tasks, t.key)
	t.handle.finish(res)
	if state == check.TaskCancelled {
		metrics.ObserveCheck(t.key.SourceKind, "cancelled")
	}
}

func (s *Scheduler) cancelledResult(t *task) check.Result {
	return check.Result{
		PackageID:  t.key.PackageID,
		SourceKind: t.key.SourceKind,
		Message:    "cancelled",
		Attempts:   t.attempts,
		FetchedAt:  s.clock.Now(),
	}
}
