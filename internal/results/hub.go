// Package results moves terminal check outcomes from worker goroutines to a
// single consumer goroutine, preserving publish order and delivering each
// result exactly once.
package results

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/verwatch/verwatch/internal/check"
)

// Config controls buffering and delivery for the Hub.
//   - BufferSize: size of the internal channel (default 1024).
//   - SinkTimeout: per-sink timeout for each delivery (default 10s).
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	BufferSize  int
	SinkTimeout time.Duration
	BaseContext context.Context
	Logger      *zap.Logger
}

const (
	defaultBufferSize  = 1024
	defaultSinkTimeout = 10 * time.Second
)

// Handler observes each result on the consumer goroutine, before any sinks.
// It is the hand-off point for state that must never be mutated concurrently.
type Handler func(result check.Result)

// Hub serializes result delivery. Producers call Publish from any goroutine;
// one background goroutine drains the buffer and invokes the handler and the
// sinks one result at a time, in publish order.
type Hub struct {
	cfg     Config
	handler Handler
	sinks   []Sink
	results chan check.Result
	stopCh  chan struct{}
	doneCh  chan struct{}
	logger  *zap.Logger

	closeOnce sync.Once
}

// NewHub starts the consumer goroutine and returns a Hub ready for Publish.
// handler may be nil when only sinks are wired.
func NewHub(cfg Config, handler Handler, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:     cfg,
		handler: handler,
		sinks:   append([]Sink(nil), sinks...),
		results: make(chan check.Result, cfg.BufferSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		logger:  logger,
	}
	go h.run()
	return h
}

// Publish enqueues a result for delivery. Each published result is delivered
// exactly once, so Publish blocks if the buffer is full rather than dropping.
// Results published after Close begins are discarded with a warning.
func (h *Hub) Publish(result check.Result) {
	if h == nil {
		return
	}
	select {
	case <-h.stopCh:
		h.logger.Warn("result discarded after shutdown",
			zap.String("task", result.Key().String()))
		return
	default:
	}
	select {
	case h.results <- result:
	case <-h.stopCh:
		h.logger.Warn("result discarded after shutdown",
			zap.String("task", result.Key().String()))
	}
}

// Close drains buffered results, closes the sinks, and blocks until the
// consumer goroutine exits. Safe to call multiple times.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("result hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	for {
		select {
		case result := <-h.results:
			h.deliver(result)
		case <-h.stopCh:
			h.drain()
			h.closeSinks()
			return
		}
	}
}

// drain delivers whatever was buffered before shutdown began.
func (h *Hub) drain() {
	for {
		select {
		case result := <-h.results:
			h.deliver(result)
		default:
			return
		}
	}
}

func (h *Hub) deliver(result check.Result) {
	if h.handler != nil {
		h.handler(result)
	}
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, result); err != nil {
			h.logger.Warn("result sink rejected delivery",
				zap.String("task", result.Key().String()),
				zap.Error(err),
			)
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("result sink close failed", zap.Error(err))
		}
		cancel()
	}
}
