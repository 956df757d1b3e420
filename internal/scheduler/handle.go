package scheduler

import (
	"context"
	"fmt"

	"github.com/verwatch/verwatch/internal/check"
)

// Handle lets a submitter observe the eventual outcome of a task. All
// submitters of one live task identity share the same Handle, so every
// caller sees the same terminal result.
type Handle struct {
	key    check.TaskKey
	done   chan struct{}
	result check.Result
}

func newHandle(key check.TaskKey) *Handle {
	return &Handle{key: key, done: make(chan struct{})}
}

// Key returns the task identity the handle observes.
func (h *Handle) Key() check.TaskKey {
	return h.key
}

// Done is closed once the task reaches a terminal state.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result returns the terminal outcome. ok is false while the task is live.
func (h *Handle) Result() (check.Result, bool) {
	select {
	case <-h.done:
		return h.result, true
	default:
		return check.Result{}, false
	}
}

// Wait blocks until the task finishes or the context ends.
func (h *Handle) Wait(ctx context.Context) (check.Result, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return check.Result{}, fmt.Errorf("wait for %s: %w", h.key, ctx.Err())
	}
}

// finish records the result and releases waiters. Called at most once.
func (h *Handle) finish(result check.Result) {
	h.result = result
	close(h.done)
}
