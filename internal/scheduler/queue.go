package scheduler

import "container/heap"

// taskQueue orders pending tasks by priority, then arrival sequence.
// Resubmissions join the live task and never disturb its position, so
// dispatch order stays deterministic.
type taskQueue struct {
	items []*task
}

func (q *taskQueue) Len() int { return len(q.items) }

func (q *taskQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	return a.seq < b.seq
}

func (q *taskQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

func (q *taskQueue) Push(x any) {
	t := x.(*task)
	t.index = len(q.items)
	q.items = append(q.items, t)
}

func (q *taskQueue) Pop() any {
	old := q.items
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	q.items = old[:n-1]
	return t
}

// push enqueues a task.
func (q *taskQueue) push(t *task) {
	heap.Push(q, t)
}

// pop removes and returns the highest-priority task, or nil when empty.
func (q *taskQueue) pop() *task {
	if len(q.items) == 0 {
		return nil
	}
	return heap.Pop(q).(*task)
}

// remove detaches a queued task by its heap index.
func (q *taskQueue) remove(t *task) {
	if t.index < 0 || t.index >= len(q.items) || q.items[t.index] != t {
		return
	}
	heap.Remove(q, t.index)
}
