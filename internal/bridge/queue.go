package bridge

import "sync"

// taskQueue is an unbounded FIFO of callbacks for the event loop. Posting
// never blocks, so the loop may post to itself.
type taskQueue struct {
	mu    sync.Mutex
	tasks []func()
	ready chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{ready: make(chan struct{}, 1)}
}

func (q *taskQueue) post(f func()) {
	q.mu.Lock()
	q.tasks = append(q.tasks, f)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *taskQueue) drain() []func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	tasks := q.tasks
	q.tasks = nil
	return tasks
}
