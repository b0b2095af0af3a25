package sync

import (
	"log/slog"
	gosync "sync"
)

// EvalQueue is a thread-safe set-based queue of mirrored paths waiting for a
// local rehash. Duplicates are dropped. Pop returns paths in FIFO order.
type EvalQueue struct {
	mu     gosync.Mutex
	set    map[string]struct{}
	order  []string
	notify chan struct{} // signaled when items are added
}

// NewEvalQueue creates a new queue.
func NewEvalQueue() *EvalQueue {
	return &EvalQueue{
		set:    make(map[string]struct{}),
		notify: make(chan struct{}, 1),
	}
}

// Push adds a path. Already queued paths are a no-op.
func (q *EvalQueue) Push(path string) {
	q.PushMany([]string{path})
}

// PushMany adds multiple paths to the queue.
func (q *EvalQueue) PushMany(paths []string) {
	q.mu.Lock()
	added := 0
	for _, path := range paths {
		if _, exists := q.set[path]; exists {
			continue
		}
		q.set[path] = struct{}{}
		q.order = append(q.order, path)
		added++
	}
	newLen := len(q.order)
	q.mu.Unlock()

	if logEnabled(slog.LevelDebug) {
		sub("queue").Debug("push", "requested", len(paths), "added", added, "queueLen", newLen)
	}

	if added > 0 {
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
}

// Pop removes and returns the next path. Blocks until a path is available
// or the done channel is closed. Returns ("", false) when done.
func (q *EvalQueue) Pop(done <-chan struct{}) (string, bool) {
	for {
		q.mu.Lock()
		if len(q.order) > 0 {
			path := q.order[0]
			q.order = q.order[1:]
			delete(q.set, path)
			q.mu.Unlock()
			return path, true
		}
		q.mu.Unlock()

		select {
		case <-done:
			return "", false
		case <-q.notify:
		}
	}
}

// Has checks if a path is currently queued.
func (q *EvalQueue) Has(path string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, exists := q.set[path]
	return exists
}

// Len returns the current queue size.
func (q *EvalQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Drain removes and returns all queued paths.
func (q *EvalQueue) Drain() []string {
	q.mu.Lock()
	result := q.order
	q.order = nil
	q.set = make(map[string]struct{})
	q.mu.Unlock()
	return result
}
