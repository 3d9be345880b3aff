package durable

import "sync"

// Queue is a buffered Source implementation for providers whose upstream is
// consumed by a reader goroutine (SSE bodies, SDK iterators). The reader
// pushes events; PollNext drains whatever has accumulated.
type Queue[T any] struct {
	mu      sync.Mutex
	events  []T
	done    bool
	waiters []chan struct{}
	onClose func()
}

// NewQueue returns an empty queue. onClose, if non-nil, runs once when the
// queue is closed and should cancel the feeding goroutine.
func NewQueue[T any](onClose func()) *Queue[T] {
	return &Queue[T]{onClose: onClose}
}

// Push appends events and wakes subscribers.
func (q *Queue[T]) Push(events ...T) {
	if len(events) == 0 {
		return
	}
	q.mu.Lock()
	q.events = append(q.events, events...)
	q.notifyLocked()
	q.mu.Unlock()
}

// Finish marks the upstream as exhausted. Terminal events (finish or failure)
// should be pushed before calling Finish.
func (q *Queue[T]) Finish() {
	q.mu.Lock()
	q.done = true
	q.notifyLocked()
	q.mu.Unlock()
}

// PollNext drains the buffered events. After Finish it keeps returning
// (nil, false) once the buffer is empty.
func (q *Queue[T]) PollNext() ([]T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return nil, false
	}
	events := q.events
	q.events = nil
	return events, true
}

// Subscribe returns a notifier that fires when data is buffered or the
// upstream finished.
func (q *Queue[T]) Subscribe() Pollable {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch := make(chan struct{})
	if len(q.events) > 0 || q.done {
		close(ch)
		return chanPollable(ch)
	}
	q.waiters = append(q.waiters, ch)
	return chanPollable(ch)
}

// Close releases the upstream reader.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	onClose := q.onClose
	q.onClose = nil
	q.done = true
	q.notifyLocked()
	q.mu.Unlock()
	if onClose != nil {
		onClose()
	}
}

func (q *Queue[T]) notifyLocked() {
	for _, ch := range q.waiters {
		close(ch)
	}
	q.waiters = nil
}
