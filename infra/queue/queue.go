// Package queue hands values from the engine goroutine to publisher
// workers. Producers never block; a consumer drains whatever is queued
// and then waits for a signal or the next poll tick.
package queue

import (
	"context"
	"sync"
	"time"
)

// Queue is an unbounded multi-producer FIFO. Drain must be called from a
// single consumer at a time for ordering to hold.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
	ready chan struct{}
}

func New[T any]() *Queue[T] {
	return &Queue[T]{ready: make(chan struct{}, 1)}
}

// Push appends items in order and wakes the consumer.
func (q *Queue[T]) Push(items ...T) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, items...)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Drain removes and returns up to max items from the head (all if max <= 0).
func (q *Queue[T]) Drain(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	if n == 0 {
		return nil
	}
	if max > 0 && max < n {
		n = max
	}
	out := make([]T, n)
	copy(out, q.items[:n])

	var zero T
	for i := 0; i < n; i++ {
		q.items[i] = zero
	}
	q.items = q.items[n:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return out
}

// PushFront returns items to the head, ahead of anything queued since.
func (q *Queue[T]) PushFront(items ...T) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(append(make([]T, 0, len(items)+len(q.items)), items...), q.items...)
	q.mu.Unlock()
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Ready is signalled after a Push.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// DefaultPoll replaces a non-positive poll interval in Consume.
const DefaultPoll = time.Millisecond

// Consume drains q in chunks of up to max items and hands each chunk to fn.
// When fn fails the chunk goes back to the head of the queue and is
// retried on the next tick. Consume returns when ctx is done.
func Consume[T any](ctx context.Context, q *Queue[T], max int, poll time.Duration, fn func(context.Context, []T) error) {
	if poll <= 0 {
		poll = DefaultPoll
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		for {
			items := q.Drain(max)
			if len(items) == 0 {
				break
			}
			if err := fn(ctx, items); err != nil {
				q.PushFront(items...)
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-q.Ready():
		case <-ticker.C:
		}
	}
}
