// Package events carries the two event surfaces of the pipeline: the bounded
// queue that moves segment events off the audio thread, and the typed
// external event stream consumed by UIs and extensions.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// DefaultQueueCapacity is generous relative to the segment rate (one event
// every few seconds); overflow indicates a stalled consumer, not load.
const DefaultQueueCapacity = 256

// Queue is a bounded multi-producer single-consumer channel. Publish never
// blocks: on overflow the event is dropped and counted, because the audio
// thread must not stall on a slow consumer.
type Queue[T any] struct {
	ch        chan T
	overflow  atomic.Uint64
	closeOnce sync.Once
}

// NewQueue creates a queue with the given capacity (DefaultQueueCapacity
// when zero or negative).
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue[T]{ch: make(chan T, capacity)}
}

// Publish enqueues without blocking. Returns false when the event was
// dropped due to overflow.
func (q *Queue[T]) Publish(event T) bool {
	select {
	case q.ch <- event:
		return true
	default:
		if q.overflow.Add(1) == 1 {
			logrus.Warn("Event queue full, dropping events")
		}
		return false
	}
}

// C is the consumer side. It is closed by Close after all published events
// have been buffered.
func (q *Queue[T]) C() <-chan T {
	return q.ch
}

// Close stops the queue. Publish after Close would panic, so callers must
// quiesce producers first; the orchestrator does this by stopping the
// source before closing.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() { close(q.ch) })
}

// Overflow reports how many events were dropped.
func (q *Queue[T]) Overflow() uint64 {
	return q.overflow.Load()
}
