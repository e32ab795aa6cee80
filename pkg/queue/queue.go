// Package queue holds pending chunk events between the capture layer and
// whichever sink is active.
//
// The queue is unbounded: producers never block and never drop. A slow or
// absent consumer therefore grows memory without limit.
package queue

import (
	"sync"

	"github.com/nicktill/chunkdebug/pkg/event"
)

// Queue is a multi-producer FIFO of events
type Queue struct {
	mu    sync.Mutex
	items []event.Event
	head  int
}

// New creates an empty queue
func New() *Queue {
	return &Queue{}
}

// Push appends an event. Safe for concurrent use by any number of producers.
func (q *Queue) Push(e event.Event) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()
}

// Poll removes and returns the oldest event, or false if the queue is empty
func (q *Queue) Poll() (event.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head >= len(q.items) {
		return event.Event{}, false
	}

	e := q.items[q.head]
	q.items[q.head] = event.Event{} // release metadata for GC
	q.head++

	// Reset once fully consumed so the backing array doesn't creep forward forever
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return e, true
}

// DrainAll atomically removes every queued event and returns them in enqueue order.
// Events pushed after the swap stay queued for the next drain.
func (q *Queue) DrainAll() []event.Event {
	q.mu.Lock()
	items := q.items[q.head:]
	q.items = nil
	q.head = 0
	q.mu.Unlock()

	if len(items) == 0 {
		return nil
	}
	return items
}

// Len returns the number of queued events
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Clear discards every queued event
func (q *Queue) Clear() {
	q.mu.Lock()
	q.items = nil
	q.head = 0
	q.mu.Unlock()
}
