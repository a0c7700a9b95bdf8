// Package framequeue hands finished frames from the acquisition goroutine to
// consumers. Push never blocks: a full queue evicts its oldest frame.
package framequeue

import (
	"sync"

	"github.com/kstaniek/go-tactile-server/internal/metrics"
	"github.com/kstaniek/go-tactile-server/internal/tactile"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 16

// Queue is a bounded FIFO ring of frames with a one-slot error latch.
type Queue struct {
	mu      sync.Mutex
	buf     []tactile.Frame
	head    int // index of the oldest frame
	n       int
	dropped uint64
	err     error
	notify  chan struct{}
}

// New creates a Queue holding at most capacity frames.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		buf:    make([]tactile.Frame, capacity),
		notify: make(chan struct{}, 1),
	}
}

// Push appends f, evicting the oldest frame when full.
func (q *Queue) Push(f tactile.Frame) {
	q.mu.Lock()
	if q.n == len(q.buf) {
		q.buf[q.head] = tactile.Frame{}
		q.head = (q.head + 1) % len(q.buf)
		q.n--
		q.dropped++
		metrics.IncQueueDrop()
	}
	q.buf[(q.head+q.n)%len(q.buf)] = f
	q.n++
	depth := q.n
	q.mu.Unlock()
	metrics.SetQueueDepth(depth)
	q.signal()
}

// Get removes and returns the oldest queued frame.
func (q *Queue) Get() (tactile.Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n == 0 {
		return tactile.Frame{}, false
	}
	f := q.buf[q.head]
	q.buf[q.head] = tactile.Frame{}
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	return f, true
}

// GetLast returns the newest frame and discards everything older.
func (q *Queue) GetLast() (tactile.Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n == 0 {
		return tactile.Frame{}, false
	}
	f := q.buf[(q.head+q.n-1)%len(q.buf)]
	q.clearLocked()
	return f, true
}

// SetError latches err. The first error wins until it is taken; nil is ignored.
func (q *Queue) SetError(err error) {
	if err == nil {
		return
	}
	q.mu.Lock()
	if q.err == nil {
		q.err = err
	}
	q.mu.Unlock()
	q.signal()
}

// TakeError returns the latched error once and clears the slot.
func (q *Queue) TakeError() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	err := q.err
	q.err = nil
	return err
}

// Len returns the number of queued frames.
func (q *Queue) Len() int { q.mu.Lock(); defer q.mu.Unlock(); return q.n }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return len(q.buf) }

// Dropped returns how many frames were evicted since creation.
func (q *Queue) Dropped() uint64 { q.mu.Lock(); defer q.mu.Unlock(); return q.dropped }

// Reset drops queued frames and any latched error.
func (q *Queue) Reset() {
	q.mu.Lock()
	q.clearLocked()
	q.err = nil
	q.mu.Unlock()
}

// Notify returns a channel that receives after a Push or SetError. Wake-ups
// coalesce, so a receiver must drain with Get until it reports false.
func (q *Queue) Notify() <-chan struct{} { return q.notify }

func (q *Queue) clearLocked() {
	for i := 0; i < q.n; i++ {
		q.buf[(q.head+i)%len(q.buf)] = tactile.Frame{}
	}
	q.head, q.n = 0, 0
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
