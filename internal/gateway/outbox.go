package gateway

import (
	"errors"
	"sync"
)

// ErrClosed is returned when sending on a closed connection.
var ErrClosed = errors.New("connection closed")

// Outbox is a bounded per-connection queue of encoded frames. When it is
// full the oldest queued frame is discarded so a slow reader falls behind
// on history instead of stalling the sender.
type Outbox struct {
	mu       sync.Mutex
	queue    [][]byte
	capacity int
	closed   bool

	// notify holds at most one pending wakeup for the writer.
	notify chan struct{}
	done   chan struct{}
}

// NewOutbox creates an outbox holding at most capacity frames.
func NewOutbox(capacity int) *Outbox {
	if capacity <= 0 {
		capacity = DefaultSendBufferSize
	}
	return &Outbox{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Push queues a frame without blocking. It reports whether an older frame
// had to be dropped to make room.
func (o *Outbox) Push(frame []byte) (dropped bool, err error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false, ErrClosed
	}
	if len(o.queue) >= o.capacity {
		o.queue[0] = nil
		o.queue = o.queue[1:]
		dropped = true
	}
	o.queue = append(o.queue, frame)
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
	return dropped, nil
}

// Ready is signalled after frames were pushed.
func (o *Outbox) Ready() <-chan struct{} {
	return o.notify
}

// Drain removes and returns every queued frame in order.
func (o *Outbox) Drain() [][]byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.queue) == 0 {
		return nil
	}
	out := o.queue
	o.queue = nil
	return out
}

// Close stops accepting frames. It is safe to call more than once.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	close(o.done)
}

// Done is closed once the outbox is closed.
func (o *Outbox) Done() <-chan struct{} {
	return o.done
}
