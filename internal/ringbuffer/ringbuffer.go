// Package ringbuffer retains the most recent raw output chunks of a session
// for replay to reconnecting clients.
package ringbuffer

import (
	"bytes"
	"sync"
	"time"
)

// DefaultCapacity is the number of entries retained when no capacity is given.
const DefaultCapacity = 5000

// Entry is one captured chunk.
type Entry struct {
	// Seq is the 1-based append ordinal of this entry. It never repeats.
	Seq  uint64
	Time time.Time
	Data []byte
}

// Buffer is a fixed-capacity FIFO of output entries. Appending past capacity
// silently evicts the oldest entry.
//
// All methods are safe for concurrent use.
type Buffer struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
	// next is the slot the next append writes to.
	next int
	// total is the number of entries ever appended.
	total uint64
	now   func() time.Time
}

// New creates a buffer holding at most capacity entries.
// A capacity of zero or less selects DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		entries:  make([]Entry, 0, min(capacity, 256)),
		capacity: capacity,
		now:      time.Now,
	}
}

// Append stores a copy of data and returns the stored entry.
func (b *Buffer) Append(data []byte) Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total++
	e := Entry{
		Seq:  b.total,
		Time: b.now(),
		Data: bytes.Clone(data),
	}

	if len(b.entries) < b.capacity {
		b.entries = append(b.entries, e)
		b.next = len(b.entries) % b.capacity
		return e
	}

	b.entries[b.next] = e
	b.next = (b.next + 1) % b.capacity
	return e
}

// Snapshot returns the retained entries, oldest first.
func (b *Buffer) Snapshot() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := len(b.entries)
	if n == 0 {
		return nil
	}
	// start is the physical slot of the oldest entry.
	start := 0
	if n == b.capacity {
		start = b.next
	}
	out := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, b.entries[(start+i)%n])
	}
	return out
}

// Bytes returns the concatenated data of every retained entry.
func (b *Buffer) Bytes() []byte {
	entries := b.Snapshot()
	var size int
	for _, e := range entries {
		size += len(e.Data)
	}
	buf := make([]byte, 0, size)
	for _, e := range entries {
		buf = append(buf, e.Data...)
	}
	return buf
}

// Len returns the number of retained entries.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}
