package testutil

import (
	"sync"

	"github.com/brianly1003/cbridge/internal/domain/events"
	"github.com/brianly1003/cbridge/internal/domain/ports"
)

// RecordingBroadcaster implements ports.Broadcaster by keeping an ordered
// log of what each connection would have received.
type RecordingBroadcaster struct {
	mu        sync.Mutex
	conns     []string
	byConn    map[string][]events.Event
	announced []events.Event
}

// NewRecordingBroadcaster creates a broadcaster that knows the given connections.
func NewRecordingBroadcaster(connIDs ...string) *RecordingBroadcaster {
	b := &RecordingBroadcaster{byConn: make(map[string][]events.Event)}
	b.Register(connIDs...)
	return b
}

// Register adds connections that receive announcements.
func (b *RecordingBroadcaster) Register(connIDs ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range connIDs {
		if _, ok := b.byConn[id]; !ok {
			b.byConn[id] = nil
			b.conns = append(b.conns, id)
		}
	}
}

// SendTo appends event to each listed connection's log.
func (b *RecordingBroadcaster) SendTo(connIDs []string, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range connIDs {
		b.byConn[id] = append(b.byConn[id], event)
	}
}

// Announce appends event to every registered connection's log.
func (b *RecordingBroadcaster) Announce(event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.announced = append(b.announced, event)
	for _, id := range b.conns {
		b.byConn[id] = append(b.byConn[id], event)
	}
}

// For returns what connID received, in order.
func (b *RecordingBroadcaster) For(connID string) []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]events.Event(nil), b.byConn[connID]...)
}

// OfType returns what connID received of the given type, in order.
func (b *RecordingBroadcaster) OfType(connID string, t events.EventType) []events.Event {
	var out []events.Event
	for _, e := range b.For(connID) {
		if e.Type() == t {
			out = append(out, e)
		}
	}
	return out
}

// Announced returns every announcement.
func (b *RecordingBroadcaster) Announced() []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]events.Event(nil), b.announced...)
}

var _ ports.Broadcaster = (*RecordingBroadcaster)(nil)
