// Package hub keeps the registry of connected clients and fans out
// connection-wide messages such as heartbeats.
package hub

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/brianly1003/cbridge/internal/domain/events"
	"github.com/brianly1003/cbridge/internal/domain/ports"
)

// Hub is the registry of live subscribers. Published events are delivered
// asynchronously by its run loop; subscribers that fail a send are dropped.
type Hub struct {
	// subscribers holds all active subscribers
	subscribers map[string]ports.Subscriber

	// broadcast channel receives events to be broadcast
	broadcast chan events.Event

	// unregister channel receives subscriber IDs to remove
	unregister chan string

	// mu protects subscribers and running
	mu sync.RWMutex

	// done signals when the hub should stop
	done chan struct{}

	running bool
}

// New creates a new Hub.
func New() *Hub {
	return &Hub{
		subscribers: make(map[string]ports.Subscriber),
		broadcast:   make(chan events.Event, 256),
		unregister:  make(chan string, 64),
		done:        make(chan struct{}),
	}
}

// Start begins the hub's main loop.
func (h *Hub) Start() error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = true
	h.mu.Unlock()

	log.Debug().Msg("event hub started")

	go h.run()
	return nil
}

// Stop closes every subscriber and stops the loop.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = false
	subs := h.subscribers
	h.subscribers = make(map[string]ports.Subscriber)
	h.mu.Unlock()

	close(h.done)

	for _, sub := range subs {
		_ = sub.Close()
	}

	log.Debug().Msg("event hub stopped")
	return nil
}

// run is the main event loop.
func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			return

		case id := <-h.unregister:
			h.remove(id)

		case event := <-h.broadcast:
			for _, sub := range h.Subscribers() {
				if err := sub.Send(event); err != nil {
					log.Warn().
						Str("client_id", sub.ID()).
						Err(err).
						Msg("failed to send event to subscriber")
					h.queueUnregister(sub.ID())
				}
			}
		}
	}
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	delete(h.subscribers, id)
	h.mu.Unlock()

	if ok {
		_ = sub.Close()
		log.Debug().Str("client_id", id).Msg("subscriber unregistered")
	}
}

func (h *Hub) queueUnregister(id string) {
	select {
	case h.unregister <- id:
	default:
		go h.remove(id)
	}
}

// Publish queues an event for every subscriber. It never blocks; when the
// queue is full the event is dropped.
func (h *Hub) Publish(event events.Event) {
	select {
	case h.broadcast <- event:
		log.Trace().
			Str("event_type", string(event.Type())).
			Msg("event published")
	default:
		log.Warn().
			Str("event_type", string(event.Type())).
			Msg("event dropped: broadcast channel full")
	}
}

// Subscribe registers a subscriber. It is addressable through Get as soon
// as Subscribe returns.
func (h *Hub) Subscribe(sub ports.Subscriber) {
	h.mu.Lock()
	old := h.subscribers[sub.ID()]
	h.subscribers[sub.ID()] = sub
	h.mu.Unlock()

	if old != nil && old != sub {
		_ = old.Close()
	}
	log.Debug().Str("client_id", sub.ID()).Msg("subscriber registered")
}

// Unsubscribe removes and closes a subscriber.
func (h *Hub) Unsubscribe(id string) {
	h.remove(id)
}

// Get returns the subscriber with the given ID.
func (h *Hub) Get(id string) (ports.Subscriber, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sub, ok := h.subscribers[id]
	return sub, ok
}

// Subscribers returns a snapshot of the registered subscribers.
func (h *Hub) Subscribers() []ports.Subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]ports.Subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		out = append(out, sub)
	}
	return out
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// IsRunning returns true if the hub is running.
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

var _ ports.EventHub = (*Hub)(nil)
