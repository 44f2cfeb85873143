package ports

import (
	"github.com/brianly1003/cbridge/internal/domain/events"
)

// Subscriber represents one connected client that can receive messages.
type Subscriber interface {
	// ID returns a unique identifier for this subscriber.
	ID() string

	// Send queues a message for this subscriber without blocking.
	// Returns error if the subscriber is closed.
	Send(event events.Event) error

	// Close closes the subscriber.
	Close() error

	// Done returns a channel that's closed when the subscriber is done.
	Done() <-chan struct{}
}

// EventHub tracks connected subscribers.
type EventHub interface {
	// Start begins the event hub.
	Start() error

	// Stop gracefully stops the hub.
	Stop() error

	// Publish sends an event to all subscribers asynchronously.
	Publish(event events.Event)

	// Subscribe adds a new subscriber.
	Subscribe(sub Subscriber)

	// Unsubscribe removes a subscriber by ID.
	Unsubscribe(id string)

	// Get returns the subscriber with the given ID, if registered.
	Get(id string) (Subscriber, bool)

	// Subscribers returns every registered subscriber.
	Subscribers() []Subscriber

	// SubscriberCount returns the number of active subscribers.
	SubscriberCount() int
}

// Broadcaster delivers session messages to connections.
//
// Both methods must return without blocking on any single connection; the
// session store calls them while holding a session lock so that every
// subscriber observes the same order.
type Broadcaster interface {
	// SendTo delivers event to each listed connection.
	SendTo(connIDs []string, event events.Event)

	// Announce delivers event to every connection (list view updates).
	Announce(event events.Event)
}
