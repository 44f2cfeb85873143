package gateway

import "time"

// WebSocket timing, tuned for phones on flaky networks.
const (
	// writeWait is time allowed to write a frame to the peer.
	writeWait = 15 * time.Second

	// pongWait is time allowed to read the next pong from the peer.
	pongWait = 90 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

const (
	// DefaultMaxMessageSize bounds a single client frame.
	DefaultMaxMessageSize = 512 * 1024

	// DefaultSendBufferSize is the outbox capacity per connection.
	DefaultSendBufferSize = 256

	// DefaultHeartbeatInterval is the application-level heartbeat cadence.
	DefaultHeartbeatInterval = 30 * time.Second
)
