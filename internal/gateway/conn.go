package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/brianly1003/cbridge/internal/domain"
	"github.com/brianly1003/cbridge/internal/domain/events"
	"github.com/brianly1003/cbridge/internal/domain/ports"
)

// Conn is one WebSocket client. Incoming frames are handed to the gateway
// one at a time from the read pump; outgoing messages go through the
// connection's Outbox and are written by the write pump, so Send never
// blocks on the network.
type Conn struct {
	id      string
	ws      *websocket.Conn
	out     *Outbox
	metrics Metrics

	handle  func(c *Conn, frame []byte)
	onClose func(c *Conn)

	maxMessageSize int64

	ctx    context.Context
	cancel context.CancelFunc

	mu sync.Mutex
	// rawOnly lists sessions this connection wants as session_raw instead
	// of session_output.
	rawOnly map[string]bool
}

func newConn(ws *websocket.Conn, opts Options, metrics Metrics, handle func(*Conn, []byte), onClose func(*Conn)) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		id:             uuid.New().String(),
		ws:             ws,
		out:            NewOutbox(opts.SendBufferSize),
		metrics:        metrics,
		handle:         handle,
		onClose:        onClose,
		maxMessageSize: opts.MaxMessageSize,
		ctx:            ctx,
		cancel:         cancel,
		rawOnly:        make(map[string]bool),
	}
}

// ID returns the connection id.
func (c *Conn) ID() string {
	return c.id
}

// Context is cancelled when the connection closes.
func (c *Conn) Context() context.Context {
	return c.ctx
}

func (c *Conn) start() {
	go c.writePump()
	go c.readPump()
}

// Send encodes event and queues it. It never blocks; under backpressure the
// oldest queued message is dropped.
func (c *Conn) Send(event events.Event) error {
	event, ok := c.present(event)
	if !ok {
		return nil
	}

	data, err := events.ToJSON(event)
	if err != nil {
		log.Error().Err(err).Str("client_id", c.id).Str("event_type", string(event.Type())).Msg("failed to encode message")
		return nil
	}

	dropped, err := c.out.Push(data)
	if err != nil {
		return domain.ErrSubscriberClosed
	}
	if dropped {
		c.metrics.MessageDropped()
		log.Debug().Str("client_id", c.id).Msg("outbox full, dropped oldest message")
	}
	return nil
}

// present rewrites session_output as session_raw for raw-only sessions.
func (c *Conn) present(event events.Event) (events.Event, bool) {
	out, ok := event.(*events.SessionOutputEvent)
	if !ok {
		return event, true
	}
	c.mu.Lock()
	raw := c.rawOnly[out.SessionID]
	c.mu.Unlock()
	if !raw {
		return event, true
	}
	if out.Raw == "" {
		return nil, false
	}
	return events.NewSessionRawEvent(out.SessionID, out.Raw), true
}

func (c *Conn) setRawOnly(sessionID string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.rawOnly[sessionID] = true
	} else {
		delete(c.rawOnly, sessionID)
	}
}

// Close stops the connection. Queued messages are flushed before the close
// frame. Safe to call more than once.
func (c *Conn) Close() error {
	c.out.Close()
	c.cancel()
	return nil
}

// Done is closed when the connection is closing.
func (c *Conn) Done() <-chan struct{} {
	return c.out.Done()
}

// readPump feeds frames to the gateway until the socket fails.
func (c *Conn) readPump() {
	defer func() {
		_ = c.Close()
		if c.onClose != nil {
			c.onClose(c)
		}
	}()

	c.ws.SetReadLimit(c.maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("client_id", c.id).Msg("websocket read error")
			}
			return
		}
		c.handle(c, frame)
	}
}

// writePump writes queued frames, one WebSocket message per frame, and
// keeps the connection alive with pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.out.Done():
			_ = c.write(c.out.Drain())
			return

		case <-c.out.Ready():
			if err := c.write(c.out.Drain()); err != nil {
				log.Debug().Err(err).Str("client_id", c.id).Msg("write error")
				_ = c.Close()
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("client_id", c.id).Msg("ping error")
				_ = c.Close()
				return
			}
		}
	}
}

func (c *Conn) write(frames [][]byte) error {
	for _, frame := range frames {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			return err
		}
	}
	return nil
}

var _ ports.Subscriber = (*Conn)(nil)
