// Package gateway terminates client WebSocket connections and translates
// between the JSON wire protocol and the session store.
//
// Every connection owns an Outbox drained by its own write pump, so fan-out
// to many subscribers never waits on any single one of them. Client frames
// are handled in arrival order on the connection's read pump; every failure
// becomes a session_error reply and the connection stays open.
package gateway

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/brianly1003/cbridge/internal/domain"
	"github.com/brianly1003/cbridge/internal/domain/events"
	"github.com/brianly1003/cbridge/internal/domain/ports"
	"github.com/brianly1003/cbridge/internal/session"
)

// Sessions is the part of the session store the gateway drives.
type Sessions interface {
	List() []domain.ManagedSession
	Count() int
	Create(ctx context.Context, req session.CreateRequest) (domain.ManagedSession, error)
	Subscribe(id, connID string, replay bool) (domain.ManagedSession, error)
	Unsubscribe(id, connID string) error
	UnsubscribeAll(connID string)
	SendInput(ctx context.Context, id, text string) error
	Interrupt(ctx context.Context, id string) error
	Kill(ctx context.Context, id string) error
	ResolvePermission(ctx context.Context, id, requestID string, approved bool) error
}

// Metrics receives connection observations.
type Metrics interface {
	ConnectionOpened()
	ConnectionClosed()
	MessageDropped()
}

type nopMetrics struct{}

func (nopMetrics) ConnectionOpened() {}
func (nopMetrics) ConnectionClosed() {}
func (nopMetrics) MessageDropped()   {}

// Options configures a Gateway.
type Options struct {
	SendBufferSize    int
	MaxMessageSize    int64
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
}

func (o *Options) setDefaults() {
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = DefaultSendBufferSize
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = DefaultMaxMessageSize
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
}

// Gateway is the protocol endpoint. It also implements ports.Broadcaster so
// the session store can reach connections through it.
type Gateway struct {
	hub      ports.EventHub
	metrics  Metrics
	opts     Options
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions Sessions

	heartbeatSeq atomic.Int64
	stop         chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

// New creates a gateway registering connections with hub. metrics may be nil.
func New(hub ports.EventHub, opts Options, metrics Metrics) *Gateway {
	opts.setDefaults()
	if metrics == nil {
		metrics = nopMetrics{}
	}
	oc := originChecker{allowed: opts.AllowedOrigins}
	return &Gateway{
		hub:     hub,
		metrics: metrics,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     oc.check,
		},
		stop: make(chan struct{}),
	}
}

// SetSessions attaches the session store. It must be called before the
// gateway serves connections.
func (g *Gateway) SetSessions(s Sessions) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions = s
}

func (g *Gateway) store() Sessions {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.sessions
}

// Start begins the heartbeat loop.
func (g *Gateway) Start() {
	g.wg.Add(1)
	go g.heartbeatLoop()
}

// Stop ends the heartbeat loop. Connections are closed by the hub.
func (g *Gateway) Stop() {
	g.stopOnce.Do(func() { close(g.stop) })
	g.wg.Wait()
}

func (g *Gateway) heartbeatLoop() {
	defer g.wg.Done()
	ticker := time.NewTicker(g.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			count := 0
			if s := g.store(); s != nil {
				count = s.Count()
			}
			g.hub.Publish(events.NewHeartbeatEvent(g.heartbeatSeq.Add(1), count))
		}
	}
}

// SendTo delivers event to each listed connection that is still registered.
func (g *Gateway) SendTo(connIDs []string, event events.Event) {
	for _, id := range connIDs {
		sub, ok := g.hub.Get(id)
		if !ok {
			continue
		}
		if err := sub.Send(event); err != nil {
			log.Debug().Err(err).Str("client_id", id).Str("event_type", string(event.Type())).Msg("send to closed connection")
		}
	}
}

// Announce delivers event to every connection. Sends go straight into each
// outbox so announcements keep their order relative to SendTo.
func (g *Gateway) Announce(event events.Event) {
	for _, sub := range g.hub.Subscribers() {
		if err := sub.Send(event); err != nil {
			log.Debug().Err(err).Str("client_id", sub.ID()).Str("event_type", string(event.Type())).Msg("announce to closed connection")
		}
	}
}

// ServeHTTP upgrades the request and starts serving the connection.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	c := newConn(ws, g.opts, g.metrics, g.Handle, g.closed)
	g.hub.Subscribe(c)
	g.metrics.ConnectionOpened()
	log.Info().Str("client_id", c.ID()).Str("remote_addr", r.RemoteAddr).Msg("client connected")

	c.start()
}

func (g *Gateway) closed(c *Conn) {
	if s := g.store(); s != nil {
		s.UnsubscribeAll(c.ID())
	}
	g.hub.Unsubscribe(c.ID())
	g.metrics.ConnectionClosed()
	log.Info().Str("client_id", c.ID()).Msg("client disconnected")
}

// Handle routes one client frame. Replies go to c; state changes reach
// subscribers through the session store.
func (g *Gateway) Handle(c *Conn, frame []byte) {
	msg, err := decodeMessage(frame)
	if err != nil {
		g.replyError(c, msg, err)
		return
	}

	s := g.store()
	if s == nil {
		g.replyError(c, msg, domain.NewSessionError(msg.Type, msg.SessionID, domain.ErrSessionNotFound))
		return
	}

	log.Debug().Str("client_id", c.ID()).Str("type", msg.Type).Str("session_id", msg.SessionID).Msg("client message")

	ctx := c.Context()
	switch msg.Type {
	case TypeSessionList:
		_ = c.Send(events.NewSessionListEvent(s.List(), msg.ID))

	case TypeSessionCreate:
		var created domain.ManagedSession
		created, err = s.Create(ctx, session.CreateRequest{
			ProjectPath:   msg.ProjectPath,
			Mode:          msg.Mode,
			Name:          msg.Name,
			WorkspaceType: msg.WorkspaceType,
		})
		if err == nil {
			g.Announce(events.NewSessionCreatedEvent(created, msg.ID))
		}

	case TypeSessionConnect:
		c.setRawOnly(msg.SessionID, msg.RawOnly)
		if _, err = s.Subscribe(msg.SessionID, c.ID(), msg.Replay); err != nil {
			c.setRawOnly(msg.SessionID, false)
		}

	case TypeSessionDisconnect:
		err = s.Unsubscribe(msg.SessionID, c.ID())
		c.setRawOnly(msg.SessionID, false)

	case TypeSessionInput:
		err = s.SendInput(ctx, msg.SessionID, msg.Text)

	case TypeSessionInterrupt:
		err = s.Interrupt(ctx, msg.SessionID)

	case TypeSessionKill:
		err = s.Kill(ctx, msg.SessionID)

	case TypeSessionPermission:
		err = s.ResolvePermission(ctx, msg.SessionID, msg.RequestID, *msg.Approved)
	}

	if err != nil {
		g.replyError(c, msg, err)
	}
}

func (g *Gateway) replyError(c *Conn, msg ClientMessage, err error) {
	log.Debug().Err(err).Str("client_id", c.ID()).Str("type", msg.Type).Str("session_id", msg.SessionID).Msg("request failed")
	_ = c.Send(events.NewSessionErrorFromErr(msg.SessionID, err, msg.ID))
}

var _ ports.Broadcaster = (*Gateway)(nil)
