package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/brianly1003/cbridge/internal/domain"
	"github.com/brianly1003/cbridge/internal/domain/events"
	"github.com/brianly1003/cbridge/internal/hub"
	"github.com/brianly1003/cbridge/internal/session"
	"github.com/brianly1003/cbridge/internal/testutil"
)

const waitFor = 2 * time.Second

type env struct {
	t       *testing.T
	adapter *testutil.MockCaptureAdapter
	store   *session.Store
	hub     *hub.Hub
	gw      *Gateway
	srv     *httptest.Server
	project string
}

func newEnv(t *testing.T) *env {
	t.Helper()

	h := hub.New()
	if err := h.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = h.Stop() })

	gw := New(h, Options{SendBufferSize: 64}, nil)
	adapter := testutil.NewMockCaptureAdapter()
	store := session.NewStore(adapter, gw, nil, session.Options{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { _ = store.Close() })
	gw.SetSessions(store)

	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)

	return &env{t: t, adapter: adapter, store: store, hub: h, gw: gw, srv: srv, project: t.TempDir()}
}

type client struct {
	t  *testing.T
	ws *websocket.Conn
}

// dial connects and waits until the server has registered the connection.
func (e *env) dial() *client {
	e.t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		e.t.Fatalf("dial: %v", err)
	}
	c := &client{t: e.t, ws: ws}
	e.t.Cleanup(func() { _ = ws.Close() })

	c.send(map[string]any{"type": "session_list", "id": "hello"})
	c.expect("session_list")
	return c
}

func (c *client) send(msg any) {
	c.t.Helper()
	if err := c.ws.WriteJSON(msg); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *client) sendRaw(frame string) {
	c.t.Helper()
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *client) read() map[string]any {
	c.t.Helper()
	_ = c.ws.SetReadDeadline(time.Now().Add(waitFor))
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		c.t.Fatalf("decode %s: %v", data, err)
	}
	return m
}

// expect reads until a message of type typ arrives, skipping heartbeats.
func (c *client) expect(typ string) map[string]any {
	c.t.Helper()
	for {
		m := c.read()
		if m["type"] == "heartbeat" {
			continue
		}
		if m["type"] != typ {
			c.t.Fatalf("got %v, want %s", m, typ)
		}
		return m
	}
}

func (e *env) create(c *client) string {
	e.t.Helper()
	c.send(map[string]any{"type": "session_create", "id": "c", "projectPath": e.project})
	m := c.expect("session_created")
	return m["session"].(map[string]any)["id"].(string)
}

func (e *env) target(id string) string {
	e.t.Helper()
	s, err := e.store.Get(id)
	if err != nil {
		e.t.Fatal(err)
	}
	return s.Pane().Target()
}

func TestGateway_ListEchoesRequestID(t *testing.T) {
	e := newEnv(t)
	c := e.dial()

	c.send(map[string]any{"type": "session_list", "id": "req-7"})
	m := c.expect("session_list")
	if m["requestId"] != "req-7" {
		t.Errorf("requestId = %v, want req-7", m["requestId"])
	}
	if sessions, ok := m["sessions"].([]any); !ok || len(sessions) != 0 {
		t.Errorf("sessions = %v, want empty list", m["sessions"])
	}
}

func TestGateway_ProtocolErrorsKeepConnection(t *testing.T) {
	e := newEnv(t)
	c := e.dial()

	frames := []string{
		`{"type":`,
		`{"type":"session_explode","id":"x1"}`,
		`{"type":"session_connect"}`,
		`{"type":"session_permission","sessionId":"s1","requestId":"r"}`,
	}
	for _, f := range frames {
		c.sendRaw(f)
		m := c.expect("session_error")
		if m["code"] != domain.ErrCodeProtocolError {
			t.Errorf("%s: code = %v, want PROTOCOL_ERROR", f, m["code"])
		}
	}

	c.send(map[string]any{"type": "session_list"})
	c.expect("session_list")
}

func TestGateway_SessionNotFound(t *testing.T) {
	e := newEnv(t)
	c := e.dial()

	c.send(map[string]any{"type": "session_input", "id": "q", "sessionId": "nope", "text": "hi"})
	m := c.expect("session_error")
	if m["code"] != domain.ErrCodeSessionNotFound || m["sessionId"] != "nope" || m["requestId"] != "q" {
		t.Errorf("error = %v", m)
	}
}

func TestGateway_CreateFailedOnlyToRequester(t *testing.T) {
	e := newEnv(t)
	c1 := e.dial()
	c2 := e.dial()

	c1.send(map[string]any{"type": "session_create", "projectPath": "/definitely/not/here"})
	m := c1.expect("session_error")
	if m["code"] != domain.ErrCodeCreateFailed {
		t.Errorf("code = %v, want CREATE_FAILED", m["code"])
	}

	// c2 saw nothing; its next message is the list reply.
	c2.send(map[string]any{"type": "session_list"})
	c2.expect("session_list")
}

func TestGateway_CreateAnnouncedToAll(t *testing.T) {
	e := newEnv(t)
	c1 := e.dial()
	c2 := e.dial()

	c1.send(map[string]any{"type": "session_create", "id": "mine", "projectPath": e.project, "name": "proj"})
	m1 := c1.expect("session_created")
	m2 := c2.expect("session_created")

	if m1["requestId"] != "mine" {
		t.Errorf("requester requestId = %v", m1["requestId"])
	}
	s1 := m1["session"].(map[string]any)
	s2 := m2["session"].(map[string]any)
	if s1["id"] != s2["id"] || s1["status"] != "idle" || s1["name"] != "proj" {
		t.Errorf("created = %v / %v", s1, s2)
	}
}

func TestGateway_ScenarioKillWithTwoSubscribers(t *testing.T) {
	e := newEnv(t)
	c1 := e.dial()
	c2 := e.dial()

	id := e.create(c1)
	c2.expect("session_created")

	for _, c := range []*client{c1, c2} {
		c.send(map[string]any{"type": "session_connect", "sessionId": id})
		c.expect("session_status")
	}

	e.adapter.Emit(e.target(id), "⏺ hello\n")
	for _, c := range []*client{c1, c2} {
		m := c.expect("session_output")
		if m["raw"] != "⏺ hello\n" {
			t.Errorf("raw = %q", m["raw"])
		}
	}

	c1.send(map[string]any{"type": "session_kill", "sessionId": id})
	for _, c := range []*client{c1, c2} {
		st := c.expect("session_status")
		if st["status"] != "offline" {
			t.Errorf("status = %v, want offline", st["status"])
		}
		ended := c.expect("session_ended")
		if ended["sessionId"] != id {
			t.Errorf("ended = %v", ended)
		}
	}

	c2.send(map[string]any{"type": "session_list"})
	if sessions := c2.expect("session_list")["sessions"].([]any); len(sessions) != 0 {
		t.Errorf("session still listed after kill: %v", sessions)
	}
}

func TestGateway_ReplayAndRawOnly(t *testing.T) {
	e := newEnv(t)
	c1 := e.dial()
	id := e.create(c1)

	c1.send(map[string]any{"type": "session_connect", "sessionId": id})
	c1.expect("session_status")
	e.adapter.Emit(e.target(id), "first\n")
	c1.expect("session_output")

	c2 := e.dial()
	c2.send(map[string]any{"type": "session_connect", "sessionId": id, "replay": true, "rawOnly": true})
	replay := c2.expect("session_raw")
	if replay["replay"] != true || replay["data"] != "first\n" {
		t.Errorf("replay = %v", replay)
	}
	c2.expect("session_status")

	e.adapter.Emit(e.target(id), "second\n")
	if m := c1.expect("session_output"); m["raw"] != "second\n" {
		t.Errorf("c1 output = %v", m)
	}
	if m := c2.expect("session_raw"); m["data"] != "second\n" || m["replay"] != nil {
		t.Errorf("c2 raw = %v", m)
	}
}

func TestGateway_InputAndInterrupt(t *testing.T) {
	e := newEnv(t)
	c := e.dial()
	id := e.create(c)
	c.send(map[string]any{"type": "session_connect", "sessionId": id})
	c.expect("session_status")

	c.send(map[string]any{"type": "session_input", "sessionId": id, "text": "run tests"})
	if st := c.expect("session_status"); st["status"] != "working" {
		t.Errorf("status after input = %v", st["status"])
	}
	echo := c.expect("session_output")
	evs := echo["events"].([]any)
	if len(evs) != 1 || evs[0].(map[string]any)["type"] != "userInput" {
		t.Errorf("echo = %v", echo)
	}

	c.send(map[string]any{"type": "session_interrupt", "sessionId": id})
	if st := c.expect("session_status"); st["status"] != "idle" {
		t.Errorf("status after interrupt = %v", st["status"])
	}

	keys := e.adapter.Keys()
	if len(keys) == 0 || keys[0].Text != "run tests" {
		t.Errorf("keys = %+v", keys)
	}
	if len(e.adapter.Interrupts()) != 1 {
		t.Errorf("interrupts = %v", e.adapter.Interrupts())
	}
}

func TestGateway_PermissionMismatchIsError(t *testing.T) {
	e := newEnv(t)
	c := e.dial()
	id := e.create(c)

	c.send(map[string]any{"type": "session_permission", "sessionId": id, "requestId": "bogus", "approved": true})
	m := c.expect("session_error")
	if m["code"] != domain.ErrCodeInvalidTransition || m["sessionId"] != id {
		t.Errorf("error = %v", m)
	}
}

func TestGateway_DisconnectLeavesSessionRunning(t *testing.T) {
	e := newEnv(t)
	c1 := e.dial()
	c2 := e.dial()
	id := e.create(c1)
	c2.expect("session_created")

	for _, c := range []*client{c1, c2} {
		c.send(map[string]any{"type": "session_connect", "sessionId": id})
		c.expect("session_status")
	}

	_ = c1.ws.Close()
	testutil.Eventually(t, waitFor, func() bool {
		s, err := e.store.Get(id)
		return err == nil && len(s.ConnectedClients) == 1 && e.hub.SubscriberCount() == 1
	}, "closed connection unsubscribed")

	s, _ := e.store.Get(id)
	if s.Status != domain.StatusIdle || !s.PipeActive {
		t.Errorf("session after disconnect = %+v", s)
	}

	e.adapter.Emit(e.target(id), "still here\n")
	if m := c2.expect("session_output"); m["raw"] != "still here\n" {
		t.Errorf("c2 output = %v", m)
	}
}

func TestGateway_SessionDisconnectIdempotent(t *testing.T) {
	e := newEnv(t)
	c := e.dial()
	id := e.create(c)

	for i := 0; i < 2; i++ {
		c.send(map[string]any{"type": "session_disconnect", "sessionId": id})
	}
	c.send(map[string]any{"type": "session_list"})
	// No errors were queued ahead of the list reply.
	c.expect("session_list")
}

func TestGateway_Heartbeat(t *testing.T) {
	h := hub.New()
	_ = h.Start()
	defer h.Stop()

	gw := New(h, Options{HeartbeatInterval: 10 * time.Millisecond}, nil)
	sub := testutil.NewMockSubscriber("c1")
	h.Subscribe(sub)

	gw.Start()
	testutil.Eventually(t, waitFor, func() bool { return sub.EventCount() >= 2 }, "heartbeats published")
	gw.Stop()
}

func TestGateway_SendToSkipsUnknown(t *testing.T) {
	h := hub.New()
	_ = h.Start()
	defer h.Stop()

	gw := New(h, Options{}, nil)
	sub := testutil.NewMockSubscriber("c1")
	h.Subscribe(sub)

	gw.SendTo([]string{"gone", "c1"}, events.NewHeartbeatEvent(1, 0))
	if sub.EventCount() != 1 {
		t.Errorf("EventCount() = %d, want 1", sub.EventCount())
	}
}
