package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brianly1003/cbridge/internal/domain"
	"github.com/brianly1003/cbridge/internal/pairing"
)

type fakeSessions struct {
	list []domain.ManagedSession
}

func (f *fakeSessions) List() []domain.ManagedSession { return f.list }
func (f *fakeSessions) Count() int                    { return len(f.list) }
func (f *fakeSessions) Get(id string) (domain.ManagedSession, error) {
	for _, s := range f.list {
		if s.ID == id {
			return s, nil
		}
	}
	return domain.ManagedSession{}, domain.NewSessionError("get", id, domain.ErrSessionNotFound)
}

func newTestServer(opts Options) *Server {
	sessions := &fakeSessions{list: []domain.ManagedSession{
		{ID: "s1", Name: "alpha", Status: domain.StatusIdle},
		{ID: "s2", Name: "beta", Status: domain.StatusWorking},
	}}
	return New("127.0.0.1:0", sessions, opts)
}

func serve(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(Options{Connections: func() int { return 3 }})

	rec := serve(t, s, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" || resp.Sessions != 2 || resp.Connections != 3 {
		t.Errorf("health = %+v", resp)
	}

	if rec := serve(t, s, http.MethodPost, "/health"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /health status = %d, want 405", rec.Code)
	}
}

func TestServer_Sessions(t *testing.T) {
	s := newTestServer(Options{})

	rec := serve(t, s, http.MethodGet, "/api/sessions")
	var list SessionsResponse
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list.Sessions) != 2 || list.Sessions[0].ID != "s1" {
		t.Errorf("sessions = %+v", list.Sessions)
	}

	rec = serve(t, s, http.MethodGet, "/api/sessions/s2")
	var one domain.ManagedSession
	if err := json.NewDecoder(rec.Body).Decode(&one); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || one.Name != "beta" {
		t.Errorf("GET s2 = %d %+v", rec.Code, one)
	}

	rec = serve(t, s, http.MethodGet, "/api/sessions/nope")
	var errResp ErrorResponse
	_ = json.NewDecoder(rec.Body).Decode(&errResp)
	if rec.Code != http.StatusNotFound || errResp.Code != domain.ErrCodeSessionNotFound {
		t.Errorf("GET unknown = %d %+v", rec.Code, errResp)
	}
}

func TestServer_OptionalRoutes(t *testing.T) {
	s := newTestServer(Options{})
	for _, path := range []string{"/metrics", "/ws", "/api/pair/qr"} {
		if rec := serve(t, s, http.MethodGet, path); rec.Code != http.StatusNotFound {
			t.Errorf("%s without handler status = %d, want 404", path, rec.Code)
		}
	}

	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "cbridge_sessions 2\n")
	})
	s = newTestServer(Options{Metrics: metrics, Pairing: pairing.NewQRGenerator("127.0.0.1", 8766)})

	if rec := serve(t, s, http.MethodGet, "/metrics"); rec.Body.String() != "cbridge_sessions 2\n" {
		t.Errorf("/metrics = %q", rec.Body.String())
	}

	rec := serve(t, s, http.MethodGet, "/api/pair/qr")
	if rec.Header().Get("Content-Type") != "image/png" || !bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")) {
		t.Errorf("/api/pair/qr content type = %s", rec.Header().Get("Content-Type"))
	}

	rec = serve(t, s, http.MethodGet, "/api/pair/info")
	var info pairing.Info
	_ = json.NewDecoder(rec.Body).Decode(&info)
	if info.WebSocket != "ws://127.0.0.1:8766/ws" {
		t.Errorf("pair info = %+v", info)
	}
}

func TestServer_StartStop(t *testing.T) {
	s := newTestServer(Options{})
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	resp, err := http.Get("http://" + s.Addr() + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}

	// The port is taken while a server holds it.
	s2 := newTestServer(Options{})
	if err := s2.Start(); err != nil {
		t.Fatal(err)
	}
	defer s2.Stop(context.Background())
	s3 := New(s2.Addr(), &fakeSessions{}, Options{})
	if err := s3.Start(); err == nil {
		s3.Stop(context.Background())
		t.Error("Start() on a bound address should fail")
	}
}
