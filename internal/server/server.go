// Package server hosts the WebSocket gateway and the read-only HTTP API on
// a single listener.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/brianly1003/cbridge/internal/domain"
	"github.com/brianly1003/cbridge/internal/pairing"
)

// Sessions is the read side of the session store.
type Sessions interface {
	List() []domain.ManagedSession
	Get(id string) (domain.ManagedSession, error)
	Count() int
}

// Options wires optional handlers into the router.
type Options struct {
	// Gateway serves /ws.
	Gateway http.Handler
	// Metrics serves /metrics. Omitted when nil.
	Metrics http.Handler
	// Pairing serves /api/pair/*. Omitted when nil.
	Pairing *pairing.QRGenerator
	// Connections reports the number of open client connections.
	Connections func() int
}

// Server is the HTTP server.
type Server struct {
	addr       string
	sessions   Sessions
	opts       Options
	router     *mux.Router
	httpServer *http.Server
	listener   net.Listener
	startedAt  time.Time
}

// New creates a server for addr.
func New(addr string, sessions Sessions, opts Options) *Server {
	s := &Server{
		addr:      addr,
		sessions:  sessions,
		opts:      opts,
		startedAt: time.Now(),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.opts.Gateway != nil {
		router.Handle("/ws", s.opts.Gateway)
	}
	if s.opts.Metrics != nil {
		router.Handle("/metrics", s.opts.Metrics).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	if s.opts.Pairing != nil {
		api.HandleFunc("/pair/info", s.handlePairInfo).Methods(http.MethodGet)
		api.HandleFunc("/pair/qr", s.handlePairQR).Methods(http.MethodGet)
	}

	router.Use(requestLoggingMiddleware)
	return router
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves in the background. Bind errors are
// returned directly.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("addr", ln.Addr().String()).Msg("http server listening")

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server error")
		}
	}()
	return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop shuts the server down. Hijacked WebSocket connections are not
// waited for; the hub closes them.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string  `json:"status"`
	Time          string  `json:"time"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
	Sessions      int     `json:"sessions"`
	Connections   int     `json:"connections"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "ok",
		Time:          time.Now().UTC().Format(time.RFC3339),
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
		Sessions:      s.sessions.Count(),
	}
	if s.opts.Connections != nil {
		resp.Connections = s.opts.Connections()
	}
	writeJSON(w, http.StatusOK, resp)
}

// SessionsResponse is the body of GET /api/sessions.
type SessionsResponse struct {
	Sessions []domain.ManagedSession `json:"sessions"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SessionsResponse{Sessions: s.sessions.List()})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, err := s.sessions.Get(id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handlePairInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Pairing.Info())
}

func (s *Server) handlePairQR(w http.ResponseWriter, r *http.Request) {
	png, err := s.opts.Pairing.PNG(256)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

// ErrorResponse is the body of every failed API request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: domain.ErrorCode(err)})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// requestLoggingMiddleware logs every request at debug level.
func requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Dur("duration", time.Since(start)).
			Msg("request completed")
	})
}
