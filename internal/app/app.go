// Package app orchestrates all components of cbridge.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/brianly1003/cbridge/internal/capture/tmux"
	"github.com/brianly1003/cbridge/internal/config"
	"github.com/brianly1003/cbridge/internal/domain/events"
	"github.com/brianly1003/cbridge/internal/domain/ports"
	"github.com/brianly1003/cbridge/internal/gateway"
	"github.com/brianly1003/cbridge/internal/hub"
	"github.com/brianly1003/cbridge/internal/metrics"
	"github.com/brianly1003/cbridge/internal/pairing"
	"github.com/brianly1003/cbridge/internal/server"
	"github.com/brianly1003/cbridge/internal/session"
	"github.com/brianly1003/cbridge/internal/snapshot"
	"github.com/brianly1003/cbridge/internal/workspace"
)

const shutdownTimeout = 5 * time.Second

// App is the main application struct that orchestrates all components.
type App struct {
	cfg     *config.Config
	version string

	// Core components
	hub       *hub.Hub
	metrics   *metrics.Collector
	gateway   *gateway.Gateway
	snapshots *snapshot.Store
	store     *session.Store
	server    *server.Server
	qr        *pairing.QRGenerator

	adapter ports.CaptureAdapter
	logger  *slog.Logger
	out     io.Writer

	startTime time.Time
	ready     chan struct{}
	readyOnce sync.Once

	// Lifecycle
	mu      sync.RWMutex
	running bool
}

// New creates a new App instance.
func New(cfg *config.Config, version string) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	return &App{
		cfg:     cfg,
		version: version,
		hub:     hub.New(),
		metrics: metrics.New(),
		out:     os.Stdout,
		ready:   make(chan struct{}),
	}, nil
}

// SetCaptureAdapter replaces the tmux adapter. Must be called before Start.
func (a *App) SetCaptureAdapter(adapter ports.CaptureAdapter) {
	a.adapter = adapter
}

// SetLogger sets the logger handed to the session store. Must be called
// before Start.
func (a *App) SetLogger(logger *slog.Logger) {
	a.logger = logger
}

// SetOutput sets where the connection banner and QR code are printed.
func (a *App) SetOutput(w io.Writer) {
	a.out = w
}

// Ready is closed once the HTTP listener is bound.
func (a *App) Ready() <-chan struct{} {
	return a.ready
}

// Addr returns the bound listen address, or the configured one before Start.
func (a *App) Addr() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.server != nil {
		return a.server.Addr()
	}
	return a.cfg.Addr()
}

// Start starts the application and blocks until context is cancelled.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("application is already running")
	}
	a.running = true
	a.startTime = time.Now()
	a.mu.Unlock()

	if err := a.start(ctx); err != nil {
		_ = a.shutdown()
		return err
	}
	a.readyOnce.Do(func() { close(a.ready) })

	<-ctx.Done()

	return a.shutdown()
}

func (a *App) start(ctx context.Context) error {
	if err := a.hub.Start(); err != nil {
		return fmt.Errorf("failed to start event hub: %w", err)
	}

	if zerolog.GlobalLevel() <= zerolog.TraceLevel {
		a.hub.Subscribe(hub.NewLogSubscriber("internal-logger", func(event events.Event) {
			log.Trace().
				Str("event_type", string(event.Type())).
				Time("timestamp", event.Timestamp()).
				Msg("event broadcast")
		}))
	}

	a.gateway = gateway.New(a.hub, gateway.Options{
		SendBufferSize:    a.cfg.Gateway.SendBufferSize,
		MaxMessageSize:    a.cfg.Gateway.MaxMessageSize,
		AllowedOrigins:    a.cfg.Server.AllowedOrigins,
		HeartbeatInterval: time.Duration(a.cfg.Gateway.HeartbeatIntervalSec) * time.Second,
	}, a.metrics)

	// A nil *snapshot.Store must not reach the store as a non-nil interface.
	var snapshots ports.SnapshotStore
	if a.cfg.Persistence.Enabled {
		store, err := snapshot.Open(a.cfg.Persistence.Path)
		if err != nil {
			return fmt.Errorf("failed to open session snapshot: %w", err)
		}
		a.snapshots = store
		snapshots = store
		log.Info().Str("path", store.Path()).Msg("session persistence enabled")
	}

	if a.adapter == nil {
		a.adapter = a.newTmuxAdapter()
	}
	if a.logger == nil {
		a.logger = slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      slog.LevelInfo,
			TimeFormat: time.Kitchen,
		}))
	}

	store := session.NewStore(a.adapter, a.gateway, snapshots, session.Options{
		BufferCapacity:     a.cfg.Session.BufferCapacity,
		MaxSessions:        a.cfg.Session.MaxSessions,
		ToolResultMaxBytes: a.cfg.Session.ToolResultMaxBytes,
		EchoQueueSize:      a.cfg.Session.EchoQueueSize,
		Recorder:           a.metrics,
	}, a.logger)
	a.mu.Lock()
	a.store = store
	a.mu.Unlock()
	a.gateway.SetSessions(store)

	restored, err := store.Restore(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to restore sessions")
	} else if restored > 0 {
		log.Info().Int("sessions", restored).Msg("sessions restored from snapshot")
	}

	a.qr = pairing.NewQRGenerator(a.cfg.Server.Host, a.cfg.Server.Port)
	if a.cfg.Server.ExternalURL != "" {
		a.qr.SetExternalURL(a.cfg.Server.ExternalURL)
		log.Info().Str("external_url", a.cfg.Server.ExternalURL).Msg("using external URL for pairing")
	}

	srv := server.New(a.cfg.Addr(), store, server.Options{
		Gateway:     a.gateway,
		Metrics:     a.metrics.Handler(),
		Pairing:     a.qr,
		Connections: a.hub.SubscriberCount,
	})
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	a.mu.Lock()
	a.server = srv
	a.mu.Unlock()

	a.gateway.Start()

	log.Info().
		Str("version", a.version).
		Str("addr", srv.Addr()).
		Int("sessions", store.Count()).
		Msg("cbridge ready")

	a.printConnectionInfo()
	return nil
}

func (a *App) newTmuxAdapter() *tmux.Adapter {
	client := tmux.NewClient(a.cfg.Tmux.Command, a.cfg.Tmux.Socket)
	workspaces := workspace.NewManager(a.cfg.Workspace.StateDir, a.cfg.Workspace.GitCommand)
	return tmux.NewAdapter(tmux.Config{
		LogDir:       a.cfg.Tmux.LogDir,
		PollInterval: time.Duration(a.cfg.Tmux.PollIntervalMS) * time.Millisecond,
		InterruptKey: a.cfg.Tmux.InterruptKey,
		AgentCommand: a.cfg.Agent.Command,
		AgentArgs:    a.cfg.Agent.Args,
		ModeCommands: a.cfg.Agent.ModeCommands,
	}, client, workspaces)
}

// shutdown performs graceful shutdown of all components. Agent panes keep
// running; the snapshot lets the next process adopt them.
func (a *App) shutdown() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return nil
	}
	a.running = false

	log.Info().Msg("shutting down...")

	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.server.Stop(ctx); err != nil {
			log.Error().Err(err).Msg("error stopping HTTP server")
		}
		cancel()
	}

	if a.gateway != nil {
		a.gateway.Stop()
	}

	if err := a.hub.Stop(); err != nil {
		log.Error().Err(err).Msg("error stopping event hub")
	}

	if a.store != nil {
		_ = a.store.Close()
	}

	if a.snapshots != nil {
		if err := a.snapshots.Close(); err != nil {
			log.Error().Err(err).Msg("error closing session snapshot")
		}
	}

	log.Info().Msg("shutdown complete")
	return nil
}

// UptimeSeconds returns the number of seconds since Start.
func (a *App) UptimeSeconds() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.startTime.IsZero() {
		return 0
	}
	return int64(time.Since(a.startTime).Seconds())
}

// SessionCount returns the number of live sessions.
func (a *App) SessionCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.store == nil {
		return 0
	}
	return a.store.Count()
}

func (a *App) printConnectionInfo() {
	info := a.qr.Info()

	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, "╔════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(a.out, "║                     cbridge ready                          ║")
	fmt.Fprintln(a.out, "╠════════════════════════════════════════════════════════════╣")
	fmt.Fprintf(a.out, "║  API:        %-46s ║\n", truncateString(info.HTTP, 46))
	fmt.Fprintf(a.out, "║  WebSocket:  %-46s ║\n", truncateString(info.WebSocket, 46))
	fmt.Fprintf(a.out, "║  Sessions:   %-46d ║\n", a.store.Count())
	fmt.Fprintln(a.out, "╚════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(a.out)

	if a.cfg.Server.ShowQR {
		if err := a.qr.Print(a.out); err != nil {
			log.Warn().Err(err).Msg("failed to render QR code")
		}
	}
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
