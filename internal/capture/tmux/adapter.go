package tmux

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/brianly1003/cbridge/internal/domain"
	"github.com/brianly1003/cbridge/internal/domain/ports"
	"github.com/brianly1003/cbridge/internal/workspace"
)

// Defaults for Config fields left empty.
const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultInterruptKey = "Escape"
	DefaultAgentCommand = "claude"

	sessionPrefix = "cb-"
	paneWidth     = "200"
	paneHeight    = "50"
)

// Config configures an Adapter.
type Config struct {
	// LogDir holds one pipe-pane log per tmux session.
	LogDir       string
	PollInterval time.Duration
	InterruptKey string

	// AgentCommand is run in every new pane, followed by AgentArgs.
	// ModeCommands replaces AgentCommand for a session mode.
	AgentCommand string
	AgentArgs    []string
	ModeCommands map[string]string
}

// Workspaces prepares and releases session working directories.
type Workspaces interface {
	Prepare(ctx context.Context, id, projectPath string, t domain.WorkspaceType) (workspace.Workspace, error)
	Release(ctx context.Context, ws workspace.Workspace) error
}

// Adapter implements ports.CaptureAdapter with tmux.
type Adapter struct {
	cfg        Config
	tmux       Runner
	workspaces Workspaces

	mu sync.Mutex
	// readers holds panes with an open ReadStream.
	readers map[string]bool
	// fresh holds panes provisioned by this process; their logs are read
	// from the start rather than from the current end.
	fresh map[string]bool
}

// NewAdapter creates a tmux capture adapter.
func NewAdapter(cfg Config, runner Runner, workspaces Workspaces) *Adapter {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.InterruptKey == "" {
		cfg.InterruptKey = DefaultInterruptKey
	}
	if cfg.AgentCommand == "" {
		cfg.AgentCommand = DefaultAgentCommand
	}
	return &Adapter{
		cfg:        cfg,
		tmux:       runner,
		workspaces: workspaces,
		readers:    make(map[string]bool),
		fresh:      make(map[string]bool),
	}
}

// ProvisionPane prepares the workspace, starts the agent in a detached tmux
// session and attaches pipe-pane to its log.
func (a *Adapter) ProvisionPane(ctx context.Context, req ports.PaneRequest) (domain.Pane, error) {
	name := SessionName(req.SessionID)

	ws, err := a.workspaces.Prepare(ctx, req.SessionID, req.ProjectPath, req.WorkspaceType)
	if err != nil {
		return domain.Pane{}, fmt.Errorf("prepare workspace: %w", err)
	}

	logPath := a.logPath(name)
	if err := os.MkdirAll(a.cfg.LogDir, 0700); err != nil {
		a.release(ws)
		return domain.Pane{}, fmt.Errorf("create log directory: %w", err)
	}
	if err := os.WriteFile(logPath, nil, 0600); err != nil {
		a.release(ws)
		return domain.Pane{}, fmt.Errorf("create pane log: %w", err)
	}

	out, err := a.tmux.Run(ctx,
		"new-session", "-d",
		"-s", name,
		"-c", ws.Dir,
		"-x", paneWidth, "-y", paneHeight,
		"-P", "-F", "#{session_name}:#{pane_id}",
		a.agentCommand(req.Mode),
	)
	if err != nil {
		a.release(ws)
		os.Remove(logPath)
		return domain.Pane{}, err
	}

	session, paneID, ok := strings.Cut(out, ":")
	if !ok || paneID == "" {
		session, paneID = name, ""
	}
	pane := domain.Pane{
		Session:     session,
		Pane:        paneID,
		WorkDir:     ws.Dir,
		ProjectPath: req.ProjectPath,
		Workspace:   ws.Type,
	}

	// Tear down on any later failure; a half-built session is useless.
	success := false
	defer func() {
		if !success {
			if _, err := a.tmux.Run(context.WithoutCancel(ctx), "kill-session", "-t", session); err != nil && !isGone(err) {
				log.Warn().Err(err).Str("tmux_session", session).Msg("failed to clean up tmux session")
			}
			a.release(ws)
			os.Remove(logPath)
		}
	}()

	if _, err := a.tmux.Run(ctx, "set-option", "-t", session, "remain-on-exit", "off"); err != nil {
		return domain.Pane{}, err
	}
	if _, err := a.tmux.Run(ctx, "pipe-pane", "-O", "-t", pane.Target(), "cat >> "+shellQuote(logPath)); err != nil {
		return domain.Pane{}, err
	}
	success = true

	a.mu.Lock()
	a.fresh[pane.Target()] = true
	a.mu.Unlock()

	log.Info().
		Str("session_id", req.SessionID).
		Str("tmux_session", session).
		Str("tmux_pane", paneID).
		Str("dir", ws.Dir).
		Msg("tmux pane provisioned")
	return pane, nil
}

// ReadStream tails the pane's log. The channel closes when the pane no longer
// exists or ctx is cancelled. A pane has at most one reader.
func (a *Adapter) ReadStream(ctx context.Context, pane domain.Pane) (<-chan []byte, error) {
	target := pane.Target()

	a.mu.Lock()
	if a.readers[target] {
		a.mu.Unlock()
		return nil, fmt.Errorf("pane %s already has a reader", target)
	}
	fresh := a.fresh[target]
	a.readers[target] = true
	a.mu.Unlock()

	release := func() {
		a.mu.Lock()
		delete(a.readers, target)
		a.mu.Unlock()
	}

	logPath := a.logPath(pane.Session)
	f, err := os.OpenFile(logPath, os.O_RDONLY|os.O_CREATE, 0600)
	if err != nil {
		release()
		return nil, fmt.Errorf("open pane log: %w", err)
	}

	var offset int64
	if !fresh {
		// An adopted pane: only what it writes from now on.
		if info, err := f.Stat(); err == nil {
			offset = info.Size()
		}
	}

	out := make(chan []byte, 64)
	t := &tailer{
		file:   f,
		offset: offset,
		poll:   a.cfg.PollInterval,
		alive:  func(ctx context.Context) bool { return a.HasPane(ctx, pane) },
		out:    out,
	}
	go func() {
		defer release()
		t.run(ctx)
	}()
	return out, nil
}

// SendKeys types text literally, then presses Enter.
func (a *Adapter) SendKeys(ctx context.Context, pane domain.Pane, text string) error {
	target := pane.Target()
	if text != "" {
		if _, err := a.tmux.Run(ctx, "send-keys", "-t", target, "-l", "--", text); err != nil {
			return err
		}
	}
	_, err := a.tmux.Run(ctx, "send-keys", "-t", target, "Enter")
	return err
}

// SendControl presses named keys such as "Escape", "C-c" or "1".
func (a *Adapter) SendControl(ctx context.Context, pane domain.Pane, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	args := append([]string{"send-keys", "-t", pane.Target()}, keys...)
	_, err := a.tmux.Run(ctx, args...)
	return err
}

// Interrupt presses the configured interrupt key.
func (a *Adapter) Interrupt(ctx context.Context, pane domain.Pane) error {
	return a.SendControl(ctx, pane, a.cfg.InterruptKey)
}

// Terminate kills the tmux session and removes its workspace and log. A
// session that is already gone is not an error.
func (a *Adapter) Terminate(ctx context.Context, pane domain.Pane) error {
	var errs []error
	if _, err := a.tmux.Run(ctx, "kill-session", "-t", pane.Session); err != nil && !isGone(err) {
		errs = append(errs, err)
	}

	ws := workspace.Workspace{Type: pane.Workspace, ProjectPath: pane.ProjectPath, Dir: pane.WorkDir}
	if err := a.workspaces.Release(ctx, ws); err != nil {
		errs = append(errs, err)
	}
	if err := os.Remove(a.logPath(pane.Session)); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}

	a.mu.Lock()
	delete(a.fresh, pane.Target())
	a.mu.Unlock()

	log.Info().Str("tmux_session", pane.Session).Str("tmux_pane", pane.Pane).Msg("tmux pane terminated")
	return errors.Join(errs...)
}

// HasPane reports whether the pane still exists.
func (a *Adapter) HasPane(ctx context.Context, pane domain.Pane) bool {
	if pane.Pane == "" {
		_, err := a.tmux.Run(ctx, "has-session", "-t", pane.Session)
		return err == nil
	}
	out, err := a.tmux.Run(ctx, "display-message", "-p", "-t", pane.Pane, "#{pane_id}")
	return err == nil && out == pane.Pane
}

// SessionName returns the tmux session name for a session id.
func SessionName(id string) string {
	short := strings.ReplaceAll(id, "-", "")
	if len(short) > 12 {
		short = short[:12]
	}
	return sessionPrefix + short
}

func (a *Adapter) logPath(session string) string {
	return filepath.Join(a.cfg.LogDir, session+".log")
}

func (a *Adapter) agentCommand(mode domain.Mode) string {
	command := a.cfg.AgentCommand
	if c, ok := a.cfg.ModeCommands[string(mode)]; ok && c != "" {
		command = c
	}
	if len(a.cfg.AgentArgs) == 0 {
		return command
	}
	return command + " " + shellJoin(a.cfg.AgentArgs)
}

func (a *Adapter) release(ws workspace.Workspace) {
	if err := a.workspaces.Release(context.Background(), ws); err != nil {
		log.Warn().Err(err).Str("dir", ws.Dir).Msg("failed to release workspace")
	}
}

var _ ports.CaptureAdapter = (*Adapter)(nil)
