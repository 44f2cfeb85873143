package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brianly1003/cbridge/internal/domain"
	"github.com/brianly1003/cbridge/internal/domain/events"
	"github.com/brianly1003/cbridge/internal/domain/ports"
	"github.com/brianly1003/cbridge/internal/parser"
	"github.com/brianly1003/cbridge/internal/ringbuffer"
)

// Keys sent to the pane to answer a permission prompt.
const (
	ApproveKey = "1"
	DenyKey    = "Escape"
)

// DefaultMaxSessions bounds the sessions one process runs.
const DefaultMaxSessions = 16

// Recorder receives output and session-count observations (metrics).
type Recorder interface {
	ObserveOutput(bytes int, evs []events.OutputEvent)
	SetSessions(n int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOutput(int, []events.OutputEvent) {}
func (nopRecorder) SetSessions(int)                         {}

// Options configures a Store.
type Options struct {
	BufferCapacity     int
	MaxSessions        int
	ToolResultMaxBytes int
	EchoQueueSize      int
	Recorder           Recorder
}

func (o *Options) setDefaults() {
	if o.BufferCapacity <= 0 {
		o.BufferCapacity = ringbuffer.DefaultCapacity
	}
	if o.MaxSessions <= 0 {
		o.MaxSessions = DefaultMaxSessions
	}
	if o.ToolResultMaxBytes <= 0 {
		o.ToolResultMaxBytes = parser.DefaultToolResultMaxBytes
	}
	if o.EchoQueueSize <= 0 {
		o.EchoQueueSize = parser.DefaultEchoQueueSize
	}
	if o.Recorder == nil {
		o.Recorder = nopRecorder{}
	}
}

// CreateRequest holds the parameters of a new session.
type CreateRequest struct {
	ProjectPath   string
	Mode          string
	Name          string
	WorkspaceType string
}

// Store is the single owner of every ManagedSession. All mutation goes
// through its methods; readers get copies.
//
// Lock order: a record's mu may be taken while holding nothing, and Store.mu
// is never held while taking a record's mu.
type Store struct {
	adapter     ports.CaptureAdapter
	broadcaster ports.Broadcaster
	snapshots   ports.SnapshotStore
	opts        Options
	logger      *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*record
	order    []string
	// reserved counts creates in flight, so the session limit holds while
	// panes are being provisioned.
	reserved int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now   func() time.Time
	newID func() string
}

// NewStore creates a session store. snapshots may be nil to disable persistence.
func NewStore(adapter ports.CaptureAdapter, broadcaster ports.Broadcaster, snapshots ports.SnapshotStore, opts Options, logger *slog.Logger) *Store {
	opts.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Store{
		adapter:     adapter,
		broadcaster: broadcaster,
		snapshots:   snapshots,
		opts:        opts,
		logger:      logger,
		sessions:    make(map[string]*record),
		ctx:         ctx,
		cancel:      cancel,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       func() string { return uuid.New().String() },
	}
}

// Create provisions a pane and registers a new idle session reading from it.
func (s *Store) Create(ctx context.Context, req CreateRequest) (domain.ManagedSession, error) {
	mode, err := domain.ParseMode(req.Mode)
	if err != nil {
		return domain.ManagedSession{}, createError(err)
	}
	wsType, err := domain.ParseWorkspaceType(req.WorkspaceType)
	if err != nil {
		return domain.ManagedSession{}, createError(err)
	}
	projectPath, err := checkProjectPath(req.ProjectPath)
	if err != nil {
		return domain.ManagedSession{}, createError(err)
	}

	if err := s.reserve(); err != nil {
		return domain.ManagedSession{}, err
	}
	defer s.release()

	id := s.newID()
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = filepath.Base(projectPath)
	}

	pane, err := s.adapter.ProvisionPane(ctx, ports.PaneRequest{
		SessionID:     id,
		Name:          name,
		ProjectPath:   projectPath,
		Mode:          mode,
		WorkspaceType: wsType,
	})
	if err != nil {
		s.logger.Warn("Failed to provision pane", "project_path", projectPath, "error", err)
		return domain.ManagedSession{}, createError(err)
	}

	now := s.now()
	info := domain.ManagedSession{
		ID:            id,
		Name:          name,
		TmuxSession:   pane.Session,
		TmuxPane:      pane.Pane,
		ProjectPath:   projectPath,
		WorkDir:       pane.WorkDir,
		Mode:          mode,
		WorkspaceType: wsType,
		Status:        domain.StatusIdle,
		PipeActive:    true,
		CreatedAt:     now,
		LastActivity:  now,
	}
	rec := newRecord(info, s.opts)

	if err := s.start(rec); err != nil {
		if termErr := s.adapter.Terminate(context.WithoutCancel(ctx), pane); termErr != nil {
			s.logger.Debug("Failed to clean up pane", "session_id", id, "error", termErr)
		}
		return domain.ManagedSession{}, createError(err)
	}

	s.persist(info)
	s.logger.Info("Session created",
		"session_id", id,
		"name", name,
		"project_path", projectPath,
		"mode", mode,
		"workspace_type", wsType,
		"tmux_pane", pane.Target(),
	)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.snapshot(), nil
}

// start opens the pane stream, adds rec to the table and runs its pump.
func (s *Store) start(rec *record) error {
	pumpCtx, stop := context.WithCancel(s.ctx)
	stream, err := s.adapter.ReadStream(pumpCtx, rec.pane)
	if err != nil {
		stop()
		return fmt.Errorf("open pane stream: %w", err)
	}
	rec.stop = stop

	s.mu.Lock()
	s.sessions[rec.id] = rec
	s.order = append(s.order, rec.id)
	n := len(s.sessions)
	s.mu.Unlock()
	s.opts.Recorder.SetSessions(n)

	s.wg.Add(1)
	go s.pump(pumpCtx, rec, stream)
	return nil
}

func (s *Store) reserve() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sessions)+s.reserved >= s.opts.MaxSessions {
		return createError(fmt.Errorf("session limit of %d reached", s.opts.MaxSessions))
	}
	s.reserved++
	return nil
}

func (s *Store) release() {
	s.mu.Lock()
	s.reserved--
	s.mu.Unlock()
}

func createError(err error) error {
	return domain.NewSessionError("create", "", fmt.Errorf("%w: %v", domain.ErrCreateFailed, err))
}

func checkProjectPath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("project path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve project path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("project path: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("project path %s is not a directory", abs)
	}
	return abs, nil
}

// lookup returns the live record for id.
func (s *Store) lookup(op, id string) (*record, error) {
	s.mu.RLock()
	rec, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.NewSessionError(op, id, domain.ErrSessionNotFound)
	}
	return rec, nil
}

// lock returns id's record locked, or SessionNotFound if it is gone.
func (s *Store) lock(op, id string) (*record, error) {
	rec, err := s.lookup(op, id)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	if rec.removed {
		rec.mu.Unlock()
		return nil, domain.NewSessionError(op, id, domain.ErrSessionNotFound)
	}
	return rec, nil
}

// Get returns a copy of one session.
func (s *Store) Get(id string) (domain.ManagedSession, error) {
	rec, err := s.lock("get", id)
	if err != nil {
		return domain.ManagedSession{}, err
	}
	defer rec.mu.Unlock()
	return rec.snapshot(), nil
}

// List returns copies of every session in creation order.
func (s *Store) List() []domain.ManagedSession {
	s.mu.RLock()
	recs := make([]*record, 0, len(s.order))
	for _, id := range s.order {
		recs = append(recs, s.sessions[id])
	}
	s.mu.RUnlock()

	out := make([]domain.ManagedSession, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		if !rec.removed {
			out = append(out, rec.snapshot())
		}
		rec.mu.Unlock()
	}
	return out
}

// Count returns the number of sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Subscribe adds connID to the session's subscribers and sends it the current
// status. With replay, the retained output is sent first as a single
// session_raw message; nothing produced afterwards can overtake it.
func (s *Store) Subscribe(id, connID string, replay bool) (domain.ManagedSession, error) {
	rec, err := s.lock("connect", id)
	if err != nil {
		return domain.ManagedSession{}, err
	}
	defer rec.mu.Unlock()

	if rec.subscribe(connID) {
		s.logger.Debug("Client subscribed", "session_id", id, "client_id", connID, "subscribers", len(rec.subs))
	}

	target := []string{connID}
	if replay {
		s.broadcaster.SendTo(target, events.NewReplayEvent(id, string(rec.ring.Bytes()), rec.ring.Len()))
	}
	s.broadcaster.SendTo(target, events.NewSessionStatusEvent(id, rec.info.Status, rec.pending))

	return rec.snapshot(), nil
}

// Unsubscribe removes connID from the session's subscribers. Removing a
// connection that is not subscribed is not an error. The session keeps
// running with no subscribers.
func (s *Store) Unsubscribe(id, connID string) error {
	rec, err := s.lock("disconnect", id)
	if err != nil {
		return err
	}
	defer rec.mu.Unlock()

	if rec.unsubscribe(connID) {
		s.logger.Debug("Client unsubscribed", "session_id", id, "client_id", connID, "subscribers", len(rec.subs))
	}
	return nil
}

// UnsubscribeAll removes connID from every session. It is called when a
// connection closes.
func (s *Store) UnsubscribeAll(connID string) {
	s.mu.RLock()
	recs := make([]*record, 0, len(s.sessions))
	for _, rec := range s.sessions {
		recs = append(recs, rec)
	}
	s.mu.RUnlock()

	for _, rec := range recs {
		rec.mu.Lock()
		rec.unsubscribe(connID)
		rec.mu.Unlock()
	}
}

// RecordOutput appends a captured chunk to the session's buffer, parses it
// and fans the result out to subscribers. It returns the events produced.
func (s *Store) RecordOutput(id string, chunk []byte) ([]events.OutputEvent, error) {
	rec, err := s.lock("output", id)
	if err != nil {
		return nil, err
	}
	defer rec.mu.Unlock()
	return s.recordLocked(rec, chunk), nil
}

// recordLocked does the work of RecordOutput. Caller holds rec.mu, which is
// what keeps buffer order, parse order and delivery order identical.
func (s *Store) recordLocked(rec *record, chunk []byte) []events.OutputEvent {
	entry := rec.ring.Append(chunk)
	evs := rec.echo.Filter(rec.parser.Feed(chunk))
	rec.touch(entry.Time.UTC())

	before := rec.info.Status
	evs = s.applyEvents(rec, evs)
	s.announceStatus(rec, before)

	if len(rec.subs) > 0 {
		s.broadcaster.SendTo(rec.subs, events.NewSessionOutputEvent(rec.id, entry.Seq, evs, string(chunk)))
	}
	s.opts.Recorder.ObserveOutput(len(chunk), evs)
	return evs
}

// applyEvents updates status and the pending permission from parsed events.
// Permission events are stamped with the request id clients must answer.
func (s *Store) applyEvents(rec *record, evs []events.OutputEvent) []events.OutputEvent {
	for i := range evs {
		ev := &evs[i]
		switch ev.Kind {
		case events.OutputPermissionRequest:
			if rec.pending == nil {
				rec.pending = &domain.PermissionRequest{
					ID:        s.newID(),
					Action:    ev.Action,
					Details:   ev.Details,
					CreatedAt: s.now(),
				}
				rec.info.Status = domain.StatusWaitingPermission
				s.logger.Info("Permission requested", "session_id", rec.id, "action", ev.Action, "request_id", rec.pending.ID)
			}
			ev.RequestID = rec.pending.ID

		case events.OutputStatus:
			// Only an answer or an interrupt leaves waiting_permission.
			switch {
			case ev.State == parser.StateWorking && rec.info.Status == domain.StatusIdle:
				rec.info.Status = domain.StatusWorking
			case ev.State == parser.StateIdle && rec.info.Status == domain.StatusWorking:
				rec.info.Status = domain.StatusIdle
			}
		}
	}
	return evs
}

// announceStatus sends session_status if the status moved away from before.
// Caller holds rec.mu.
func (s *Store) announceStatus(rec *record, before domain.Status) {
	if rec.info.Status == before {
		return
	}
	s.logger.Debug("Session status changed", "session_id", rec.id, "from", before, "to", rec.info.Status)
	if len(rec.subs) > 0 {
		s.broadcaster.SendTo(rec.subs, events.NewSessionStatusEvent(rec.id, rec.info.Status, rec.pending))
	}
}

// SetStatus applies a validated status change and tells every subscriber.
// waiting_permission is entered only by a permission prompt and left only by
// ResolvePermission or Interrupt. Setting offline stops the read pump; the
// record stays until it is killed.
func (s *Store) SetStatus(id string, status domain.Status) error {
	rec, err := s.lock("status", id)
	if err != nil {
		return err
	}
	defer rec.mu.Unlock()

	from := rec.info.Status
	if err := checkTransition(from, status); err != nil {
		return domain.NewSessionError("status", id, err)
	}
	if from == status {
		return nil
	}
	if status == domain.StatusWaitingPermission || from == domain.StatusWaitingPermission {
		return domain.NewSessionError("status", id,
			fmt.Errorf("%w: %s -> %s requires a permission prompt or answer", domain.ErrInvalidTransition, from, status))
	}

	if status == domain.StatusOffline {
		rec.goOffline()
	} else {
		rec.info.Status = status
	}
	rec.touch(s.now())
	s.announceStatus(rec, from)
	return nil
}

// SendInput types text into the session's pane. An idle session becomes
// working, and subscribers are sent the input as a userInput event at once;
// the pane's own echo of it is suppressed.
func (s *Store) SendInput(ctx context.Context, id, text string) error {
	rec, err := s.lock("input", id)
	if err != nil {
		return err
	}
	defer rec.mu.Unlock()

	if rec.info.Status == domain.StatusOffline || !rec.info.PipeActive {
		return domain.NewSessionError("input", id, domain.ErrPipeClosed)
	}

	if err := s.adapter.SendKeys(ctx, rec.pane, text); err != nil {
		s.logger.Warn("Failed to send input", "session_id", id, "error", err)
		return domain.NewSessionError("input", id, fmt.Errorf("%w: %v", domain.ErrPipeClosed, err))
	}
	// rec.mu is still held, so the pane's echo cannot be parsed before this.
	rec.echo.Expect(text)

	before := rec.info.Status
	if before == domain.StatusIdle {
		rec.info.Status = domain.StatusWorking
	}
	rec.touch(s.now())
	s.announceStatus(rec, before)

	if len(rec.subs) > 0 {
		echo := []events.OutputEvent{events.NewUserInput(strings.TrimSpace(text))}
		s.broadcaster.SendTo(rec.subs, events.NewSessionOutputEvent(id, 0, echo, ""))
	}
	return nil
}

// Interrupt sends the interrupt key to the pane regardless of status, then
// returns a working or waiting session to idle, dropping any pending
// permission. It is a no-op on an offline session.
func (s *Store) Interrupt(ctx context.Context, id string) error {
	rec, err := s.lookup("interrupt", id)
	if err != nil {
		return err
	}
	if rec.offline.Load() {
		return nil
	}

	// The key goes out before rec.mu is taken, so it is never queued behind
	// an input write or output processing.
	if err := s.adapter.Interrupt(ctx, rec.pane); err != nil {
		return domain.NewSessionError("interrupt", id, fmt.Errorf("%w: %v", domain.ErrPipeClosed, err))
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.removed || rec.info.Status == domain.StatusOffline {
		return nil
	}

	before := rec.info.Status
	if rec.pending != nil {
		s.logger.Info("Permission cancelled by interrupt", "session_id", id, "request_id", rec.pending.ID)
		rec.pending = nil
	}
	rec.parser.EndPrompt()
	rec.info.Status = domain.StatusIdle
	rec.touch(s.now())
	s.announceStatus(rec, before)
	return nil
}

// ResolvePermission answers the pending permission request. requestID must
// match the pending request; otherwise nothing changes.
func (s *Store) ResolvePermission(ctx context.Context, id, requestID string, approved bool) error {
	rec, err := s.lock("permission", id)
	if err != nil {
		return err
	}
	defer rec.mu.Unlock()

	if rec.info.Status == domain.StatusOffline {
		return domain.NewSessionError("permission", id, domain.ErrPipeClosed)
	}
	if rec.pending == nil || rec.info.Status != domain.StatusWaitingPermission {
		return domain.NewSessionError("permission", id,
			fmt.Errorf("%w: no pending permission request", domain.ErrInvalidTransition))
	}
	if rec.pending.ID != requestID {
		return domain.NewSessionError("permission", id,
			fmt.Errorf("%w: request %q is not the pending request", domain.ErrInvalidTransition, requestID))
	}

	key, next := DenyKey, domain.StatusIdle
	if approved {
		key, next = ApproveKey, domain.StatusWorking
	}
	if err := s.adapter.SendControl(ctx, rec.pane, key); err != nil {
		return domain.NewSessionError("permission", id, fmt.Errorf("%w: %v", domain.ErrPipeClosed, err))
	}

	s.logger.Info("Permission resolved", "session_id", id, "request_id", requestID, "approved", approved)
	before := rec.info.Status
	rec.pending = nil
	rec.parser.EndPrompt()
	rec.info.Status = next
	rec.touch(s.now())
	s.announceStatus(rec, before)
	return nil
}

// Kill terminates the session's pane, tells every subscriber the session
// ended, and removes it.
func (s *Store) Kill(ctx context.Context, id string) error {
	rec, err := s.lock("kill", id)
	if err != nil {
		return err
	}

	if err := s.adapter.Terminate(ctx, rec.pane); err != nil {
		// The pane may already be gone; the record still goes.
		s.logger.Warn("Failed to terminate pane", "session_id", id, "tmux_pane", rec.pane.Target(), "error", err)
	}
	s.endLocked(rec, events.ReasonKilled)
	rec.mu.Unlock()

	s.remove(rec.id)
	s.logger.Info("Session killed", "session_id", id)
	return nil
}

// endLocked moves rec to offline and notifies subscribers and the list view.
// Caller holds rec.mu.
func (s *Store) endLocked(rec *record, reason string) {
	before := rec.info.Status
	rec.goOffline()
	rec.touch(s.now())
	s.announceStatus(rec, before)
	s.broadcaster.Announce(events.NewSessionEndedEvent(rec.id, reason))
	rec.removed = true
}

// remove drops a record from the table and the snapshot.
func (s *Store) remove(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	n := len(s.sessions)
	s.mu.Unlock()

	s.opts.Recorder.SetSessions(n)
	if s.snapshots != nil {
		if err := s.snapshots.Delete(context.Background(), id); err != nil {
			s.logger.Warn("Failed to delete session snapshot", "session_id", id, "error", err)
		}
	}
}

func (s *Store) persist(info domain.ManagedSession) {
	if s.snapshots == nil {
		return
	}
	if err := s.snapshots.Put(context.Background(), info); err != nil {
		s.logger.Warn("Failed to persist session snapshot", "session_id", info.ID, "error", err)
	}
}

// Restore re-adopts the panes recorded in the snapshot. Panes that no longer
// exist are dropped from the snapshot. It returns the number restored.
func (s *Store) Restore(ctx context.Context) (int, error) {
	if s.snapshots == nil {
		return 0, nil
	}
	saved, err := s.snapshots.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list session snapshot: %w", err)
	}

	restored := 0
	for _, info := range saved {
		pane := info.Pane()
		if !s.adapter.HasPane(ctx, pane) {
			s.logger.Info("Dropping session whose pane is gone", "session_id", info.ID, "tmux_pane", pane.Target())
			if err := s.snapshots.Delete(ctx, info.ID); err != nil {
				s.logger.Warn("Failed to delete session snapshot", "session_id", info.ID, "error", err)
			}
			continue
		}
		if s.Count() >= s.opts.MaxSessions {
			s.logger.Warn("Session limit reached while restoring", "session_id", info.ID)
			break
		}

		info.Status = domain.StatusIdle
		info.PipeActive = true
		info.ConnectedClients = nil
		info.PendingRequest = nil
		info.LastActivity = s.now()
		if info.Mode == "" {
			info.Mode = domain.ModeStandalone
		}
		if info.WorkspaceType == "" {
			info.WorkspaceType = domain.WorkspacePrimary
		}

		if err := s.start(newRecord(info, s.opts)); err != nil {
			s.logger.Warn("Failed to restore session", "session_id", info.ID, "error", err)
			continue
		}
		restored++
		s.logger.Info("Session restored", "session_id", info.ID, "tmux_pane", pane.Target())
	}
	return restored, nil
}

// Close stops every read pump. Panes are left running so a later process
// can restore them.
func (s *Store) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}
