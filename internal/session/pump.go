package session

import (
	"context"

	"github.com/brianly1003/cbridge/internal/domain/events"
)

// pump is the only reader of a session's pane stream. It runs until the
// stream ends. If the store stopped it, nothing else happens; otherwise the
// pane exited and the session ends.
func (s *Store) pump(ctx context.Context, rec *record, stream <-chan []byte) {
	defer s.wg.Done()

	for chunk := range stream {
		rec.mu.Lock()
		if rec.removed {
			rec.mu.Unlock()
			return
		}
		s.recordLocked(rec, chunk)
		rec.mu.Unlock()
	}

	if ctx.Err() != nil {
		return
	}
	s.paneExited(rec)
}

// paneExited ends a session whose pane went away on its own.
func (s *Store) paneExited(rec *record) {
	rec.mu.Lock()
	if rec.removed {
		rec.mu.Unlock()
		return
	}

	if evs := rec.parser.Flush(); len(evs) > 0 && len(rec.subs) > 0 {
		evs = s.applyEvents(rec, rec.echo.Filter(evs))
		s.broadcaster.SendTo(rec.subs, events.NewSessionOutputEvent(rec.id, 0, evs, ""))
	}
	s.endLocked(rec, events.ReasonPaneExited)
	rec.mu.Unlock()

	s.remove(rec.id)
	s.logger.Info("Session ended", "session_id", rec.id, "reason", events.ReasonPaneExited)

	// Release the workspace; the pane itself is already gone.
	if err := s.adapter.Terminate(context.Background(), rec.pane); err != nil {
		s.logger.Debug("Pane cleanup after exit", "session_id", rec.id, "error", err)
	}
}
