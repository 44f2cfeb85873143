// Package session owns the table of agent sessions: their lifecycle,
// status, pending permission and subscribed connections.
package session

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianly1003/cbridge/internal/domain"
	"github.com/brianly1003/cbridge/internal/parser"
	"github.com/brianly1003/cbridge/internal/ringbuffer"
)

// record is the mutable state behind one ManagedSession. Every field below mu
// is guarded by it; pane and id never change after creation.
type record struct {
	id   string
	pane domain.Pane

	mu      sync.Mutex
	info    domain.ManagedSession
	subs    []string
	pending *domain.PermissionRequest
	ring    *ringbuffer.Buffer
	parser  *parser.Parser
	echo    *parser.EchoFilter

	// removed is set once the record has left the store; operations that
	// observe it report the session as not found.
	removed bool

	// offline is set with the offline status and read without mu.
	offline atomic.Bool

	// stop cancels the read pump.
	stop context.CancelFunc
}

func newRecord(info domain.ManagedSession, opts Options) *record {
	return &record{
		id:     info.ID,
		pane:   info.Pane(),
		info:   info,
		ring:   ringbuffer.New(opts.BufferCapacity),
		parser: parser.New(parser.Options{ToolResultMaxBytes: opts.ToolResultMaxBytes}),
		echo:   parser.NewEchoFilter(opts.EchoQueueSize),
	}
}

// snapshot returns a copy safe to hand out. Caller holds mu.
func (r *record) snapshot() domain.ManagedSession {
	s := r.info
	s.ConnectedClients = slices.Clone(r.subs)
	if s.ConnectedClients == nil {
		s.ConnectedClients = []string{}
	}
	if r.pending != nil {
		p := *r.pending
		s.PendingRequest = &p
	}
	return s
}

// subscribe adds connID once. Caller holds mu.
func (r *record) subscribe(connID string) bool {
	if slices.Contains(r.subs, connID) {
		return false
	}
	r.subs = append(r.subs, connID)
	return true
}

// unsubscribe removes connID if present. Caller holds mu.
func (r *record) unsubscribe(connID string) bool {
	i := slices.Index(r.subs, connID)
	if i < 0 {
		return false
	}
	r.subs = slices.Delete(r.subs, i, i+1)
	return true
}

// touch updates lastActivity. Caller holds mu.
func (r *record) touch(now time.Time) {
	r.info.LastActivity = now
}

// goOffline applies the terminal state. Caller holds mu.
func (r *record) goOffline() {
	r.info.Status = domain.StatusOffline
	r.offline.Store(true)
	r.info.PipeActive = false
	r.info.PendingRequest = nil
	r.pending = nil
	if r.stop != nil {
		r.stop()
	}
}
