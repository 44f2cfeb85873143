package events

import (
	"github.com/brianly1003/cbridge/internal/domain"
)

// SessionListEvent is the reply to session_list.
type SessionListEvent struct {
	Header
	Sessions  []domain.ManagedSession `json:"sessions"`
	RequestID string                  `json:"requestId,omitempty"`
}

// GetSessionID returns an empty string; the list is not scoped to one session.
func (e *SessionListEvent) GetSessionID() string { return "" }

// NewSessionListEvent creates a session_list reply.
func NewSessionListEvent(sessions []domain.ManagedSession, requestID string) *SessionListEvent {
	if sessions == nil {
		sessions = []domain.ManagedSession{}
	}
	return &SessionListEvent{
		Header:    newHeader(EventTypeSessionList),
		Sessions:  sessions,
		RequestID: requestID,
	}
}

// SessionCreatedEvent announces a new session to every list-view connection.
type SessionCreatedEvent struct {
	Header
	Session   domain.ManagedSession `json:"session"`
	RequestID string                `json:"requestId,omitempty"`
}

func (e *SessionCreatedEvent) GetSessionID() string { return e.Session.ID }

// NewSessionCreatedEvent creates a session_created message.
func NewSessionCreatedEvent(session domain.ManagedSession, requestID string) *SessionCreatedEvent {
	return &SessionCreatedEvent{
		Header:    newHeader(EventTypeSessionCreated),
		Session:   session,
		RequestID: requestID,
	}
}

// SessionOutputEvent carries both the parsed events and the raw text of one
// captured chunk so clients can render either view.
type SessionOutputEvent struct {
	Header
	SessionID string        `json:"sessionId"`
	Seq       uint64        `json:"seq,omitempty"`
	Events    []OutputEvent `json:"events"`
	Raw       string        `json:"raw"`
}

func (e *SessionOutputEvent) GetSessionID() string { return e.SessionID }

// NewSessionOutputEvent creates a session_output message.
func NewSessionOutputEvent(sessionID string, seq uint64, evs []OutputEvent, raw string) *SessionOutputEvent {
	if evs == nil {
		evs = []OutputEvent{}
	}
	return &SessionOutputEvent{
		Header:    newHeader(EventTypeSessionOutput),
		SessionID: sessionID,
		Seq:       seq,
		Events:    evs,
		Raw:       raw,
	}
}

// SessionRawEvent carries bytes only. Replay is delivered as one SessionRawEvent
// with Replay set, ahead of any live output.
type SessionRawEvent struct {
	Header
	SessionID string `json:"sessionId"`
	Data      string `json:"data"`
	Replay    bool   `json:"replay,omitempty"`
	// Chunks is the number of buffered chunks folded into a replay.
	Chunks int `json:"chunks,omitempty"`
}

func (e *SessionRawEvent) GetSessionID() string { return e.SessionID }

// NewSessionRawEvent creates a live session_raw message.
func NewSessionRawEvent(sessionID, data string) *SessionRawEvent {
	return &SessionRawEvent{
		Header:    newHeader(EventTypeSessionRaw),
		SessionID: sessionID,
		Data:      data,
	}
}

// NewReplayEvent creates the session_raw message that replays buffered output.
func NewReplayEvent(sessionID, data string, chunks int) *SessionRawEvent {
	return &SessionRawEvent{
		Header:    newHeader(EventTypeSessionRaw),
		SessionID: sessionID,
		Data:      data,
		Replay:    true,
		Chunks:    chunks,
	}
}

// SessionStatusEvent reports a status transition.
type SessionStatusEvent struct {
	Header
	SessionID string                    `json:"sessionId"`
	Status    domain.Status             `json:"status"`
	Pending   *domain.PermissionRequest `json:"pendingPermission,omitempty"`
}

func (e *SessionStatusEvent) GetSessionID() string { return e.SessionID }

// NewSessionStatusEvent creates a session_status message.
func NewSessionStatusEvent(sessionID string, status domain.Status, pending *domain.PermissionRequest) *SessionStatusEvent {
	return &SessionStatusEvent{
		Header:    newHeader(EventTypeSessionStatus),
		SessionID: sessionID,
		Status:    status,
		Pending:   pending,
	}
}

// Termination reasons carried by session_ended.
const (
	ReasonKilled     = "killed"
	ReasonPaneExited = "pane exited"
)

// SessionEndedEvent tells subscribers a session is gone.
type SessionEndedEvent struct {
	Header
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

func (e *SessionEndedEvent) GetSessionID() string { return e.SessionID }

// NewSessionEndedEvent creates a session_ended message.
func NewSessionEndedEvent(sessionID, reason string) *SessionEndedEvent {
	return &SessionEndedEvent{
		Header:    newHeader(EventTypeSessionEnded),
		SessionID: sessionID,
		Reason:    reason,
	}
}

// SessionErrorEvent reports a recoverable failure to the requesting connection.
type SessionErrorEvent struct {
	Header
	SessionID string `json:"sessionId,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

func (e *SessionErrorEvent) GetSessionID() string { return e.SessionID }

// NewSessionErrorEvent creates a session_error message.
func NewSessionErrorEvent(sessionID, code, message, requestID string) *SessionErrorEvent {
	return &SessionErrorEvent{
		Header:    newHeader(EventTypeSessionError),
		SessionID: sessionID,
		Code:      code,
		Message:   message,
		RequestID: requestID,
	}
}

// NewSessionErrorFromErr builds a session_error from a domain error.
// The session id falls back to the one carried by err.
func NewSessionErrorFromErr(sessionID string, err error, requestID string) *SessionErrorEvent {
	if sessionID == "" {
		sessionID = domain.SessionIDOf(err)
	}
	return NewSessionErrorEvent(sessionID, domain.ErrorCode(err), err.Error(), requestID)
}

// HeartbeatEvent is sent periodically so clients can detect stalled connections.
type HeartbeatEvent struct {
	Header
	Sequence int64 `json:"sequence"`
	Sessions int   `json:"sessions"`
}

func (e *HeartbeatEvent) GetSessionID() string { return "" }

// NewHeartbeatEvent creates a heartbeat message.
func NewHeartbeatEvent(sequence int64, sessions int) *HeartbeatEvent {
	return &HeartbeatEvent{
		Header:   newHeader(EventTypeHeartbeat),
		Sequence: sequence,
		Sessions: sessions,
	}
}
