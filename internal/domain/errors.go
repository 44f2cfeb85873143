// Package domain contains domain errors used throughout the application.
package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the session bridge error taxonomy.
var (
	ErrCreateFailed      = errors.New("create failed")
	ErrSessionNotFound   = errors.New("session not found")
	ErrPipeClosed        = errors.New("pipe closed")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrProtocol          = errors.New("protocol error")
	ErrSubscriberClosed  = errors.New("subscriber is closed")
)

// Error codes for client responses.
const (
	ErrCodeCreateFailed      = "CREATE_FAILED"
	ErrCodeSessionNotFound   = "SESSION_NOT_FOUND"
	ErrCodePipeClosed        = "PIPE_CLOSED"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeProtocolError     = "PROTOCOL_ERROR"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)

// SessionError represents a failed operation on a session.
type SessionError struct {
	Op        string // Operation that failed
	SessionID string // Session the operation targeted, may be empty
	Err       error  // Underlying error
}

func (e *SessionError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.SessionID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// NewSessionError creates a new SessionError.
func NewSessionError(op, sessionID string, err error) *SessionError {
	return &SessionError{
		Op:        op,
		SessionID: sessionID,
		Err:       err,
	}
}

// ErrorCode maps an error to the wire code sent to clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrCreateFailed):
		return ErrCodeCreateFailed
	case errors.Is(err, ErrSessionNotFound):
		return ErrCodeSessionNotFound
	case errors.Is(err, ErrPipeClosed):
		return ErrCodePipeClosed
	case errors.Is(err, ErrInvalidTransition):
		return ErrCodeInvalidTransition
	case errors.Is(err, ErrProtocol):
		return ErrCodeProtocolError
	default:
		return ErrCodeInternalError
	}
}

// SessionIDOf returns the session id carried by err, if any.
func SessionIDOf(err error) string {
	var se *SessionError
	if errors.As(err, &se) {
		return se.SessionID
	}
	return ""
}
