package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/brianly1003/cbridge/internal/domain"
)

// Client message types.
const (
	TypeSessionList       = "session_list"
	TypeSessionCreate     = "session_create"
	TypeSessionConnect    = "session_connect"
	TypeSessionDisconnect = "session_disconnect"
	TypeSessionInput      = "session_input"
	TypeSessionInterrupt  = "session_interrupt"
	TypeSessionKill       = "session_kill"
	TypeSessionPermission = "session_permission"
)

// ClientMessage is the union of every client → server message. Only the
// fields relevant to Type are read.
type ClientMessage struct {
	Type string `json:"type"`
	// ID is an optional correlation id echoed back as requestId.
	ID string `json:"id,omitempty"`

	SessionID string `json:"sessionId,omitempty"`

	// session_create
	ProjectPath   string `json:"projectPath,omitempty"`
	Mode          string `json:"mode,omitempty"`
	Name          string `json:"name,omitempty"`
	WorkspaceType string `json:"workspaceType,omitempty"`

	// session_connect
	Replay  bool `json:"replay,omitempty"`
	RawOnly bool `json:"rawOnly,omitempty"`

	// session_input
	Text string `json:"text,omitempty"`

	// session_permission
	RequestID string `json:"requestId,omitempty"`
	Approved  *bool  `json:"approved,omitempty"`
}

func protocolError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrProtocol, fmt.Sprintf(format, args...))
}

// decodeMessage parses and validates one frame. On failure the returned
// message still carries whatever id and sessionId could be read, so the
// error reply can be attributed.
func decodeMessage(frame []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		return ClientMessage{}, protocolError("malformed message: %v", err)
	}
	return msg, msg.validate()
}

func (m ClientMessage) validate() error {
	switch m.Type {
	case "":
		return protocolError("missing message type")
	case TypeSessionList:
		return nil
	case TypeSessionCreate:
		if m.ProjectPath == "" {
			return protocolError("%s requires projectPath", m.Type)
		}
		return nil
	case TypeSessionConnect, TypeSessionDisconnect, TypeSessionInput, TypeSessionInterrupt, TypeSessionKill:
		if m.SessionID == "" {
			return protocolError("%s requires sessionId", m.Type)
		}
		return nil
	case TypeSessionPermission:
		switch {
		case m.SessionID == "":
			return protocolError("%s requires sessionId", m.Type)
		case m.RequestID == "":
			return protocolError("%s requires requestId", m.Type)
		case m.Approved == nil:
			return protocolError("%s requires approved", m.Type)
		}
		return nil
	}
	return protocolError("unknown message type %q", m.Type)
}
