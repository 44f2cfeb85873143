package domain

import (
	"fmt"
	"time"
)

// Status represents the current state of a managed session.
type Status string

const (
	StatusIdle              Status = "idle"
	StatusWorking           Status = "working"
	StatusWaitingPermission Status = "waiting_permission"
	StatusOffline           Status = "offline"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusWorking, StatusWaitingPermission, StatusOffline:
		return true
	}
	return false
}

// Mode is how the agent in a session is driven.
type Mode string

const (
	ModeStandalone   Mode = "standalone"
	ModeSwarm        Mode = "swarm"
	ModeOrchestrated Mode = "orchestrated"
)

// ParseMode validates a mode string. An empty string selects standalone.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeStandalone, nil
	case ModeStandalone, ModeSwarm, ModeOrchestrated:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// WorkspaceType describes the checkout a session works in.
type WorkspaceType string

const (
	WorkspacePrimary   WorkspaceType = "primary"
	WorkspaceWorktree  WorkspaceType = "worktree"
	WorkspaceEphemeral WorkspaceType = "ephemeral"
)

// ParseWorkspaceType validates a workspace type. An empty string selects primary.
func ParseWorkspaceType(s string) (WorkspaceType, error) {
	switch WorkspaceType(s) {
	case "":
		return WorkspacePrimary, nil
	case WorkspacePrimary, WorkspaceWorktree, WorkspaceEphemeral:
		return WorkspaceType(s), nil
	}
	return "", fmt.Errorf("unknown workspace type %q", s)
}

// ManagedSession is a point-in-time copy of one agent session.
// Values are produced by the session store and never mutated by readers.
type ManagedSession struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	TmuxSession      string             `json:"tmuxSession"`
	TmuxPane         string             `json:"tmuxPane"`
	ProjectPath      string             `json:"projectPath"`
	WorkDir          string             `json:"workDir,omitempty"`
	Mode             Mode               `json:"mode"`
	WorkspaceType    WorkspaceType      `json:"workspaceType"`
	Status           Status             `json:"status"`
	ConnectedClients []string           `json:"connectedClients"`
	PipeActive       bool               `json:"pipeActive"`
	CreatedAt        time.Time          `json:"createdAt"`
	LastActivity     time.Time          `json:"lastActivity"`
	PendingRequest   *PermissionRequest `json:"pendingPermission,omitempty"`
}

// PermissionRequest is the single outstanding permission prompt of a session.
type PermissionRequest struct {
	ID        string    `json:"requestId"`
	Action    string    `json:"action"`
	Details   string    `json:"details,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Pane addresses a terminal multiplexer pane.
type Pane struct {
	Session     string        `json:"tmuxSession"`
	Pane        string        `json:"tmuxPane"`
	WorkDir     string        `json:"workDir,omitempty"`
	ProjectPath string        `json:"projectPath,omitempty"`
	Workspace   WorkspaceType `json:"workspaceType,omitempty"`
}

// Target returns the multiplexer target string for the pane.
func (p Pane) Target() string {
	if p.Pane != "" {
		return p.Pane
	}
	return p.Session
}

// Pane returns the multiplexer address of the session.
func (s ManagedSession) Pane() Pane {
	return Pane{
		Session:     s.TmuxSession,
		Pane:        s.TmuxPane,
		WorkDir:     s.WorkDir,
		ProjectPath: s.ProjectPath,
		Workspace:   s.WorkspaceType,
	}
}
