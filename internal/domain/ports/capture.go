package ports

import (
	"context"

	"github.com/brianly1003/cbridge/internal/domain"
)

// PaneRequest describes the pane to provision for a new session.
type PaneRequest struct {
	SessionID     string
	Name          string
	ProjectPath   string
	Mode          domain.Mode
	WorkspaceType domain.WorkspaceType
}

// CaptureAdapter is the boundary to the terminal multiplexer that hosts agent panes.
type CaptureAdapter interface {
	// ProvisionPane prepares the workspace and starts the agent in a new pane.
	ProvisionPane(ctx context.Context, req PaneRequest) (domain.Pane, error)

	// ReadStream returns the pane's output as raw chunks. The channel is closed
	// when the pane exits or ctx is cancelled. It may be called once per pane.
	ReadStream(ctx context.Context, pane domain.Pane) (<-chan []byte, error)

	// SendKeys types text literally into the pane and submits it.
	SendKeys(ctx context.Context, pane domain.Pane, text string) error

	// SendControl sends named keys (e.g. "Escape", "Enter", "1") to the pane.
	SendControl(ctx context.Context, pane domain.Pane, keys ...string) error

	// Interrupt sends the agent's interrupt key.
	Interrupt(ctx context.Context, pane domain.Pane) error

	// Terminate kills the pane and releases its workspace.
	Terminate(ctx context.Context, pane domain.Pane) error

	// HasPane reports whether the pane still exists.
	HasPane(ctx context.Context, pane domain.Pane) bool
}
