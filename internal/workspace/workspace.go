// Package workspace prepares the directory an agent session runs in: the
// project itself, a detached git worktree, or a throwaway local clone.
package workspace

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/brianly1003/cbridge/internal/domain"
)

// Workspace describes a prepared directory.
type Workspace struct {
	Type        domain.WorkspaceType
	ProjectPath string
	Dir         string
}

// Manager creates and removes workspaces under a state directory.
type Manager struct {
	stateDir string
	command  string

	// git worktree bookkeeping is per repository and not safe to run
	// concurrently against the same one.
	mu sync.Mutex
}

// NewManager creates a manager keeping worktrees and clones under stateDir.
// gitCommand defaults to "git".
func NewManager(stateDir, gitCommand string) *Manager {
	if gitCommand == "" {
		gitCommand = "git"
	}
	return &Manager{stateDir: stateDir, command: gitCommand}
}

// Prepare returns the directory session id should run in.
func (m *Manager) Prepare(ctx context.Context, id, projectPath string, t domain.WorkspaceType) (Workspace, error) {
	ws := Workspace{Type: t, ProjectPath: projectPath}

	switch t {
	case domain.WorkspacePrimary, "":
		ws.Type = domain.WorkspacePrimary
		ws.Dir = projectPath
		return ws, nil

	case domain.WorkspaceWorktree:
		ws.Dir = filepath.Join(m.stateDir, "worktrees", id)
		if err := os.MkdirAll(filepath.Dir(ws.Dir), 0755); err != nil {
			return Workspace{}, fmt.Errorf("create worktree directory: %w", err)
		}
		m.mu.Lock()
		_, err := m.git(ctx, projectPath, "worktree", "add", "--detach", ws.Dir)
		m.mu.Unlock()
		if err != nil {
			return Workspace{}, err
		}

	case domain.WorkspaceEphemeral:
		ws.Dir = filepath.Join(m.stateDir, "ephemeral", id)
		if err := os.MkdirAll(filepath.Dir(ws.Dir), 0755); err != nil {
			return Workspace{}, fmt.Errorf("create clone directory: %w", err)
		}
		if _, err := m.git(ctx, "", "clone", "--local", "--no-hardlinks", "--quiet", projectPath, ws.Dir); err != nil {
			os.RemoveAll(ws.Dir)
			return Workspace{}, err
		}

	default:
		return Workspace{}, fmt.Errorf("unknown workspace type %q", t)
	}

	log.Info().
		Str("session_id", id).
		Str("workspace_type", string(ws.Type)).
		Str("dir", ws.Dir).
		Msg("workspace prepared")
	return ws, nil
}

// Release removes a workspace created by Prepare. Releasing a primary
// workspace does nothing. Directories outside the state directory are never
// removed.
func (m *Manager) Release(ctx context.Context, ws Workspace) error {
	switch ws.Type {
	case domain.WorkspacePrimary, "":
		return nil

	case domain.WorkspaceWorktree:
		if !m.owns(ws.Dir) {
			return fmt.Errorf("refusing to remove %s: not under %s", ws.Dir, m.stateDir)
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, err := m.git(ctx, ws.ProjectPath, "worktree", "remove", "--force", ws.Dir); err != nil {
			log.Debug().Err(err).Str("dir", ws.Dir).Msg("worktree remove failed, pruning")
			if err := os.RemoveAll(ws.Dir); err != nil {
				return fmt.Errorf("remove worktree %s: %w", ws.Dir, err)
			}
			m.git(ctx, ws.ProjectPath, "worktree", "prune")
		}

	case domain.WorkspaceEphemeral:
		if !m.owns(ws.Dir) {
			return fmt.Errorf("refusing to remove %s: not under %s", ws.Dir, m.stateDir)
		}
		if err := os.RemoveAll(ws.Dir); err != nil {
			return fmt.Errorf("remove clone %s: %w", ws.Dir, err)
		}

	default:
		return fmt.Errorf("unknown workspace type %q", ws.Type)
	}

	log.Info().Str("workspace_type", string(ws.Type)).Str("dir", ws.Dir).Msg("workspace released")
	return nil
}

// owns reports whether dir lies strictly inside the state directory.
func (m *Manager) owns(dir string) bool {
	if m.stateDir == "" || dir == "" {
		return false
	}
	rel, err := filepath.Rel(m.stateDir, dir)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// git runs a git command, in repo when it is set.
func (m *Manager) git(ctx context.Context, repo string, args ...string) (string, error) {
	full := args
	if repo != "" {
		full = append([]string{"-C", repo}, args...)
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, m.command, full...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w (stderr: %s)",
			strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
