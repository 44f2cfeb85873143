package workspace

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/brianly1003/cbridge/internal/domain"
)

// initRepo creates a git repository with one commit, or skips the test when
// git is unavailable.
func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", append([]string{"-C", dir, "-c", "user.email=test@example.com", "-c", "user.name=test"}, args...)...)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	run("init", "--quiet")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0644); err != nil {
		t.Fatal(err)
	}
	run("add", "README.md")
	run("commit", "--quiet", "-m", "init")
	return dir
}

func TestPrepare_Primary(t *testing.T) {
	m := NewManager(t.TempDir(), "")
	project := t.TempDir()

	for _, typ := range []domain.WorkspaceType{domain.WorkspacePrimary, ""} {
		ws, err := m.Prepare(context.Background(), "s1", project, typ)
		if err != nil {
			t.Fatalf("Prepare(%q) error = %v", typ, err)
		}
		if ws.Dir != project || ws.Type != domain.WorkspacePrimary {
			t.Errorf("Prepare(%q) = %+v", typ, ws)
		}
		if err := m.Release(context.Background(), ws); err != nil {
			t.Errorf("Release() error = %v", err)
		}
		if _, err := os.Stat(project); err != nil {
			t.Error("releasing a primary workspace must not touch the project")
		}
	}
}

func TestPrepare_UnknownType(t *testing.T) {
	m := NewManager(t.TempDir(), "")
	if _, err := m.Prepare(context.Background(), "s1", t.TempDir(), "copy"); err == nil {
		t.Error("expected error for unknown type")
	}
	if err := m.Release(context.Background(), Workspace{Type: "copy"}); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestRelease_RefusesForeignDirectories(t *testing.T) {
	state := t.TempDir()
	m := NewManager(state, "")
	outside := t.TempDir()

	tests := []struct {
		name string
		ws   Workspace
	}{
		{"ephemeral outside", Workspace{Type: domain.WorkspaceEphemeral, Dir: outside}},
		{"worktree outside", Workspace{Type: domain.WorkspaceWorktree, Dir: outside, ProjectPath: outside}},
		{"state dir itself", Workspace{Type: domain.WorkspaceEphemeral, Dir: state}},
		{"escape", Workspace{Type: domain.WorkspaceEphemeral, Dir: filepath.Join(state, "..", "x")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := m.Release(context.Background(), tt.ws); err == nil {
				t.Error("expected refusal")
			}
		})
	}
	if _, err := os.Stat(outside); err != nil {
		t.Error("foreign directory was removed")
	}
}

func TestPrepare_Worktree(t *testing.T) {
	repo := initRepo(t)
	stateDir := t.TempDir()
	m := NewManager(stateDir, "")
	ctx := context.Background()

	ws, err := m.Prepare(ctx, "s1", repo, domain.WorkspaceWorktree)
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if ws.Dir != filepath.Join(stateDir, "worktrees", "s1") {
		t.Errorf("Dir = %s", ws.Dir)
	}
	if _, err := os.Stat(filepath.Join(ws.Dir, "README.md")); err != nil {
		t.Errorf("worktree not checked out: %v", err)
	}

	if err := m.Release(ctx, ws); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(ws.Dir); !os.IsNotExist(err) {
		t.Error("worktree directory still exists")
	}
}

func TestPrepare_Ephemeral(t *testing.T) {
	repo := initRepo(t)
	m := NewManager(t.TempDir(), "")
	ctx := context.Background()

	ws, err := m.Prepare(ctx, "s2", repo, domain.WorkspaceEphemeral)
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(ws.Dir, "README.md"))
	if err != nil || string(data) != "hello\n" {
		t.Errorf("clone content = %q, %v", data, err)
	}

	if err := m.Release(ctx, ws); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(ws.Dir); !os.IsNotExist(err) {
		t.Error("clone still exists")
	}
	if _, err := os.Stat(filepath.Join(repo, "README.md")); err != nil {
		t.Error("project was modified")
	}
}

func TestPrepare_WorktreeOutsideRepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	m := NewManager(t.TempDir(), "")
	if _, err := m.Prepare(context.Background(), "s3", t.TempDir(), domain.WorkspaceWorktree); err == nil {
		t.Error("expected error for a directory that is not a repository")
	}
}
