// Package snapshot persists the session list in SQLite so that panes left
// running by a previous process can be adopted again.
package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/brianly1003/cbridge/internal/domain"
	"github.com/brianly1003/cbridge/internal/domain/ports"
)

// ErrLocked is returned by Open when another process owns the snapshot.
var ErrLocked = errors.New("session snapshot is locked by another process")

// schemaVersion is bumped whenever the sessions table changes shape.
const schemaVersion = 1

// Store is a SQLite-backed ports.SnapshotStore. It holds an exclusive file
// lock for its lifetime so only one process manages the recorded panes.
type Store struct {
	db   *sql.DB
	path string
	lock *flock.Flock
}

// Open opens or creates the snapshot database at path and locks it.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock session snapshot: %w", err)
	}
	if !locked {
		return nil, ErrLocked
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	// One writer; avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}
	if err := createSchema(db); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}

	log.Debug().Str("path", path).Msg("session snapshot opened")
	return &Store{db: db, path: path, lock: lock}, nil
}

func createSchema(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS metadata (key TEXT PRIMARY KEY, value TEXT)`); err != nil {
		return err
	}

	var current int
	if err := db.QueryRow("SELECT value FROM metadata WHERE key = 'schema_version'").Scan(&current); err != nil {
		current = 0
	}
	if current != 0 && current < schemaVersion {
		log.Info().Int("old_version", current).Int("new_version", schemaVersion).Msg("session snapshot schema changed, dropping old entries")
		_, _ = db.Exec("DROP TABLE IF EXISTS sessions")
	}

	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			tmux_session TEXT NOT NULL,
			tmux_pane TEXT NOT NULL,
			project_path TEXT NOT NULL,
			work_dir TEXT NOT NULL,
			mode TEXT NOT NULL,
			workspace_type TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	_, err := db.Exec("INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)", schemaVersion)
	return err
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Put records or updates a session. Only its identity and placement are
// stored; status and subscribers are runtime state.
func (s *Store) Put(ctx context.Context, m domain.ManagedSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, name, tmux_session, tmux_pane, project_path, work_dir, mode, workspace_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			tmux_session = excluded.tmux_session,
			tmux_pane = excluded.tmux_pane,
			project_path = excluded.project_path,
			work_dir = excluded.work_dir,
			mode = excluded.mode,
			workspace_type = excluded.workspace_type`,
		m.ID, m.Name, m.TmuxSession, m.TmuxPane, m.ProjectPath, m.WorkDir,
		string(m.Mode), string(m.WorkspaceType), m.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("put session %s: %w", m.ID, err)
	}
	return nil
}

// Delete removes a session. Deleting an unknown id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// List returns every recorded session in the order they were first put.
func (s *Store) List(ctx context.Context) ([]domain.ManagedSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, tmux_session, tmux_pane, project_path, work_dir, mode, workspace_type, created_at
		FROM sessions ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.ManagedSession
	for rows.Next() {
		var m domain.ManagedSession
		var mode, wsType, created string
		if err := rows.Scan(&m.ID, &m.Name, &m.TmuxSession, &m.TmuxPane, &m.ProjectPath, &m.WorkDir, &mode, &wsType, &created); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		m.Mode = domain.Mode(mode)
		m.WorkspaceType = domain.WorkspaceType(wsType)
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			m.CreatedAt = t
		}
		m.Status = domain.StatusOffline
		out = append(out, m)
	}
	return out, rows.Err()
}

// Close closes the database and releases the lock.
func (s *Store) Close() error {
	err := s.db.Close()
	if unlockErr := s.lock.Unlock(); err == nil {
		err = unlockErr
	}
	return err
}

var _ ports.SnapshotStore = (*Store)(nil)
