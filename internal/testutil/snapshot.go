package testutil

import (
	"context"
	"sync"

	"github.com/brianly1003/cbridge/internal/domain"
	"github.com/brianly1003/cbridge/internal/domain/ports"
)

// MemorySnapshotStore implements ports.SnapshotStore in memory.
type MemorySnapshotStore struct {
	mu       sync.Mutex
	order    []string
	sessions map[string]domain.ManagedSession
	closed   bool
}

// NewMemorySnapshotStore creates an empty store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{sessions: make(map[string]domain.ManagedSession)}
}

// Put stores or replaces a session.
func (m *MemorySnapshotStore) Put(ctx context.Context, s domain.ManagedSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		m.order = append(m.order, s.ID)
	}
	s.ConnectedClients = nil
	m.sessions[s.ID] = s
	return nil
}

// Delete removes a session.
func (m *MemorySnapshotStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return nil
	}
	delete(m.sessions, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// List returns stored sessions in insertion order.
func (m *MemorySnapshotStore) List(ctx context.Context) ([]domain.ManagedSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ManagedSession, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.sessions[id])
	}
	return out, nil
}

// Close marks the store closed.
func (m *MemorySnapshotStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var _ ports.SnapshotStore = (*MemorySnapshotStore)(nil)
