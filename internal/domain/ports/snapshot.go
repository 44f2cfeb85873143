package ports

import (
	"context"

	"github.com/brianly1003/cbridge/internal/domain"
)

// SnapshotStore persists the session list across restarts.
// Only identity and addressing fields are stored; connected clients,
// status and pending permissions are transient.
type SnapshotStore interface {
	Put(ctx context.Context, session domain.ManagedSession) error
	Delete(ctx context.Context, id string) error
	// List returns stored sessions in creation order.
	List(ctx context.Context) ([]domain.ManagedSession, error)
	Close() error
}
