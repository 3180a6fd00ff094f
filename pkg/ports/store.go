package ports

import (
	"context"

	"github.com/aretw0/scripthost/pkg/domain"
)

// SnapshotStore defines the interface for persisting session variables.
// This allows a session to be stopped and later resumed with the values it left behind.
type SnapshotStore interface {
	// Save persists the snapshot for a given session.
	Save(ctx context.Context, session string, snap *domain.Snapshot) error

	// Load retrieves the snapshot for a given session.
	// Returns domain.ErrSnapshotNotFound if nothing was saved.
	Load(ctx context.Context, session string) (*domain.Snapshot, error)

	// Delete removes the snapshot for a given session.
	Delete(ctx context.Context, session string) error

	// List returns the sessions that currently have a snapshot.
	List(ctx context.Context) ([]string, error)
}
