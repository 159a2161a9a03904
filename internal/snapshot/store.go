// Package snapshot persists the registry state. A Sweeper serializes the
// registry periodically and hands it to a Store whenever the content hash
// changes.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrCorrupt is returned when a stored snapshot cannot be restored.
var ErrCorrupt = errors.New("stored snapshot is corrupt")

type Store interface {
	// Load returns the stored snapshot, or nil when nothing was saved yet.
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

// Quarantiner is implemented by stores that can move an unreadable snapshot
// out of the way.
type Quarantiner interface {
	Quarantine(ctx context.Context) (string, error)
}

// Restorer accepts a previously saved snapshot.
type Restorer interface {
	Restore(data []byte) error
}

// Load restores target from store. A snapshot that fails to restore is
// quarantined when the store supports it, and ErrCorrupt is returned so the
// caller can refuse to start on top of lost state.
func Load(ctx context.Context, store Store, target Restorer) error {
	data, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	if data == nil {
		slog.Info("No snapshot found, starting with empty state")
		return nil
	}

	if err := target.Restore(data); err != nil {
		if q, ok := store.(Quarantiner); ok {
			moved, qerr := q.Quarantine(ctx)
			if qerr != nil {
				return fmt.Errorf("%w: %v (quarantine failed: %v)", ErrCorrupt, err, qerr)
			}
			slog.Error("Moved corrupt snapshot aside", "location", moved, "error", err)
		}
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	slog.Info("Restored state from snapshot", "bytes", len(data))
	return nil
}
