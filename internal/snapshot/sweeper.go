package snapshot

import (
	"context"
	"log/slog"
	"time"

	"github.com/zeebo/blake3"
)

const DefaultInterval = 500 * time.Millisecond

// Source produces a serialized snapshot.
type Source interface {
	Snapshot() ([]byte, error)
}

type SaveRecorder interface {
	RecordSnapshotSave(err error)
}

type Sweeper struct {
	source   Source
	store    Store
	interval time.Duration
	recorder SaveRecorder

	lastHash [32]byte
	saved    bool
}

func NewSweeper(source Source, store Store, interval time.Duration, recorder SaveRecorder) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{
		source:   source,
		store:    store,
		interval: interval,
		recorder: recorder,
	}
}

// Run saves on every tick until ctx is cancelled, then flushes once more
// with a fresh context.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.Flush(flushCtx); err != nil {
				slog.Error("Final state flush failed", "error", err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := s.Flush(ctx); err != nil {
				slog.Error("Failed to save state", "error", err)
			}
		}
	}
}

// Flush saves the current snapshot if its hash differs from the last saved
// one. The hash only advances after a successful save.
func (s *Sweeper) Flush(ctx context.Context) error {
	data, err := s.source.Snapshot()
	if err != nil {
		return err
	}
	sum := blake3.Sum256(data)
	if s.saved && sum == s.lastHash {
		return nil
	}

	err = s.store.Save(ctx, data)
	if s.recorder != nil {
		s.recorder.RecordSnapshotSave(err)
	}
	if err != nil {
		return err
	}
	s.lastHash = sum
	s.saved = true
	slog.Debug("State saved", "bytes", len(data))
	return nil
}
