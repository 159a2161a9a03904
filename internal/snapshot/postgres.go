package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zeebo/blake3"
)

// PostgresStore keeps the snapshot as a single row of registry_snapshots.
// Unreadable rows are moved to registry_snapshots_corrupt.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Load(ctx context.Context) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM registry_snapshots WHERE id = 1`).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot row: %w", err)
	}
	return data, nil
}

func (s *PostgresStore) Save(ctx context.Context, data []byte) error {
	sum := blake3.Sum256(data)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO registry_snapshots (id, data, hash, updated_at)
		VALUES (1, $1, $2, NOW())
		ON CONFLICT (id) DO UPDATE
		SET data = EXCLUDED.data, hash = EXCLUDED.hash, updated_at = EXCLUDED.updated_at`,
		data, sum[:])
	if err != nil {
		return fmt.Errorf("failed to write snapshot row: %w", err)
	}
	return nil
}

// Quarantine moves the current row into registry_snapshots_corrupt and
// returns its location there.
func (s *PostgresStore) Quarantine(ctx context.Context) (string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin quarantine: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO registry_snapshots_corrupt (data, hash, quarantined_at)
		SELECT data, hash, NOW() FROM registry_snapshots WHERE id = 1
		RETURNING id`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", errors.New("no snapshot row to quarantine")
	}
	if err != nil {
		return "", fmt.Errorf("failed to copy snapshot row: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM registry_snapshots WHERE id = 1`); err != nil {
		return "", fmt.Errorf("failed to remove snapshot row: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit quarantine: %w", err)
	}
	return fmt.Sprintf("registry_snapshots_corrupt/%d", id), nil
}
