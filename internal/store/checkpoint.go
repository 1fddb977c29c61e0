package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Checkpoint is one entry of the sync_state table.
type Checkpoint struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// CheckpointRepository manages sync checkpoints.
type CheckpointRepository struct {
	db  *DB
	now func() time.Time
}

// NewCheckpointRepository creates a repository over db.
func NewCheckpointRepository(db *DB) *CheckpointRepository {
	return &CheckpointRepository{db: db, now: time.Now}
}

// UpdateCheckpoint updates a sync checkpoint value.
func (r *CheckpointRepository) UpdateCheckpoint(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, r.now().UnixMilli())
	return classify("update checkpoint", err)
}

// GetCheckpoint retrieves a sync checkpoint, or ErrNotFound.
func (r *CheckpointRepository) GetCheckpoint(ctx context.Context, key string) (*Checkpoint, error) {
	var row checkpointRow
	err := r.db.GetContext(ctx, &row, `SELECT key, value, updated_at FROM sync_state WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("checkpoint %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, classify("get checkpoint", err)
	}
	cp := row.toCheckpoint()
	return &cp, nil
}

// ListCheckpoints returns every checkpoint ordered by key.
func (r *CheckpointRepository) ListCheckpoints(ctx context.Context) ([]Checkpoint, error) {
	var rows []checkpointRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT key, value, updated_at FROM sync_state ORDER BY key`); err != nil {
		return nil, classify("list checkpoints", err)
	}
	out := make([]Checkpoint, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toCheckpoint())
	}
	return out, nil
}

type checkpointRow struct {
	Key       string `db:"key"`
	Value     string `db:"value"`
	UpdatedAt int64  `db:"updated_at"`
}

func (r checkpointRow) toCheckpoint() Checkpoint {
	return Checkpoint{Key: r.Key, Value: r.Value, UpdatedAt: fromMillis(r.UpdatedAt)}
}
