// Copyright 2025 Silica Protocol
//
// Checkpoint Repository - durable per-stream ingestion cursors.
// Checkpoints are deliberately not coupled to the data transactions they
// mark: data commits first, the cursor advances after. A crash in between
// is healed by primary-key idempotence on the next tick.

package database

import (
	"context"
	"database/sql"
	"fmt"
	"math"
)

// CheckpointRepository handles indexer checkpoint operations
type CheckpointRepository struct {
	client *Client
}

// NewCheckpointRepository creates a new checkpoint repository
func NewCheckpointRepository(client *Client) *CheckpointRepository {
	return &CheckpointRepository{client: client}
}

// Load returns the cursor for a stream, creating the row at zero on first read
func (r *CheckpointRepository) Load(ctx context.Context, streamID string) (uint64, error) {
	if streamID == "" {
		return 0, fmt.Errorf("checkpoint identifier cannot be empty")
	}

	var last int64
	err := r.client.QueryRowContext(ctx,
		`SELECT last_block_number FROM indexer_checkpoints WHERE id = $1`,
		streamID,
	).Scan(&last)

	if err == sql.ErrNoRows {
		_, err = r.client.ExecContext(ctx,
			`INSERT INTO indexer_checkpoints (id, last_block_number, updated_at)
			 VALUES ($1, 0, now())
			 ON CONFLICT (id) DO NOTHING`,
			streamID,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to initialize checkpoint %s: %w", streamID, err)
		}
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query indexer checkpoint %s: %w", streamID, err)
	}

	if last < 0 {
		panic(fmt.Sprintf("negative checkpoint stored for stream %s: %d", streamID, last))
	}
	return uint64(last), nil
}

// Persist upserts the cursor for a stream
func (r *CheckpointRepository) Persist(ctx context.Context, streamID string, block uint64) error {
	if streamID == "" {
		return fmt.Errorf("checkpoint identifier cannot be empty")
	}
	if block > math.MaxInt64 {
		return fmt.Errorf("checkpoint block %d overflows int64", block)
	}

	_, err := r.client.ExecContext(ctx,
		`INSERT INTO indexer_checkpoints (id, last_block_number, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (id) DO UPDATE
		 SET last_block_number = EXCLUDED.last_block_number,
		     updated_at = EXCLUDED.updated_at`,
		streamID, int64(block),
	)
	if err != nil {
		return fmt.Errorf("failed to update checkpoint %s: %w", streamID, err)
	}
	return nil
}
