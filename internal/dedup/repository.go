package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Executor represents the subset of pgx methods required for dedup operations.
type Executor interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Repository tracks which gateway webhook events were fully processed.
type Repository struct {
	executor Executor
}

func NewRepository(exec Executor) *Repository {
	return &Repository{executor: exec}
}

// Processed reports whether (provider, eventID) has a processed checkpoint.
func (r *Repository) Processed(ctx context.Context, provider, eventID string) (bool, error) {
	var processed bool
	if err := r.executor.QueryRow(ctx, `
		SELECT processed_at IS NOT NULL
		FROM webhook_events
		WHERE provider=$1 AND event_id=$2
	`, provider, eventID).Scan(&processed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("select checkpoint: %w", err)
	}
	return processed, nil
}

// MarkProcessed records the checkpoint. The first processed_at wins under races.
func (r *Repository) MarkProcessed(ctx context.Context, provider, eventID string) error {
	_, err := r.executor.Exec(ctx, `
		INSERT INTO webhook_events (provider, event_id, processed_at)
		VALUES ($1, $2, now())
		ON CONFLICT (provider, event_id)
		DO UPDATE SET processed_at = COALESCE(webhook_events.processed_at, EXCLUDED.processed_at)
	`, provider, eventID)
	if err != nil {
		return fmt.Errorf("upsert checkpoint: %w", err)
	}
	return nil
}
