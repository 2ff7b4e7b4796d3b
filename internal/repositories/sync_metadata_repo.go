package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/crmsync/internal/models"
)

type PostgresSyncMetadataRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresSyncMetadataRepository(pool *pgxpool.Pool) *PostgresSyncMetadataRepository {
	return &PostgresSyncMetadataRepository{pool: pool}
}

func (r *PostgresSyncMetadataRepository) Get(ctx context.Context, module string) (*models.SyncMetadata, error) {
	var meta models.SyncMetadata
	err := r.pool.QueryRow(ctx,
		`SELECT module, last_polled_at, last_cursor, records_synced_total, last_error, updated_at
		 FROM sync_metadata WHERE module = $1`,
		module,
	).Scan(&meta.Module, &meta.LastPolledAt, &meta.LastCursor, &meta.RecordsSyncedTotal, &meta.LastError, &meta.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync metadata: %w", err)
	}
	return &meta, nil
}

func (r *PostgresSyncMetadataRepository) All(ctx context.Context) ([]*models.SyncMetadata, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT module, last_polled_at, last_cursor, records_synced_total, last_error, updated_at
		 FROM sync_metadata ORDER BY module`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync metadata: %w", err)
	}
	defer rows.Close()

	var all []*models.SyncMetadata
	for rows.Next() {
		var meta models.SyncMetadata
		err := rows.Scan(&meta.Module, &meta.LastPolledAt, &meta.LastCursor, &meta.RecordsSyncedTotal, &meta.LastError, &meta.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync metadata: %w", err)
		}
		all = append(all, &meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync metadata: %w", err)
	}
	return all, nil
}

// Checkpoint advances the watermark to pollStart only after a fully
// successful poll, and clears any previous error. pollStart is deliberately
// the poll's start time, not now: records modified while the poll ran fall
// inside the next window instead of being skipped.
func (r *PostgresSyncMetadataRepository) Checkpoint(ctx context.Context, module string, pollStart time.Time, recordsSynced int64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sync_metadata (module, last_polled_at, records_synced_total, last_error, updated_at)
		 VALUES ($1, $2, $3, '', NOW())
		 ON CONFLICT (module) DO UPDATE
		 SET last_polled_at = EXCLUDED.last_polled_at,
		     records_synced_total = sync_metadata.records_synced_total + EXCLUDED.records_synced_total,
		     last_error = '',
		     updated_at = NOW()`,
		module, pollStart, recordsSynced,
	)
	if err != nil {
		return fmt.Errorf("failed to checkpoint module %s: %w", module, err)
	}
	return nil
}

func (r *PostgresSyncMetadataRepository) RecordError(ctx context.Context, module string, pollErr error) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sync_metadata (module, last_error, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (module) DO UPDATE
		 SET last_error = EXCLUDED.last_error, updated_at = NOW()`,
		module, pollErr.Error(),
	)
	if err != nil {
		return fmt.Errorf("failed to record poll error for %s: %w", module, err)
	}
	return nil
}
