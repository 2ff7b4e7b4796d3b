package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/crmsync/internal/models"
)

// Conflicts are inserted by the record repository inside the upsert
// transaction; this repository only reads them back for reporting.
type PostgresConflictRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresConflictRepository(pool *pgxpool.Pool) *PostgresConflictRepository {
	return &PostgresConflictRepository{pool: pool}
}

func (r *PostgresConflictRepository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM sync_conflicts WHERE detected_at >= $1`,
		since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count conflicts: %w", err)
	}
	return count, nil
}

func (r *PostgresConflictRepository) Recent(ctx context.Context, limit int) ([]*models.ConflictRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, module, remote_id, incoming_modified_time, existing_modified_time, detected_at
		 FROM sync_conflicts
		 ORDER BY detected_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []*models.ConflictRecord
	for rows.Next() {
		var c models.ConflictRecord
		err := rows.Scan(&c.ID, &c.Module, &c.RemoteID, &c.IncomingModifiedTime, &c.ExistingModifiedTime, &c.DetectedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		conflicts = append(conflicts, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conflicts: %w", err)
	}
	return conflicts, nil
}
