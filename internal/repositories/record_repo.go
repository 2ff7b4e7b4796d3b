package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/crmsync/internal/models"
)

type PostgresRecordRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRecordRepository(pool *pgxpool.Pool) *PostgresRecordRepository {
	return &PostgresRecordRepository{pool: pool}
}

// UpsertWithConflictCheck runs the stale-write check and the upsert as one
// transaction. The existing row is locked with FOR UPDATE, so two workers
// racing on the same remote_id serialize here and the loser re-reads the
// winner's modified_time instead of a stale snapshot.
func (r *PostgresRecordRepository) UpsertWithConflictCheck(ctx context.Context, in UpsertInput) (*UpsertOutcome, error) {
	fieldsJSON, err := json.Marshal(in.Fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record fields: %w", err)
	}
	ownerJSON, err := json.Marshal(in.Owner)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal owner: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var existingModified time.Time
	err = tx.QueryRow(ctx,
		`SELECT modified_time FROM crm_records
		 WHERE module = $1 AND remote_id = $2
		 FOR UPDATE`,
		in.Module, in.RemoteID,
	).Scan(&existingModified)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// First sighting of this record - plain insert.
		outcome, err := r.insert(ctx, tx, in, fieldsJSON, ownerJSON)
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit insert: %w", err)
		}
		return outcome, nil

	case err != nil:
		return nil, fmt.Errorf("failed to load existing record: %w", err)
	}

	if !in.ModifiedTime.After(existingModified) {
		// Stale: log the conflict, discard the write. The local record is
		// authoritative. Both happen inside the same transaction.
		conflict := &models.ConflictRecord{
			Module:               in.Module,
			RemoteID:             in.RemoteID,
			IncomingModifiedTime: in.ModifiedTime,
			ExistingModifiedTime: existingModified,
		}
		err = tx.QueryRow(ctx,
			`INSERT INTO sync_conflicts (module, remote_id, incoming_modified_time, existing_modified_time)
			 VALUES ($1, $2, $3, $4)
			 RETURNING id, detected_at`,
			conflict.Module, conflict.RemoteID, conflict.IncomingModifiedTime, conflict.ExistingModifiedTime,
		).Scan(&conflict.ID, &conflict.DetectedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to record conflict: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit conflict: %w", err)
		}
		return &UpsertOutcome{Applied: false, Conflict: conflict}, nil
	}

	var newVersion int64
	if in.Delete {
		// A soft delete only marks the record; the last synced fields and
		// owner stay in place as the audit trail.
		err = tx.QueryRow(ctx,
			`UPDATE crm_records
			 SET modified_time = $3,
			     sync_version = sync_version + 1,
			     updated_at = NOW(),
			     deleted_at = NOW()
			 WHERE module = $1 AND remote_id = $2
			 RETURNING sync_version`,
			in.Module, in.RemoteID, in.ModifiedTime,
		).Scan(&newVersion)
	} else {
		err = tx.QueryRow(ctx,
			`UPDATE crm_records
			 SET fields = $3,
			     owner = $4,
			     modified_time = $5,
			     sync_version = sync_version + 1,
			     updated_at = NOW()
			 WHERE module = $1 AND remote_id = $2
			 RETURNING sync_version`,
			in.Module, in.RemoteID, fieldsJSON, ownerJSON, in.ModifiedTime,
		).Scan(&newVersion)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit update: %w", err)
	}
	return &UpsertOutcome{Applied: true, SyncVersion: newVersion}, nil
}

func (r *PostgresRecordRepository) insert(ctx context.Context, tx pgx.Tx, in UpsertInput, fieldsJSON, ownerJSON []byte) (*UpsertOutcome, error) {
	var version int64
	var query string
	if in.Delete {
		// A delete for a record never seen locally still leaves a tombstone.
		query = `INSERT INTO crm_records (module, remote_id, fields, owner, modified_time, deleted_at)
		         VALUES ($1, $2, $3, $4, $5, NOW())
		         RETURNING sync_version`
	} else {
		query = `INSERT INTO crm_records (module, remote_id, fields, owner, modified_time)
		         VALUES ($1, $2, $3, $4, $5)
		         RETURNING sync_version`
	}
	err := tx.QueryRow(ctx, query, in.Module, in.RemoteID, fieldsJSON, ownerJSON, in.ModifiedTime).Scan(&version)
	if err != nil {
		return nil, fmt.Errorf("failed to insert record: %w", err)
	}
	return &UpsertOutcome{Applied: true, SyncVersion: version}, nil
}

func (r *PostgresRecordRepository) GetByRemoteID(ctx context.Context, module, remoteID string) (*models.LocalRecord, error) {
	query := `SELECT id, module, remote_id, fields, owner, modified_time, sync_version, created_at, updated_at, deleted_at
	          FROM crm_records
	          WHERE module = $1 AND remote_id = $2`

	var record models.LocalRecord
	var fieldsJSON, ownerJSON []byte
	err := r.pool.QueryRow(ctx, query, module, remoteID).Scan(
		&record.ID,
		&record.Module,
		&record.RemoteID,
		&fieldsJSON,
		&ownerJSON,
		&record.ModifiedTime,
		&record.SyncVersion,
		&record.CreatedAt,
		&record.UpdatedAt,
		&record.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	if err := json.Unmarshal(fieldsJSON, &record.Fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record fields: %w", err)
	}
	if err := json.Unmarshal(ownerJSON, &record.Owner); err != nil {
		return nil, fmt.Errorf("failed to unmarshal owner: %w", err)
	}
	return &record, nil
}

func (r *PostgresRecordRepository) CountByModule(ctx context.Context, module string) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM crm_records WHERE module = $1 AND deleted_at IS NULL`,
		module,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}
