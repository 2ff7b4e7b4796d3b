package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/prudhvinik1/crmsync/internal/models"
)

var ErrNotFound = errors.New("not found")

// UpsertInput is one incoming write, from either the webhook worker or the
// polling scheduler. Both paths go through the same repository method; the
// conflict check inside it is the only ordering mechanism in the pipeline.
type UpsertInput struct {
	Module       string
	RemoteID     string
	Fields       map[string]any
	Owner        models.Owner
	ModifiedTime time.Time
	Delete       bool
}

// UpsertOutcome reports whether the write was applied or discarded as stale.
type UpsertOutcome struct {
	Applied     bool
	SyncVersion int64
	Conflict    *models.ConflictRecord
}

type RecordRepository interface {
	// UpsertWithConflictCheck atomically compares the incoming
	// modified_time against the stored one and either applies the write
	// (incrementing sync_version) or records a conflict and leaves the row
	// untouched. The read-check-write runs in a single transaction with the
	// row locked, so concurrent writers cannot both pass a stale check.
	UpsertWithConflictCheck(ctx context.Context, in UpsertInput) (*UpsertOutcome, error)

	GetByRemoteID(ctx context.Context, module, remoteID string) (*models.LocalRecord, error)
	CountByModule(ctx context.Context, module string) (int64, error)
}

type WebhookLogRepository interface {
	// Append writes one audit row; rows are never updated or deleted.
	Append(ctx context.Context, event *models.RawEvent) error

	// CountByStatusSince returns per-status receipt counts in the trailing
	// window starting at since.
	CountByStatusSince(ctx context.Context, since time.Time) (map[models.RawEventStatus]int64, error)
}

type ConflictRepository interface {
	CountSince(ctx context.Context, since time.Time) (int64, error)
	Recent(ctx context.Context, limit int) ([]*models.ConflictRecord, error)
}

type SyncMetadataRepository interface {
	Get(ctx context.Context, module string) (*models.SyncMetadata, error)
	All(ctx context.Context) ([]*models.SyncMetadata, error)

	// Checkpoint records a fully successful poll: the watermark moves to
	// pollStart and the synced-record counter advances.
	Checkpoint(ctx context.Context, module string, pollStart time.Time, recordsSynced int64) error

	// RecordError notes a failed poll without moving the watermark.
	RecordError(ctx context.Context, module string, pollErr error) error
}
