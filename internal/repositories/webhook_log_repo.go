package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/crmsync/internal/models"
)

// PostgresWebhookLogRepository is the append-only audit trail of every
// webhook receipt, written regardless of whether processing succeeded.
type PostgresWebhookLogRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresWebhookLogRepository(pool *pgxpool.Pool) *PostgresWebhookLogRepository {
	return &PostgresWebhookLogRepository{pool: pool}
}

func (r *PostgresWebhookLogRepository) Append(ctx context.Context, event *models.RawEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO webhook_log (id, module, status, payload, source_ip, signature, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.Module, event.Status, string(event.Payload), event.SourceIP, event.Signature, event.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append webhook log: %w", err)
	}
	return nil
}

func (r *PostgresWebhookLogRepository) CountByStatusSince(ctx context.Context, since time.Time) (map[models.RawEventStatus]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM webhook_log WHERE received_at >= $1 GROUP BY status`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count webhook log: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.RawEventStatus]int64)
	for rows.Next() {
		var status models.RawEventStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan webhook counts: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating webhook counts: %w", err)
	}
	return counts, nil
}
