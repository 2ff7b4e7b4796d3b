package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/prudhvinik1/crmsync/internal/dedup"
	"github.com/prudhvinik1/crmsync/internal/models"
	"github.com/prudhvinik1/crmsync/internal/queue"
	"github.com/prudhvinik1/crmsync/internal/repositories"
	"github.com/prudhvinik1/crmsync/internal/stats"
)

// statsWindow is the trailing window for webhook and conflict counts.
const statsWindow = time.Hour

// StatusReport is the operator-facing snapshot served by the admin
// endpoint. It is the only failure surface this subsystem exposes.
type StatusReport struct {
	GeneratedAt  time.Time               `json:"generated_at"`
	WebhookStats map[string]int64        `json:"webhook_stats"`
	Performance  PerformanceStats        `json:"performance"`
	Modules      map[string]ModuleStatus `json:"modules"`
	Queue        QueueStats              `json:"queue"`
	HealthChecks map[string]bool         `json:"health_checks"`
}

type PerformanceStats struct {
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	P95LatencyMS float64 `json:"p95_latency_ms"`
	DedupHitRate float64 `json:"dedup_hit_rate"`
	ConflictRate float64 `json:"conflict_rate"`
}

type ModuleStatus struct {
	SyncStatus    string     `json:"sync_status"` // ok | error | pending
	LastSync      *time.Time `json:"last_sync"`
	NextSync      *time.Time `json:"next_sync"`
	LastError     string     `json:"last_error,omitempty"`
	RecordsSynced int64      `json:"records_synced"`
	TotalRecords  int64      `json:"total_records"`
}

type QueueStats struct {
	Depth           int64 `json:"depth"`
	DeadLetterDepth int64 `json:"dead_letter_depth"`
}

// StatusCache avoids hammering the local store on every status check; the
// report is rebuilt at most once per cache TTL.
type StatusCache interface {
	Get(ctx context.Context) (*StatusReport, bool)
	Set(ctx context.Context, report *StatusReport)
}

// StatusReporter aggregates read-only state from the local store, the queue
// and the stats collector. It never mutates anything.
type StatusReporter struct {
	webhookLog   repositories.WebhookLogRepository
	conflicts    repositories.ConflictRepository
	records      repositories.RecordRepository
	metadata     repositories.SyncMetadataRepository
	queue        queue.Queue
	stats        stats.Collector
	dedup        dedup.Store
	registry     *models.ModuleRegistry
	cache        StatusCache
	pollInterval time.Duration
}

func NewStatusReporter(
	webhookLog repositories.WebhookLogRepository,
	conflicts repositories.ConflictRepository,
	records repositories.RecordRepository,
	metadata repositories.SyncMetadataRepository,
	q queue.Queue,
	collector stats.Collector,
	dedupStore dedup.Store,
	registry *models.ModuleRegistry,
	cache StatusCache,
	pollInterval time.Duration,
) *StatusReporter {
	return &StatusReporter{
		webhookLog:   webhookLog,
		conflicts:    conflicts,
		records:      records,
		metadata:     metadata,
		queue:        q,
		stats:        collector,
		dedup:        dedupStore,
		registry:     registry,
		cache:        cache,
		pollInterval: pollInterval,
	}
}

func (r *StatusReporter) Report(ctx context.Context) (*StatusReport, error) {
	if cached, ok := r.cache.Get(ctx); ok {
		return cached, nil
	}

	report, err := r.build(ctx)
	if err != nil {
		return nil, err
	}

	r.cache.Set(ctx, report)
	return report, nil
}

func (r *StatusReporter) build(ctx context.Context) (*StatusReport, error) {
	now := time.Now().UTC()
	report := &StatusReport{
		GeneratedAt:  now,
		Modules:      make(map[string]ModuleStatus),
		HealthChecks: make(map[string]bool),
	}

	counts, err := r.webhookLog.CountByStatusSince(ctx, now.Add(-statsWindow))
	report.HealthChecks["database"] = err == nil
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook stats: %w", err)
	}

	var received int64
	webhookStats := make(map[string]int64)
	for _, status := range []models.RawEventStatus{
		models.RawEventAccepted, models.RawEventDuplicate, models.RawEventRejected, models.RawEventMalformed,
	} {
		webhookStats[string(status)] = counts[status]
		received += counts[status]
	}
	webhookStats["received"] = received
	report.WebhookStats = webhookStats

	latency, err := r.stats.LatencySummary(ctx)
	if err != nil {
		log.Printf("[status] latency summary unavailable: %v", err)
	}
	conflictCount, err := r.conflicts.CountSince(ctx, now.Add(-statsWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to count conflicts: %w", err)
	}

	report.Performance = PerformanceStats{
		AvgLatencyMS: latency.AvgMS,
		P95LatencyMS: latency.P95MS,
		DedupHitRate: rate(counts[models.RawEventDuplicate], received),
		ConflictRate: rate(conflictCount, counts[models.RawEventAccepted]),
	}

	for _, module := range r.registry.Ordered() {
		status, err := r.moduleStatus(ctx, module)
		if err != nil {
			return nil, err
		}
		report.Modules[module.Name] = status
	}

	depth, depthErr := r.queue.Depth(ctx)
	dlqDepth, dlqErr := r.queue.DeadLetterDepth(ctx)
	report.Queue = QueueStats{Depth: depth, DeadLetterDepth: dlqDepth}
	report.HealthChecks["queue"] = depthErr == nil && dlqErr == nil
	report.HealthChecks["dedup_store"] = r.dedup.Ping(ctx) == nil

	return report, nil
}

func (r *StatusReporter) moduleStatus(ctx context.Context, module models.Module) (ModuleStatus, error) {
	status := ModuleStatus{SyncStatus: "pending"}

	total, err := r.records.CountByModule(ctx, module.Name)
	if err != nil {
		return status, err
	}
	status.TotalRecords = total

	meta, err := r.metadata.Get(ctx, module.Name)
	if errors.Is(err, repositories.ErrNotFound) {
		return status, nil
	}
	if err != nil {
		return status, err
	}

	status.RecordsSynced = meta.RecordsSyncedTotal
	status.LastError = meta.LastError
	if meta.LastPolledAt != nil {
		status.LastSync = meta.LastPolledAt
		next := meta.LastPolledAt.Add(r.pollInterval)
		status.NextSync = &next
	}

	switch {
	case meta.LastError != "":
		status.SyncStatus = "error"
	case meta.LastPolledAt != nil:
		status.SyncStatus = "ok"
	}
	return status, nil
}

func rate(part, whole int64) float64 {
	if whole <= 0 {
		return 0
	}
	return float64(part) / float64(whole)
}
