package services

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/prudhvinik1/crmsync/internal/crm"
	"github.com/prudhvinik1/crmsync/internal/models"
	"github.com/prudhvinik1/crmsync/internal/normalizer"
	"github.com/prudhvinik1/crmsync/internal/repositories"
)

// maxPagesPerPoll caps a single module's poll so one runaway backfill
// cannot monopolize a cycle; the next cycle resumes from where it cut off.
const maxPagesPerPoll = 50

// Poller is the reconciliation safety net: on a fixed interval it pages
// through records modified since each module's watermark and pushes them
// through the exact same normalize + conflict-check + upsert path the
// webhook workers use. It assumes nothing about exclusive access; webhook
// processing may touch the same records concurrently and conflict detection
// sorts it out.
type Poller struct {
	registry   *models.ModuleRegistry
	api        crm.API
	normalizer *normalizer.Normalizer
	records    repositories.RecordRepository
	metadata   repositories.SyncMetadataRepository
	interval   time.Duration
}

func NewPoller(
	registry *models.ModuleRegistry,
	api crm.API,
	n *normalizer.Normalizer,
	records repositories.RecordRepository,
	metadata repositories.SyncMetadataRepository,
	interval time.Duration,
) *Poller {
	return &Poller{
		registry:   registry,
		api:        api,
		normalizer: n,
		records:    records,
		metadata:   metadata,
		interval:   interval,
	}
}

// Run polls immediately, then on every interval tick, until ctx is
// cancelled. The timer is independent of worker throughput: slow webhook
// processing never delays polling.
func (p *Poller) Run(ctx context.Context) error {
	p.runCycle(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.runCycle(ctx)
		}
	}
}

// runCycle polls each module in priority order. One module's failure is
// logged and recorded but never blocks the others.
func (p *Poller) runCycle(ctx context.Context) {
	for _, module := range p.registry.Ordered() {
		if ctx.Err() != nil {
			return
		}
		if err := p.pollModule(ctx, module); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Printf("[poller] module %s failed: %v", module.Name, err)
			if recErr := p.metadata.RecordError(context.WithoutCancel(ctx), module.Name, err); recErr != nil {
				log.Printf("[poller] failed to record error for %s: %v", module.Name, recErr)
			}
		}
	}
}

func (p *Poller) pollModule(ctx context.Context, module models.Module) error {
	// The watermark is advanced to the poll START time, not "now": records
	// modified while this poll runs land in the next window instead of
	// being skipped.
	pollStart := time.Now().UTC()

	since := time.Unix(0, 0).UTC()
	meta, err := p.metadata.Get(ctx, module.Name)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return err
	}
	if meta != nil && meta.LastPolledAt != nil {
		since = *meta.LastPolledAt
	}

	var synced int64
	var newest time.Time
	capped := false
	for page := 1; ; page++ {
		// Shutdown lets the current page finish, then stops here.
		if err := ctx.Err(); err != nil {
			return err
		}

		result, err := p.api.ListModifiedSince(ctx, module.Name, since, page)
		if err != nil {
			return err
		}

		applied, pageNewest, err := p.upsertPage(ctx, module, result.Records)
		if err != nil {
			return err
		}
		synced += applied
		if pageNewest.After(newest) {
			newest = pageNewest
		}

		if !result.MoreRecords {
			break
		}
		if page >= maxPagesPerPoll {
			capped = true
			break
		}
	}

	// A full poll saw everything up to pollStart, so that becomes the
	// watermark. A capped poll did not; its watermark is the newest
	// modified_time actually fetched, so the next cycle resumes from the
	// cut-off instead of skipping the unfetched remainder.
	watermark := pollStart
	if capped {
		watermark = since
		if newest.After(since) {
			watermark = newest
		}
		log.Printf("[poller] module %s hit the page safety limit at %d pages; watermark held at %s",
			module.Name, maxPagesPerPoll, watermark.Format(time.RFC3339))
	}

	if err := p.metadata.Checkpoint(ctx, module.Name, watermark, synced); err != nil {
		return err
	}

	if synced > 0 {
		log.Printf("[poller] module %s: %d records synced", module.Name, synced)
	}
	return nil
}

func (p *Poller) upsertPage(ctx context.Context, module models.Module, records []map[string]any) (int64, time.Time, error) {
	var applied int64
	var newest time.Time
	for _, raw := range records {
		remoteID, ok := crm.RecordID(raw)
		if !ok {
			log.Printf("[poller] module %s: skipping record with no id", module.Name)
			continue
		}
		modifiedTime, ok := crm.ModifiedTime(raw)
		if !ok {
			modifiedTime = time.Now().UTC()
		}
		if modifiedTime.After(newest) {
			newest = modifiedTime
		}

		outcome, err := p.records.UpsertWithConflictCheck(ctx, repositories.UpsertInput{
			Module:       module.Name,
			RemoteID:     remoteID,
			Fields:       p.normalizer.NormalizeRecord(raw),
			Owner:        p.normalizer.ExtractOwner(raw),
			ModifiedTime: modifiedTime,
		})
		if err != nil {
			return applied, newest, err
		}
		if outcome.Applied {
			applied++
		}
	}
	return applied, newest, nil
}
