package services

import (
	"context"
	"errors"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/prudhvinik1/crmsync/internal/crm"
	"github.com/prudhvinik1/crmsync/internal/models"
	"github.com/prudhvinik1/crmsync/internal/normalizer"
	"github.com/prudhvinik1/crmsync/internal/queue"
	"github.com/prudhvinik1/crmsync/internal/repositories"
	"github.com/prudhvinik1/crmsync/internal/stats"
)

// SyncWorker is the fixed-size pool that drains the queue: fetch the
// authoritative record from the remote API, normalize it, and upsert it
// through the conflict check. A message is acked only after the local write
// commits; everything else is left to redelivery and dead-lettering.
//
// Workers never coordinate per record. Two of them may process different
// messages for the same remote_id at once; the transactional conflict check
// in the record repository is what makes that safe, not queue ordering.
type SyncWorker struct {
	queue      queue.Queue
	api        crm.API
	normalizer *normalizer.Normalizer
	records    repositories.RecordRepository
	stats      stats.Collector
	workers    int
}

func NewSyncWorker(
	q queue.Queue,
	api crm.API,
	n *normalizer.Normalizer,
	records repositories.RecordRepository,
	collector stats.Collector,
	workers int,
) *SyncWorker {
	if workers < 1 {
		workers = 1
	}
	return &SyncWorker{
		queue:      q,
		api:        api,
		normalizer: n,
		records:    records,
		stats:      collector,
		workers:    workers,
	}
}

// Run blocks until ctx is cancelled. On shutdown each worker finishes the
// message it is currently processing, then stops pulling new ones.
func (w *SyncWorker) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.workers; i++ {
		id := i
		g.Go(func() error {
			w.consume(gctx, id)
			return nil
		})
	}
	return g.Wait()
}

func (w *SyncWorker) consume(ctx context.Context, id int) {
	for {
		msg, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Printf("[worker %d] stopping", id)
				return
			}
			log.Printf("[worker %d] receive failed: %v", id, err)
			time.Sleep(time.Second)
			continue
		}

		// The in-flight message is processed to completion even during
		// shutdown; only the next Receive observes cancellation.
		w.process(context.WithoutCancel(ctx), msg)

		if ctx.Err() != nil {
			log.Printf("[worker %d] stopping", id)
			return
		}
	}
}

// process handles one delivery. It acks on success AND on a detected
// conflict: correctly discarding a stale update is success, not an error.
// On any other failure it returns without acking so the queue redelivers.
func (w *SyncWorker) process(ctx context.Context, msg *queue.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[worker] panic processing message correlation_id=%s: %v", msg.CorrelationID, r)
		}
	}()

	event := msg.Event

	fields, modifiedTime, err := w.resolveRecord(ctx, msg)
	if err != nil {
		if errors.Is(err, crm.ErrRecordNotFound) {
			// Permanent: retrying a fetch for a record that no longer
			// exists upstream is pointless.
			log.Printf("[worker] record %s/%s gone upstream, dead-lettering correlation_id=%s",
				event.Module, event.RecordID, msg.CorrelationID)
			if dlErr := w.queue.DeadLetter(ctx, msg, "record not found upstream"); dlErr != nil {
				log.Printf("[worker] failed to dead-letter correlation_id=%s: %v", msg.CorrelationID, dlErr)
			}
			return
		}
		// Transient (or unknown): leave unacked for redelivery.
		log.Printf("[worker] fetch failed for %s/%s correlation_id=%s delivery=%d: %v",
			event.Module, event.RecordID, msg.CorrelationID, msg.DeliveryCount, err)
		return
	}

	outcome, err := w.records.UpsertWithConflictCheck(ctx, repositories.UpsertInput{
		Module:       event.Module,
		RemoteID:     event.RecordID,
		Fields:       fields,
		Owner:        w.normalizer.ExtractOwner(fields),
		ModifiedTime: modifiedTime,
		Delete:       event.EventType == models.EventDelete,
	})
	if err != nil {
		log.Printf("[worker] upsert failed for %s/%s correlation_id=%s: %v",
			event.Module, event.RecordID, msg.CorrelationID, err)
		return
	}

	if outcome.Conflict != nil {
		log.Printf("[worker] stale update discarded for %s/%s (incoming %s <= existing %s) correlation_id=%s",
			event.Module, event.RecordID,
			outcome.Conflict.IncomingModifiedTime.Format(time.RFC3339),
			outcome.Conflict.ExistingModifiedTime.Format(time.RFC3339),
			msg.CorrelationID)
	}

	if !msg.EnqueuedAt.IsZero() {
		if err := w.stats.RecordLatency(ctx, time.Since(msg.EnqueuedAt)); err != nil {
			log.Printf("[worker] failed to record latency: %v", err)
		}
	}

	if err := w.queue.Ack(ctx, msg); err != nil {
		// The write committed; a failed ack only means one harmless
		// redelivery that the conflict check will discard.
		log.Printf("[worker] ack failed for correlation_id=%s: %v", msg.CorrelationID, err)
	}
}

// resolveRecord returns the canonical fields and modified time for the
// event. Webhook payloads may be partial, so everything except deletes
// re-fetches the full record; deletes trust the event since the remote copy
// is already gone.
func (w *SyncWorker) resolveRecord(ctx context.Context, msg *queue.Message) (map[string]any, time.Time, error) {
	event := msg.Event

	var raw map[string]any
	if event.EventType == models.EventDelete {
		raw = event.Payload
	} else {
		fetched, err := w.api.GetRecord(ctx, event.Module, event.RecordID)
		if err != nil {
			return nil, time.Time{}, err
		}
		raw = fetched
	}

	modifiedTime, ok := crm.ModifiedTime(raw)
	if !ok {
		// No usable timestamp on the record; fall back to receipt time so
		// the write still participates in conflict ordering.
		modifiedTime = msg.EnqueuedAt
		if modifiedTime.IsZero() {
			modifiedTime = time.Now().UTC()
		}
	}

	return w.normalizer.NormalizeRecord(raw), modifiedTime, nil
}
