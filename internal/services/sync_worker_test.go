package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prudhvinik1/crmsync/internal/crm"
	"github.com/prudhvinik1/crmsync/internal/models"
	"github.com/prudhvinik1/crmsync/internal/normalizer"
	"github.com/prudhvinik1/crmsync/internal/queue"
	"github.com/prudhvinik1/crmsync/internal/stats"
)

func testRegistry(t *testing.T) *models.ModuleRegistry {
	t.Helper()
	return models.NewModuleRegistry([]string{"Leads", "Contacts", "Deals"}, map[string]time.Duration{
		"leads":    50 * time.Millisecond,
		"contacts": 50 * time.Millisecond,
		"deals":    50 * time.Millisecond,
	})
}

func newTestWorker(t *testing.T, api crm.API) (*SyncWorker, *queue.MemoryQueue, *memRecordRepo) {
	t.Helper()
	q := queue.NewMemoryQueue(testRegistry(t), 3)
	repo := newMemRecordRepo()
	n := normalizer.New(models.Owner{ID: "system", Name: "System"})
	w := NewSyncWorker(q, api, n, repo, stats.NewMemoryCollector(), 1)
	return w, q, repo
}

func receiveOne(t *testing.T, q *queue.MemoryQueue) *queue.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := q.Receive(ctx)
	require.NoError(t, err)
	return msg
}

func TestWorkerCreateEvent(t *testing.T) {
	api := newFakeAPI()
	api.addRecord("Leads", "lead-1", map[string]any{
		"id":            "lead-1",
		"Last_Name":     "Okafor",
		"Phone":         "+1 (415) 555-2671",
		"Modified_Time": "2026-03-01T10:00:00Z",
		"Owner":         map[string]any{"id": "u-9", "name": "Ada", "email": "ada@example.com"},
	})
	w, q, repo := newTestWorker(t, api)

	_, err := q.Enqueue(context.Background(), models.SyncEvent{
		Module:    "Leads",
		EventType: models.EventCreate,
		RecordID:  "lead-1",
	}, "corr-1")
	require.NoError(t, err)

	w.process(context.Background(), receiveOne(t, q))

	record, err := repo.GetByRemoteID(context.Background(), "Leads", "lead-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), record.SyncVersion)
	assert.Equal(t, "+14155552671", record.Fields["Phone"])
	assert.Equal(t, "u-9", record.Owner.ID)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), record.ModifiedTime.UTC())
	assert.Zero(t, repo.conflictCount())

	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.Zero(t, depth, "processed message should be acked")
}

func TestWorkerUpdateThenStaleUpdate(t *testing.T) {
	api := newFakeAPI()
	api.addRecord("Deals", "deal-7", map[string]any{
		"id":            "deal-7",
		"Stage":         "Negotiation",
		"Modified_Time": "2026-03-02T12:00:00Z",
	})
	w, q, repo := newTestWorker(t, api)

	enqueue := func() {
		_, err := q.Enqueue(context.Background(), models.SyncEvent{
			Module:    "Deals",
			EventType: models.EventUpdate,
			RecordID:  "deal-7",
		}, "")
		require.NoError(t, err)
	}

	enqueue()
	w.process(context.Background(), receiveOne(t, q))

	// The remote record regresses to an older modified time; the second
	// delivery must be discarded as a conflict, not applied.
	api.addRecord("Deals", "deal-7", map[string]any{
		"id":            "deal-7",
		"Stage":         "Qualification",
		"Modified_Time": "2026-03-01T09:00:00Z",
	})
	enqueue()
	w.process(context.Background(), receiveOne(t, q))

	record, err := repo.GetByRemoteID(context.Background(), "Deals", "deal-7")
	require.NoError(t, err)
	assert.Equal(t, int64(1), record.SyncVersion, "stale write must not bump the version")
	assert.Equal(t, "Negotiation", record.Fields["Stage"])
	assert.Equal(t, 1, repo.conflictCount())

	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.Zero(t, depth, "a detected conflict is still acked")
}

func TestWorkerDeleteEventSkipsFetch(t *testing.T) {
	api := newFakeAPI()
	w, q, repo := newTestWorker(t, api)

	_, err := q.Enqueue(context.Background(), models.SyncEvent{
		Module:    "Contacts",
		EventType: models.EventDelete,
		RecordID:  "c-3",
		Payload: map[string]any{
			"id":            "c-3",
			"Modified_Time": "2026-03-05T08:00:00Z",
		},
	}, "")
	require.NoError(t, err)

	w.process(context.Background(), receiveOne(t, q))

	assert.Zero(t, api.getCalls, "deletes must not fetch the remote record")

	record, err := repo.GetByRemoteID(context.Background(), "Contacts", "c-3")
	require.NoError(t, err)
	require.NotNil(t, record.DeletedAt)
}

func TestWorkerDeletePreservesSyncedFields(t *testing.T) {
	api := newFakeAPI()
	api.addRecord("Contacts", "c-8", map[string]any{
		"id":            "c-8",
		"Email":         "nadia@example.com",
		"Company":       "Initech",
		"Modified_Time": "2026-03-04T09:00:00Z",
		"Owner":         map[string]any{"id": "u-2", "name": "Nadia"},
	})
	w, q, repo := newTestWorker(t, api)

	_, err := q.Enqueue(context.Background(), models.SyncEvent{
		Module:    "Contacts",
		EventType: models.EventCreate,
		RecordID:  "c-8",
	}, "")
	require.NoError(t, err)
	w.process(context.Background(), receiveOne(t, q))

	// Delete notifications carry a skeletal payload; the tombstone must
	// keep the canonical fields from the last applied sync.
	_, err = q.Enqueue(context.Background(), models.SyncEvent{
		Module:    "Contacts",
		EventType: models.EventDelete,
		RecordID:  "c-8",
		Payload: map[string]any{
			"id":            "c-8",
			"Modified_Time": "2026-03-05T08:00:00Z",
		},
	}, "")
	require.NoError(t, err)
	w.process(context.Background(), receiveOne(t, q))

	record, err := repo.GetByRemoteID(context.Background(), "Contacts", "c-8")
	require.NoError(t, err)
	require.NotNil(t, record.DeletedAt)
	assert.Equal(t, int64(2), record.SyncVersion)
	assert.Equal(t, "nadia@example.com", record.Fields["Email"])
	assert.Equal(t, "Initech", record.Fields["Company"])
	assert.Equal(t, "u-2", record.Owner.ID)
}

func TestWorkerRecordGoneUpstreamDeadLetters(t *testing.T) {
	api := newFakeAPI()
	w, q, _ := newTestWorker(t, api)

	_, err := q.Enqueue(context.Background(), models.SyncEvent{
		Module:    "Leads",
		EventType: models.EventCreate,
		RecordID:  "missing",
	}, "")
	require.NoError(t, err)

	w.process(context.Background(), receiveOne(t, q))

	dlq, err := q.DeadLetterDepth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), dlq)

	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestWorkerTransientErrorLeavesMessageUnacked(t *testing.T) {
	api := newFakeAPI()
	api.err = &crm.TransientError{StatusCode: 503, Err: errors.New("service unavailable")}
	w, q, repo := newTestWorker(t, api)

	_, err := q.Enqueue(context.Background(), models.SyncEvent{
		Module:    "Leads",
		EventType: models.EventUpdate,
		RecordID:  "lead-2",
	}, "")
	require.NoError(t, err)

	w.process(context.Background(), receiveOne(t, q))

	assert.Empty(t, repo.records)
	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth, "unacked message stays leased for redelivery")
}

func TestWorkerPersistentFailureExhaustsDeliveryBudget(t *testing.T) {
	api := newFakeAPI()
	api.err = &crm.TransientError{StatusCode: 500, Err: errors.New("internal error")}
	w, q, _ := newTestWorker(t, api)

	_, err := q.Enqueue(context.Background(), models.SyncEvent{
		Module:    "Leads",
		EventType: models.EventUpdate,
		RecordID:  "lead-9",
	}, "")
	require.NoError(t, err)

	// Three failed deliveries (the configured budget), each followed by a
	// lease expiry, should land the message in the dead-letter queue.
	for i := 0; i < 3; i++ {
		w.process(context.Background(), receiveOne(t, q))
		time.Sleep(70 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		dlq, err := q.DeadLetterDepth(context.Background())
		return err == nil && dlq == 1
	}, time.Second, 10*time.Millisecond)

	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestWorkerRunDrainsQueue(t *testing.T) {
	api := newFakeAPI()
	api.addRecord("Leads", "lead-5", map[string]any{
		"id":            "lead-5",
		"Modified_Time": "2026-03-01T10:00:00Z",
	})
	w, q, repo := newTestWorker(t, api)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	_, err := q.Enqueue(context.Background(), models.SyncEvent{
		Module:    "Leads",
		EventType: models.EventCreate,
		RecordID:  "lead-5",
	}, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := repo.GetByRemoteID(context.Background(), "Leads", "lead-5")
		return err == nil
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}
