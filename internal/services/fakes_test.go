package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prudhvinik1/crmsync/internal/crm"
	"github.com/prudhvinik1/crmsync/internal/models"
	"github.com/prudhvinik1/crmsync/internal/repositories"
)

// fakeAPI serves canned records and page listings in place of the remote CRM.
type fakeAPI struct {
	mu        sync.Mutex
	records   map[string]map[string]any // "module/id" -> fields
	pages     map[string][]*crm.Page    // module -> pages returned in order
	err       error                     // forced error for every call
	moduleErr map[string]error          // forced error per module
	getCalls  int
	listCalls map[string]int
	lastSince map[string]time.Time
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		records:   make(map[string]map[string]any),
		pages:     make(map[string][]*crm.Page),
		moduleErr: make(map[string]error),
		listCalls: make(map[string]int),
		lastSince: make(map[string]time.Time),
	}
}

func (f *fakeAPI) addRecord(module, id string, fields map[string]any) {
	f.records[module+"/"+id] = fields
}

func (f *fakeAPI) GetRecord(_ context.Context, module, recordID string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.err != nil {
		return nil, f.err
	}
	fields, ok := f.records[module+"/"+recordID]
	if !ok {
		return nil, crm.ErrRecordNotFound
	}
	return fields, nil
}

func (f *fakeAPI) ListModifiedSince(_ context.Context, module string, since time.Time, page int) (*crm.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls[module]++
	f.lastSince[module] = since
	if f.err != nil {
		return nil, f.err
	}
	if err := f.moduleErr[module]; err != nil {
		return nil, err
	}
	pages := f.pages[module]
	if page > len(pages) {
		return &crm.Page{}, nil
	}
	return pages[page-1], nil
}

// memRecordRepo mirrors the Postgres repository's conflict semantics in
// memory so worker and poller tests run without a database.
type memRecordRepo struct {
	mu        sync.Mutex
	records   map[string]*models.LocalRecord // "module/remote_id"
	conflicts []*models.ConflictRecord
	failWith  error
}

func newMemRecordRepo() *memRecordRepo {
	return &memRecordRepo{records: make(map[string]*models.LocalRecord)}
}

func (r *memRecordRepo) UpsertWithConflictCheck(_ context.Context, in repositories.UpsertInput) (*repositories.UpsertOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failWith != nil {
		return nil, r.failWith
	}

	key := in.Module + "/" + in.RemoteID
	now := time.Now().UTC()

	existing, ok := r.records[key]
	if ok && !in.ModifiedTime.After(existing.ModifiedTime) {
		conflict := &models.ConflictRecord{
			ID:                   uuid.New(),
			Module:               in.Module,
			RemoteID:             in.RemoteID,
			IncomingModifiedTime: in.ModifiedTime,
			ExistingModifiedTime: existing.ModifiedTime,
			DetectedAt:           now,
		}
		r.conflicts = append(r.conflicts, conflict)
		return &repositories.UpsertOutcome{Applied: false, Conflict: conflict}, nil
	}

	if !ok {
		record := &models.LocalRecord{
			ID:           uuid.New(),
			Module:       in.Module,
			RemoteID:     in.RemoteID,
			Fields:       in.Fields,
			Owner:        in.Owner,
			ModifiedTime: in.ModifiedTime,
			SyncVersion:  1,
			CreatedAt:    now,
		}
		if in.Delete {
			record.DeletedAt = &now
		}
		r.records[key] = record
		return &repositories.UpsertOutcome{Applied: true, SyncVersion: 1}, nil
	}

	existing.ModifiedTime = in.ModifiedTime
	existing.SyncVersion++
	existing.UpdatedAt = &now
	if in.Delete {
		// A soft delete keeps the last synced fields and owner.
		existing.DeletedAt = &now
	} else {
		existing.Fields = in.Fields
		existing.Owner = in.Owner
	}
	return &repositories.UpsertOutcome{Applied: true, SyncVersion: existing.SyncVersion}, nil
}

func (r *memRecordRepo) GetByRemoteID(_ context.Context, module, remoteID string) (*models.LocalRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[module+"/"+remoteID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return record, nil
}

func (r *memRecordRepo) CountByModule(_ context.Context, module string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, record := range r.records {
		if record.Module == module && record.DeletedAt == nil {
			count++
		}
	}
	return count, nil
}

func (r *memRecordRepo) conflictCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conflicts)
}

// memMetadataRepo is the in-memory SyncMetadataRepository.
type memMetadataRepo struct {
	mu   sync.Mutex
	meta map[string]*models.SyncMetadata
}

func newMemMetadataRepo() *memMetadataRepo {
	return &memMetadataRepo{meta: make(map[string]*models.SyncMetadata)}
}

func (r *memMetadataRepo) Get(_ context.Context, module string) (*models.SyncMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	meta, ok := r.meta[module]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	copied := *meta
	return &copied, nil
}

func (r *memMetadataRepo) All(_ context.Context) ([]*models.SyncMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*models.SyncMetadata
	for _, meta := range r.meta {
		copied := *meta
		all = append(all, &copied)
	}
	return all, nil
}

func (r *memMetadataRepo) Checkpoint(_ context.Context, module string, pollStart time.Time, recordsSynced int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	meta, ok := r.meta[module]
	if !ok {
		meta = &models.SyncMetadata{Module: module}
		r.meta[module] = meta
	}
	start := pollStart
	meta.LastPolledAt = &start
	meta.RecordsSyncedTotal += recordsSynced
	meta.LastError = ""
	meta.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memMetadataRepo) RecordError(_ context.Context, module string, pollErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	meta, ok := r.meta[module]
	if !ok {
		meta = &models.SyncMetadata{Module: module}
		r.meta[module] = meta
	}
	meta.LastError = pollErr.Error()
	meta.UpdatedAt = time.Now().UTC()
	return nil
}

// memWebhookLogRepo records audit rows for reporter tests.
type memWebhookLogRepo struct {
	mu     sync.Mutex
	events []*models.RawEvent
}

func (r *memWebhookLogRepo) Append(_ context.Context, event *models.RawEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *memWebhookLogRepo) CountByStatusSince(_ context.Context, since time.Time) (map[models.RawEventStatus]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[models.RawEventStatus]int64)
	for _, event := range r.events {
		if !event.ReceivedAt.Before(since) {
			counts[event.Status]++
		}
	}
	return counts, nil
}

// memConflictRepo serves reporter tests.
type memConflictRepo struct {
	records *memRecordRepo
}

func (r *memConflictRepo) CountSince(_ context.Context, since time.Time) (int64, error) {
	r.records.mu.Lock()
	defer r.records.mu.Unlock()
	var count int64
	for _, c := range r.records.conflicts {
		if !c.DetectedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (r *memConflictRepo) Recent(_ context.Context, limit int) ([]*models.ConflictRecord, error) {
	r.records.mu.Lock()
	defer r.records.mu.Unlock()
	out := make([]*models.ConflictRecord, 0, limit)
	for i := len(r.records.conflicts) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.records.conflicts[i])
	}
	return out, nil
}
