package models

import "time"

// SyncMetadata is the per-module reconciliation checkpoint. LastPolledAt is
// the watermark: the poll start time of the last fully successful poll, so
// the next poll's window covers anything modified while that poll ran.
type SyncMetadata struct {
	Module             string     `json:"module"`
	LastPolledAt       *time.Time `json:"last_polled_at,omitempty"`
	LastCursor         string     `json:"last_cursor,omitempty"`
	RecordsSyncedTotal int64      `json:"records_synced_total"`
	LastError          string     `json:"last_error,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}
