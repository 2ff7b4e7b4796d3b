package models

import (
	"time"

	"github.com/google/uuid"
)

// ConflictRecord is written whenever an incoming write carried a
// modified_time that was not strictly newer than the stored one. The stale
// write is discarded (the local record is authoritative) but the conflict is
// always logged, never silently dropped.
type ConflictRecord struct {
	ID                   uuid.UUID `json:"id"`
	Module               string    `json:"module"`
	RemoteID             string    `json:"remote_id"`
	IncomingModifiedTime time.Time `json:"incoming_modified_time"`
	ExistingModifiedTime time.Time `json:"existing_modified_time"`
	DetectedAt           time.Time `json:"detected_at"`
}
