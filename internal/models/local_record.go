package models

import (
	"time"

	"github.com/google/uuid"
)

// Owner is the normalized actor/owner sub-object attached to every record.
type Owner struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// LocalRecord is the upserted local copy of a remote CRM record. One
// polymorphic table holds all modules, keyed by (module, remote_id).
//
// Delete events never remove the row; they set DeletedAt so the audit trail
// survives. ModifiedTime comes from the remote system and is authoritative
// for ordering; SyncVersion is a local counter incremented on every
// successful write.
type LocalRecord struct {
	ID           uuid.UUID      `json:"id"`
	Module       string         `json:"module"`
	RemoteID     string         `json:"remote_id"`
	Fields       map[string]any `json:"fields"`
	Owner        Owner          `json:"owner"`
	ModifiedTime time.Time      `json:"modified_time"`
	SyncVersion  int64          `json:"sync_version"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    *time.Time     `json:"updated_at,omitempty"`
	DeletedAt    *time.Time     `json:"deleted_at,omitempty"`
}
