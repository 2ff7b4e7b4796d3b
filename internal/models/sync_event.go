package models

import "strings"

type EventType string

const (
	EventCreate EventType = "create"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// SyncEvent is the normalized internal representation of a webhook push
// after unwrapping. It lives only on the queue; processing never persists it
// beyond the webhook audit log.
type SyncEvent struct {
	Module          string         `json:"module"`
	EventType       EventType      `json:"event_type"`
	RecordID        string         `json:"record_id"`
	Payload         map[string]any `json:"payload"`
	WrapperMetadata map[string]any `json:"wrapper_metadata,omitempty"`
}

// ParseEventType normalizes a provider operation string like "Leads.edit"
// into an EventType. The module prefix is stripped, the remainder lowered,
// and provider synonyms mapped. Anything unrecognized (including a missing
// operation) falls back to update: an update triggers a full re-fetch, so it
// is the safe default, whereas skipping could silently lose data.
func ParseEventType(operation, module string) EventType {
	op := strings.ToLower(strings.TrimSpace(operation))
	if prefix := strings.ToLower(module) + "."; strings.HasPrefix(op, prefix) {
		op = op[len(prefix):]
	} else if i := strings.LastIndex(op, "."); i >= 0 {
		// Prefix didn't match the URL module; strip whatever prefix is there.
		op = op[i+1:]
	}

	switch op {
	case "create", "insert", "add":
		return EventCreate
	case "update", "edit":
		return EventUpdate
	case "delete", "remove":
		return EventDelete
	default:
		return EventUpdate
	}
}
