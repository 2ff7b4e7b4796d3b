package models

import (
	"time"

	"github.com/google/uuid"
)

// RawEventStatus is the outcome recorded in the webhook audit log.
type RawEventStatus string

const (
	RawEventAccepted  RawEventStatus = "accepted"
	RawEventDuplicate RawEventStatus = "duplicate"
	RawEventRejected  RawEventStatus = "rejected"
	RawEventMalformed RawEventStatus = "malformed"
)

// RawEvent is the as-received webhook body before unwrapping. One row is
// appended per HTTP receipt regardless of processing outcome; rows are never
// mutated or deleted.
type RawEvent struct {
	ID         uuid.UUID      `json:"id"`
	Module     string         `json:"module"`
	Status     RawEventStatus `json:"status"`
	Payload    []byte         `json:"payload"`
	SourceIP   string         `json:"source_ip"`
	Signature  string         `json:"signature"`
	ReceivedAt time.Time      `json:"received_at"`
}
