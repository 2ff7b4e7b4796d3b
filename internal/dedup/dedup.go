// Package dedup suppresses reprocessing of identical duplicate webhook
// deliveries. A short-TTL check-and-set keyed by the event's content hash is
// the sole mechanism that turns at-least-once delivery into exactly-once
// effective processing.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Store answers "have I already queued this exact event?". CheckAndSet must
// be atomic: two concurrent calls with the same key see exactly one true.
type Store interface {
	// CheckAndSet records key with the store's TTL and reports whether it
	// was newly set. false means the key already existed (a duplicate).
	CheckAndSet(ctx context.Context, key string) (bool, error)
	Ping(ctx context.Context) error
}

// Key derives the dedup key for an event. The event type is part of the key
// so that a delete is never conflated with a prior update carrying the same
// payload hash.
func Key(module, eventType, recordID string, payload map[string]any) string {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		// map[string]any from decoded JSON always re-marshals; guard anyway
		payloadJSON = []byte(fmt.Sprintf("%v", payload))
	}
	payloadHash := sha256.Sum256(payloadJSON)

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s", module, eventType, recordID, hex.EncodeToString(payloadHash[:]))
	return hex.EncodeToString(h.Sum(nil))
}
