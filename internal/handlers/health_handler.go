package handlers

import (
	"net/http"
)

// Health reports whether the receiver's dependencies are wired and
// reachable. It answers 200 even when degraded; the body says what is off.
func (h *WebhookHandler) Health(w http.ResponseWriter, r *http.Request) {
	dedupConnected := h.dedup.Ping(r.Context()) == nil
	_, queueErr := h.queue.Depth(r.Context())

	status := "ok"
	if !dedupConnected || queueErr != nil || h.secret == "" {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":                   status,
		"webhook_secret_configured": h.secret != "",
		"queue_configured":          queueErr == nil,
		"dedup_store_connected":     dedupConnected,
	})
}
