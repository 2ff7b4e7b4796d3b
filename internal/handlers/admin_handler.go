package handlers

import (
	"log"
	"net/http"

	"github.com/prudhvinik1/crmsync/internal/queue"
	"github.com/prudhvinik1/crmsync/internal/services"
)

// deadLetterPageSize bounds the inspection listing.
const deadLetterPageSize = 50

// AdminHandler serves the operator-facing read-only surface.
type AdminHandler struct {
	reporter *services.StatusReporter
	queue    queue.Queue
}

func NewAdminHandler(reporter *services.StatusReporter, q queue.Queue) *AdminHandler {
	return &AdminHandler{reporter: reporter, queue: q}
}

func (h *AdminHandler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	report, err := h.reporter.Report(r.Context())
	if err != nil {
		log.Printf("[admin] failed to build status report: %v", err)
		http.Error(w, "failed to build status report", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// DeadLetters lists recently dead-lettered messages for inspection.
// Reprocessing is deliberately not offered here.
func (h *AdminHandler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	messages, err := h.queue.DeadLetters(r.Context(), deadLetterPageSize)
	if err != nil {
		log.Printf("[admin] failed to list dead letters: %v", err)
		http.Error(w, "failed to list dead letters", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(messages),
		"messages": messages,
	})
}
