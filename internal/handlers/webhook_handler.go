package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/prudhvinik1/crmsync/internal/crm"
	"github.com/prudhvinik1/crmsync/internal/dedup"
	"github.com/prudhvinik1/crmsync/internal/models"
	"github.com/prudhvinik1/crmsync/internal/queue"
	"github.com/prudhvinik1/crmsync/internal/repositories"
	"github.com/prudhvinik1/crmsync/internal/utils"
)

// maxBodySize caps webhook bodies; provider pushes are single records.
const maxBodySize = 1 << 20

const signatureHeader = "X-Signature"

// WebhookHandler validates, deduplicates and enqueues provider pushes. It
// never processes a record inline: the response is sent as soon as the
// event is on the queue, and the worker pool does the rest asynchronously.
type WebhookHandler struct {
	secret     string
	registry   *models.ModuleRegistry
	dedup      dedup.Store
	queue      queue.Queue
	webhookLog repositories.WebhookLogRepository
}

func NewWebhookHandler(
	secret string,
	registry *models.ModuleRegistry,
	dedupStore dedup.Store,
	q queue.Queue,
	webhookLog repositories.WebhookLogRepository,
) *WebhookHandler {
	return &WebhookHandler{
		secret:     secret,
		registry:   registry,
		dedup:      dedupStore,
		queue:      q,
		webhookLog: webhookLog,
	}
}

// pushEnvelope is the provider's wrapper: the actual record sits in data[0]
// and everything else is wrapper-level metadata.
type pushEnvelope struct {
	Challenge string           `json:"challenge"`
	Operation string           `json:"operation"`
	Data      []map[string]any `json:"data"`
}

func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	moduleName := chi.URLParam(r, "module")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	var env pushEnvelope
	parseErr := json.Unmarshal(body, &env)

	// Provider handshake: echo the challenge and do nothing else. This
	// happens before signature verification because challenge requests are
	// not signed.
	if parseErr == nil && env.Challenge != "" {
		h.audit(r, moduleName, body, models.RawEventAccepted)
		writeJSON(w, http.StatusOK, map[string]string{"challenge": env.Challenge})
		return
	}

	if !utils.VerifySignature(h.secret, body, r.Header.Get(signatureHeader)) {
		// Rejected deliveries are still logged for forensics.
		h.audit(r, moduleName, body, models.RawEventRejected)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	module, ok := h.registry.Get(moduleName)
	if !ok {
		h.audit(r, moduleName, body, models.RawEventRejected)
		http.Error(w, "unknown module", http.StatusNotFound)
		return
	}

	if parseErr != nil || len(env.Data) == 0 {
		h.audit(r, module.Name, body, models.RawEventMalformed)
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	payload := env.Data[0]
	recordID, ok := crm.RecordID(payload)
	if !ok {
		h.audit(r, module.Name, body, models.RawEventMalformed)
		http.Error(w, "payload has no record id", http.StatusBadRequest)
		return
	}

	eventType := models.ParseEventType(env.Operation, module.Name)

	key := dedup.Key(module.Name, string(eventType), recordID, payload)
	fresh, err := h.dedup.CheckAndSet(r.Context(), key)
	if err != nil {
		// Dedup store down: rely on the provider's retry.
		h.audit(r, module.Name, body, models.RawEventRejected)
		log.Printf("[webhook] dedup check failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !fresh {
		// Idempotent no-op. 200 so the provider stops redelivering.
		h.audit(r, module.Name, body, models.RawEventDuplicate)
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}

	event := models.SyncEvent{
		Module:          module.Name,
		EventType:       eventType,
		RecordID:        recordID,
		Payload:         payload,
		WrapperMetadata: wrapperMetadata(body),
	}

	correlationID := middleware.GetReqID(r.Context())
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	messageID, err := h.queue.Enqueue(r.Context(), event, correlationID)
	if err != nil {
		// 500 so the provider retries; its redelivery is the recovery path
		// for queue-publish failures.
		h.audit(r, module.Name, body, models.RawEventRejected)
		log.Printf("[webhook] enqueue failed correlation_id=%s: %v", correlationID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.audit(r, module.Name, body, models.RawEventAccepted)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":         "queued",
		"message_id":     messageID,
		"correlation_id": correlationID,
	})
}

// audit appends one row to the webhook log for every receipt, whatever the
// outcome. Failures are logged and swallowed: audit must not turn a valid
// delivery into an error response.
func (h *WebhookHandler) audit(r *http.Request, module string, body []byte, status models.RawEventStatus) {
	sourceIP := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		sourceIP = host
	}

	event := &models.RawEvent{
		Module:     module,
		Status:     status,
		Payload:    body,
		SourceIP:   sourceIP,
		Signature:  r.Header.Get(signatureHeader),
		ReceivedAt: time.Now().UTC(),
	}
	if err := h.webhookLog.Append(r.Context(), event); err != nil {
		log.Printf("[webhook] failed to append audit log: %v", err)
	}
}

// wrapperMetadata keeps the non-payload wrapper fields verbatim for audit.
func wrapperMetadata(body []byte) map[string]any {
	var all map[string]any
	if err := json.Unmarshal(body, &all); err != nil {
		return nil
	}
	delete(all, "data")
	return all
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[http] failed to write response: %v", err)
	}
}
