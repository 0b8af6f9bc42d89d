package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smmassistant/avito-ai-platform/internal/conversation"
	"github.com/smmassistant/avito-ai-platform/internal/observability/metrics"
	"github.com/smmassistant/avito-ai-platform/pkg/logging"
)

// enqueuer is the intake side of the message queue.
type enqueuer interface {
	Enqueue(ev conversation.WebhookEvent) bool
}

// WebhookHandler accepts Avito messenger webhooks. It answers fast:
// the only work on this path is a signature check, a JSON parse and a
// non-blocking enqueue.
type WebhookHandler struct {
	queue   enqueuer
	secret  string
	logger  *logging.Logger
	metrics *metrics.PipelineMetrics
}

func NewWebhookHandler(queue enqueuer, secret string, logger *logging.Logger, m *metrics.PipelineMetrics) *WebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{queue: queue, secret: strings.TrimSpace(secret), logger: logger, metrics: m}
}

// Handle is POST /webhooks/messages.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.metrics.ObserveWebhook("unknown", "bad_body")
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// Signature checking is opt-in: Avito only signs webhooks when a
	// secret was configured at registration time.
	if h.secret != "" && !h.verifySignature(body, r.Header.Get("X-Signature")) {
		h.logger.Warn("webhook signature mismatch", "remote_ip", r.RemoteAddr)
		h.metrics.ObserveWebhook("unknown", "bad_signature")
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	var ev conversation.WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		h.metrics.ObserveWebhook("unknown", "malformed")
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	status := "accepted"
	if !h.queue.Enqueue(ev) {
		// The sender is still answered 200: Avito retries on errors and
		// a full queue will not get better from a retry storm.
		status = "dropped"
	}
	h.metrics.ObserveWebhook(ev.EventType, status)
	h.metrics.ObserveWebhookLatency(ev.EventType, time.Since(start).Seconds())

	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (h *WebhookHandler) verifySignature(body []byte, header string) bool {
	if header == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(header))))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
