package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/smmassistant/avito-ai-platform/pkg/logging"
)

// webhookManager is the subscription side of the Avito client.
type webhookManager interface {
	RegisterWebhook(ctx context.Context, webhookURL string) error
	WebhookStatus(ctx context.Context) (json.RawMessage, error)
	UnregisterWebhook(ctx context.Context, webhookURL string) error
}

// AdminHandler exposes webhook subscription management. It sits behind
// the reverse proxy's admin network, not on the public surface.
type AdminHandler struct {
	avito  webhookManager
	logger *logging.Logger
}

func NewAdminHandler(avito webhookManager, logger *logging.Logger) *AdminHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminHandler{avito: avito, logger: logger}
}

type webhookURLRequest struct {
	URL string `json:"url"`
}

// Register is POST /admin/webhook.
func (h *AdminHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req webhookURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}
	if err := h.avito.RegisterWebhook(r.Context(), req.URL); err != nil {
		h.logger.Error("webhook registration failed", "url", req.URL, "error", err)
		http.Error(w, "registration failed", http.StatusBadGateway)
		return
	}
	h.logger.Info("webhook registered", "url", req.URL)
	writeJSON(w, http.StatusOK, map[string]string{"status": "registered", "url": req.URL})
}

// Status is GET /admin/webhook.
func (h *AdminHandler) Status(w http.ResponseWriter, r *http.Request) {
	raw, err := h.avito.WebhookStatus(r.Context())
	if err != nil {
		h.logger.Error("webhook status failed", "error", err)
		http.Error(w, "status unavailable", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// Unregister is DELETE /admin/webhook.
func (h *AdminHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	var req webhookURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}
	if err := h.avito.UnregisterWebhook(r.Context(), req.URL); err != nil {
		h.logger.Error("webhook unregistration failed", "url", req.URL, "error", err)
		http.Error(w, "unregistration failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unregistered", "url": req.URL})
}
