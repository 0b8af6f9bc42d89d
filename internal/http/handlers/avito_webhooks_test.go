package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/smmassistant/avito-ai-platform/internal/conversation"
	"github.com/smmassistant/avito-ai-platform/internal/observability/metrics"
	"github.com/smmassistant/avito-ai-platform/pkg/logging"
)

type fakeQueue struct {
	events []conversation.WebhookEvent
	full   bool
}

func (q *fakeQueue) Enqueue(ev conversation.WebhookEvent) bool {
	if q.full {
		return false
	}
	q.events = append(q.events, ev)
	return true
}

func newWebhookHandler(q *fakeQueue, secret string) *WebhookHandler {
	return NewWebhookHandler(q, secret, logging.Default(),
		metrics.NewPipelineMetrics(prometheus.NewRegistry()))
}

const validBody = `{"event_type":"message.new","payload":{"chat_id":"u1-i1-abc","message":{"id":"m1","author_id":5,"type":"text","text":"привет"}}}`

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookAcceptsAndEnqueues(t *testing.T) {
	q := &fakeQueue{}
	h := newWebhookHandler(q, "")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/messages", strings.NewReader(validBody))
	rec := httptest.NewRecorder()
	h.Handle(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "accepted" {
		t.Fatalf("response = %v", resp)
	}
	if len(q.events) != 1 || q.events[0].ResolveChatID() != "u1-i1-abc" {
		t.Fatalf("queue got %+v", q.events)
	}
}

func TestWebhookRejectsMalformedJSON(t *testing.T) {
	q := &fakeQueue{}
	h := newWebhookHandler(q, "")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/messages", strings.NewReader("{broken"))
	rec := httptest.NewRecorder()
	h.Handle(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(q.events) != 0 {
		t.Fatal("malformed payload reached the queue")
	}
}

func TestWebhookVerifiesSignature(t *testing.T) {
	q := &fakeQueue{}
	h := newWebhookHandler(q, "s3cret")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/messages", strings.NewReader(validBody))
	req.Header.Set("X-Signature", sign("s3cret", validBody))
	rec := httptest.NewRecorder()
	h.Handle(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid signature rejected: %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/webhooks/messages", strings.NewReader(validBody))
	req.Header.Set("X-Signature", sign("wrong-secret", validBody))
	rec = httptest.NewRecorder()
	h.Handle(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("forged signature accepted: %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/webhooks/messages", strings.NewReader(validBody))
	rec = httptest.NewRecorder()
	h.Handle(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("missing signature accepted: %d", rec.Code)
	}
}

func TestWebhookAnswersOKWhenQueueFull(t *testing.T) {
	q := &fakeQueue{full: true}
	h := newWebhookHandler(q, "")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/messages", strings.NewReader(validBody))
	rec := httptest.NewRecorder()
	h.Handle(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("queue-full must still answer 200, got %d", rec.Code)
	}
}
