package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/smmassistant/avito-ai-platform/internal/conversation"
	"github.com/smmassistant/avito-ai-platform/internal/http/handlers"
	"github.com/smmassistant/avito-ai-platform/internal/observability/metrics"
	"github.com/smmassistant/avito-ai-platform/pkg/logging"
)

type nopQueue struct{}

func (nopQueue) Enqueue(conversation.WebhookEvent) bool { return true }

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	reg := prometheus.NewRegistry()
	logger := logging.Default()
	return New(Deps{
		Webhook:  handlers.NewWebhookHandler(nopQueue{}, "", logger, metrics.NewPipelineMetrics(reg)),
		Admin:    handlers.NewAdminHandler(nil, logger),
		Health:   handlers.NewHealthHandler(rdb),
		Registry: reg,
		Logger:   logger,
	})
}

func TestRouterRoutes(t *testing.T) {
	h := newTestRouter(t)
	cases := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodGet, "/ready", "", http.StatusOK},
		{http.MethodPost, "/webhooks/messages", `{"event_type":"message.new","payload":{"chat_id":"c"}}`, http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodGet, "/nope", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Errorf("%s %s = %d, want %d", tc.method, tc.path, rec.Code, tc.want)
		}
	}
}
