package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smmassistant/avito-ai-platform/internal/http/handlers"
	"github.com/smmassistant/avito-ai-platform/internal/http/middleware"
	"github.com/smmassistant/avito-ai-platform/pkg/logging"
)

// Deps are the handlers the router mounts.
type Deps struct {
	Webhook  *handlers.WebhookHandler
	Admin    *handlers.AdminHandler
	Health   *handlers.HealthHandler
	Registry *prometheus.Registry
	Logger   *logging.Logger
}

// New assembles the HTTP surface: the public webhook and probes, the
// admin subscription endpoints and Prometheus metrics.
func New(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestLogger(d.Logger))

	r.Get("/health", d.Health.Live)
	r.Get("/ready", d.Health.Ready)
	r.Post("/webhooks/messages", d.Webhook.Handle)

	r.Route("/admin", func(r chi.Router) {
		r.Post("/webhook", d.Admin.Register)
		r.Get("/webhook", d.Admin.Status)
		r.Delete("/webhook", d.Admin.Unregister)
	})

	if d.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{}))
	}
	return r
}
