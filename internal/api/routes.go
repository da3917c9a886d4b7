package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ignite/mail-pipeline/internal/config"
)

// SetupRoutes configures all routes. Groups whose handler is nil are left
// unmounted.
func SetupRoutes(h *Handlers, admin config.AdminConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(requestLogger)

	// Health and metrics (no auth required)
	if h.Health != nil {
		r.Get("/healthz", h.Health.HandleLiveness)
		r.Get("/healthz/ready", h.Health.HandleReadiness)
	} else {
		r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			respondJSON(w, http.StatusOK, map[string]string{"status": "alive"})
		})
	}
	r.Handle("/metrics", promhttp.Handler())

	// Provider callbacks authenticate with their own HMAC signature.
	if h.Webhook != nil {
		r.Method(http.MethodPost, "/webhooks/email", h.Webhook)
	}

	// Recipient-facing pages, authorised by the token in the URL.
	if h.Preferences != nil {
		u := &unsubscribeHandlers{prefs: h.Preferences}
		r.Route("/unsubscribe/{token}", func(r chi.Router) {
			r.Get("/", u.show)
			r.Post("/", u.update)
			// Opening the List-Unsubscribe link in a browser shows the form.
			r.Get("/one-click", u.show)
			r.Post("/one-click", u.oneClick)
		})
	}

	if h.Admin != nil || h.Enqueuer != nil {
		a := &adminHandlers{admin: h.Admin, enqueuer: h.Enqueuer}
		r.Route("/admin/emails", func(r chi.Router) {
			if len(admin.AllowedOrigins) > 0 {
				r.Use(cors.Handler(cors.Options{
					AllowedOrigins: admin.AllowedOrigins,
					AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
					AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
					MaxAge:         300,
				}))
			}
			r.Use(bearerAuth(admin.Token))
			if h.Admin != nil {
				r.Get("/stats", a.stats)
				r.Get("/scheduled", a.listScheduled)
				r.Delete("/scheduled/{id}", a.cancelScheduled)
				r.Get("/records", a.listRecords)
			}
			if h.Enqueuer != nil {
				r.Post("/send", a.send)
			}
		})
	}

	return r
}
