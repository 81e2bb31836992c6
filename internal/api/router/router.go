// Package router wires the HTTP surface: public webhook and health
// endpoints, and the JWT-protected admin API.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/clinic-reservation-engine/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/clinic-reservation-engine/internal/http/middleware"
	"github.com/wolfman30/clinic-reservation-engine/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Reservations       *handlers.ReservationHandler
	Identity           *handlers.IdentityHandler
	Intakes            *handlers.IntakeHandler
	Reorders           *handlers.ReorderHandler
	Reconcile          *handlers.ReconcileHandler
	Notifications      *handlers.NotificationHandler
	ChatWebhook        *handlers.ChatWebhookHandler
	MetricsHandler     http.Handler
	AdminAuthSecret    string
	CORSAllowedOrigins []string
	WebhookRateLimit   float64
	WebhookRateBurst   int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints: health, metrics, the platform webhook.
	r.Group(func(public chi.Router) {
		public.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.ChatWebhook != nil {
			rate := cfg.WebhookRateLimit
			burst := cfg.WebhookRateBurst
			if rate <= 0 {
				rate = 20
			}
			if burst <= 0 {
				burst = 40
			}
			public.With(httpmiddleware.RateLimit(rate, burst)).
				Post("/webhooks/chat", cfg.ChatWebhook.Receive)
		}
	})

	// Admin API, JWT-protected.
	r.Route("/admin", func(admin chi.Router) {
		admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))

		if cfg.Reservations != nil {
			admin.Route("/reservations", func(res chi.Router) {
				res.Post("/", cfg.Reservations.Create)
				res.Get("/{token}", cfg.Reservations.Get)
				res.Put("/{token}", cfg.Reservations.Update)
				res.Delete("/{token}", cfg.Reservations.Cancel)
				res.Post("/{token}/confirm", cfg.Reservations.Confirm)
			})
		}
		if cfg.Identity != nil {
			admin.Route("/identity", func(id chi.Router) {
				id.Get("/patient", cfg.Identity.Get)
				id.Get("/duplicates", cfg.Identity.Duplicates)
				id.Post("/merge", cfg.Identity.Merge)
			})
		}
		if cfg.Intakes != nil {
			admin.Route("/intakes", func(in chi.Router) {
				in.Post("/", cfg.Intakes.Create)
				in.Post("/{id}/answer", cfg.Intakes.Answer)
			})
			admin.Get("/patients/{patientID}/intake/open", cfg.Intakes.Open)
		}
		if cfg.Reorders != nil {
			admin.Route("/reorders", func(re chi.Router) {
				re.Post("/", cfg.Reorders.Create)
				re.Get("/{id}", cfg.Reorders.Get)
				re.Put("/{id}/status", cfg.Reorders.UpdateStatus)
			})
		}
		if cfg.Reconcile != nil {
			admin.Route("/reconcile", func(rec chi.Router) {
				rec.Post("/run", cfg.Reconcile.Run)
				rec.Get("/rowmapping", cfg.Reconcile.Diff)
				rec.Post("/rowmapping/repair", cfg.Reconcile.Repair)
				rec.Post("/rowmapping/replay", cfg.Reconcile.Replay)
				rec.Get("/orphans", cfg.Reconcile.Orphans)
				rec.Get("/intakes/duplicates", cfg.Reconcile.DuplicateIntakes)
				rec.Post("/intakes/cleanup", cfg.Reconcile.CleanupIntakes)
			})
		}
		if cfg.Notifications != nil {
			admin.Route("/notifications", func(n chi.Router) {
				n.Post("/send", cfg.Notifications.Send)
				n.Get("/audit", cfg.Notifications.Audit)
			})
		}
	})

	return r
}
