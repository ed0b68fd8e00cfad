/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logging:    zerolog access log, request logger in context
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the dashboard
  5. Tenant:     /api routes only (tenant.go)

ROUTE GROUPS:
  /healthz              Liveness, no tenant
  /api/budgets/*        Budgets, lines, actuals, variances, forecasts,
                        approvals (see handlers.go)

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/warp/budget-engine/logging"
)

// RouterOptions configures the middleware around the handlers.
type RouterOptions struct {
	Logger         zerolog.Logger
	AllowedOrigins []string
	Tenant         TenantOptions
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	allowedHeaders := []string{"Accept", "Authorization", "Content-Type"}
	if opts.Tenant.Header != "" {
		allowedHeaders = append(allowedHeaders, opts.Tenant.Header)
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(logging.Middleware(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   allowedHeaders,
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(Tenant(opts.Tenant))

		r.Route("/budgets", func(r chi.Router) {
			r.Get("/", h.ListBudgets)
			r.Post("/", h.CreateBudget)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetBudget)
				r.Put("/", h.UpdateBudget)
				r.Delete("/", h.DeleteBudget)
				r.Post("/status", h.ChangeStatus)
				r.Get("/versions", h.ListVersions)

				r.Get("/lines", h.ListLines)
				r.Post("/lines", h.AddLine)
				r.Put("/lines/{lineID}", h.UpdateLine)
				r.Delete("/lines/{lineID}", h.DeleteLine)

				r.Get("/actuals", h.ListActuals)
				r.Post("/actuals", h.RecordActual)
				r.Post("/enforcement", h.CheckEnforcement)

				r.Get("/variances", h.ListVariances)
				r.Patch("/variances", h.AcknowledgeVariance)
				r.Post("/variances/refresh", h.RefreshVariances)

				r.Get("/forecasts", h.ListForecasts)
				r.Post("/forecasts", h.CreateForecast)

				r.Get("/approvals", h.ListApprovals)
				r.Post("/approvals", h.DecideApproval)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Route not found", nil)
	})

	return r
}
