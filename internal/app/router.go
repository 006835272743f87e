package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/arcadia-sis/arcadia-sis/internal/admissions"
	"github.com/arcadia-sis/arcadia-sis/internal/auth"
	"github.com/arcadia-sis/arcadia-sis/internal/authz"
	"github.com/arcadia-sis/arcadia-sis/internal/billing"
	"github.com/arcadia-sis/arcadia-sis/internal/housing"
	"github.com/arcadia-sis/arcadia-sis/internal/observability"
	"github.com/arcadia-sis/arcadia-sis/internal/shared"
	"github.com/arcadia-sis/arcadia-sis/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	SessionManager    *shared.SessionManager
	CSRFManager       *shared.CSRFManager
	AuthzMiddleware   authz.Middleware
	AuthHandler       *auth.Handler
	AdmissionsHandler *admissions.Handler
	HousingHandler    *housing.Handler
	BillingHandler    *billing.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with portal defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)
	r.Use(params.AuthzMiddleware.Resolve)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/auth", params.AuthHandler.MountRoutes)
	r.Route("/admissions", params.AdmissionsHandler.MountRoutes)
	r.Route("/housing", params.HousingHandler.MountRoutes)
	r.Route("/billing", params.BillingHandler.MountRoutes)
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
