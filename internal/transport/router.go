package transport

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/eapp/internal/config"
	"github.com/pitabwire/eapp/internal/observability"
	"github.com/pitabwire/eapp/model"
)

// Intake is the application pipeline behind the /v1 routes.
type Intake interface {
	ValidateAnswers(ctx context.Context, productID string, answers model.Map, pageID string) (model.Result, error)
	Preview(ctx context.Context, productID string, answers model.Map, sctx model.SubmissionContext) (*model.ApplicationSubmission, model.Result, error)
	Submit(ctx context.Context, productID string, answers model.Map, sctx model.SubmissionContext, idempotencyKey string) (*model.ApplicationSubmission, error)
	Get(ctx context.Context, applicationID string) (*model.ApplicationSubmission, error)
}

// DefinitionCatalog lists and resolves loaded definitions.
type DefinitionCatalog interface {
	Get(productID string) (*model.ApplicationDefinition, bool)
	All() []*model.ApplicationDefinition
}

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Logger       *zap.Logger
	Authenticate func(http.Handler) http.Handler
	Intake       Intake
	Definitions  DefinitionCatalog

	// Optional.
	Metrics        *observability.Metrics
	MetricsHandler http.Handler
	Readiness      observability.ReadinessChecks
	APIDoc         http.Handler
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, metrics and the API description
// bypass the authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(observability.TracingMiddleware)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}

	// Public routes bypass authentication.
	r.Get("/health", observability.HandleHealth(model.SchemaVersion))
	r.Get("/ready", observability.HandleReady(readiness(deps)))
	if deps.Config.Observability.Metrics.Enabled {
		metricsHandler := deps.MetricsHandler
		if metricsHandler == nil {
			metricsHandler = observability.Handler()
		}
		r.Method(http.MethodGet, deps.Config.Observability.Metrics.Path, metricsHandler)
	}
	if deps.APIDoc != nil {
		r.Method(http.MethodGet, "/openapi.json", deps.APIDoc)
	}

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(Identify(deps.Config.Identity.Claims))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(MaxBody(deps.Config.Server.MaxBodyBytes))
		r.Use(RequestLogging(logger))

		r.Route("/v1", func(r chi.Router) {
			r.Get("/products", handleListProducts(deps.Definitions))
			r.Get("/products/{productId}/definition", handleGetDefinition(deps.Definitions))

			r.Post("/products/{productId}/validate", handleValidate(deps.Intake))
			r.Post("/products/{productId}/preview", handlePreview(deps.Intake))

			r.Group(func(r chi.Router) {
				r.Use(RequireProducer)
				r.Post("/products/{productId}/submit", handleSubmit(deps.Intake))
				r.Get("/submissions/{applicationId}", handleGetSubmission(deps.Intake))
			})
		})
	})

	return r
}

func readiness(deps Dependencies) observability.ReadinessChecks {
	checks := deps.Readiness
	if checks.Definitions == nil && deps.Definitions != nil {
		checks.Definitions = func() int { return len(deps.Definitions.All()) }
	}
	return checks
}
