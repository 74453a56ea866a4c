package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/escalation-service/internal/api/http/handlers"
	"github.com/spec-kit/escalation-service/internal/auth"
	"github.com/spec-kit/escalation-service/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Public         *handlers.PublicIssuesHandler
	Issues         *handlers.OperatorIssuesHandler
	Operators      *handlers.OperatorsHandler
	Ingest         *handlers.IngestHandler
	AuthMiddleware *auth.AuthMiddleware
	InternalToken  string
	// Registry is served on /metrics when set.
	Registry *prometheus.Registry
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Registry != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{})))
	}

	public := app.Group("/public/issues")
	public.Get("/:token", cfg.Public.View)
	public.Post("/:token/status", cfg.Public.UpdateStatus)
	public.Post("/:token/reports", cfg.Public.AddReport)
	public.Post("/:token/viewed", cfg.Public.Viewed)

	authGroup := app.Group("/auth")
	authGroup.Post("/operators/login", cfg.Operators.Login)

	internal := app.Group("/internal", auth.RequireInternalToken(cfg.InternalToken))
	internal.Post("/check-results", cfg.Ingest.CheckResult)

	api := app.Group("/api", cfg.AuthMiddleware.Handle, auth.RequireOperatorRole())
	api.Get("/operators/me", cfg.Operators.Me)
	api.Post("/operators/me/password", cfg.Operators.ChangePassword)
	api.Get("/issues", cfg.Issues.List)
	api.Get("/issues/:id", cfg.Issues.Get)
	api.Post("/issues/:id/status", cfg.Issues.UpdateStatus)
	api.Post("/issues/:id/reports", cfg.Issues.AddReport)

	adminOnly := auth.RequireOperatorRole(domain.OperatorRoleAdmin)
	api.Get("/operators", adminOnly, cfg.Operators.List)
	api.Post("/operators", adminOnly, cfg.Operators.Create)
	api.Get("/cooldowns", adminOnly, cfg.Issues.ListCooldowns)
	api.Delete("/cooldowns", adminOnly, cfg.Issues.ClearCooldowns)
}
