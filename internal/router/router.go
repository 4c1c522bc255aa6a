package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/edassess/naplan-api/internal/config"
	"github.com/edassess/naplan-api/internal/handler"
	"github.com/edassess/naplan-api/internal/middleware"
	"github.com/edassess/naplan-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	WebhookHandler    *handler.WebhookHandler
	SubmissionHandler *handler.SubmissionHandler
	JWTMiddleware     fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))
	app.Get("/metrics", observability.MetricsHandler())

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	// Webhook ingress. The path is part of the platform contract, so it sits
	// outside the versioned API group. Unauthenticated by platform design,
	// rate limited instead.
	if deps.WebhookHandler != nil {
		webhooks := app.Group("/webhooks", middleware.RateLimit("webhooks", 100, time.Second))
		deps.WebhookHandler.Register(webhooks)
	}

	// Operator endpoints
	if deps.SubmissionHandler != nil {
		submissions := api.Group("/submissions", jwtMiddleware)
		deps.SubmissionHandler.Register(submissions)
	}
}
