package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/readmaster-api/internal/config"
	"github.com/noah-isme/readmaster-api/internal/handler"
	"github.com/noah-isme/readmaster-api/internal/middleware"
	"github.com/noah-isme/readmaster-api/internal/observability"
	"github.com/noah-isme/readmaster-api/internal/service"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	AssessmentHandler   *handler.AssessmentHandler
	NotificationHandler *handler.NotificationHandler
	RealtimeHandler     *handler.RealtimeHandler
	JWTMiddleware       fiber.Handler
	HealthProbes        []handler.HealthProbe
	// UploadRateLimit caps upload URL requests per user per minute; zero disables it.
	UploadRateLimit int
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	if deps.RealtimeHandler != nil {
		deps.RealtimeHandler.Register(app)
	}

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes...))

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}
	requireUser := func(c *fiber.Ctx) error {
		return middleware.WithAuth(func(c *fiber.Ctx) error { return c.Next() },
			middleware.AuthOptions{Role: middleware.AuthRoleAny, RequireUser: true})(c)
	}

	if deps.AssessmentHandler != nil {
		var uploadLimiter fiber.Handler
		if deps.UploadRateLimit > 0 {
			uploadLimiter = middleware.RateLimit("upload_url", deps.UploadRateLimit, time.Minute)
		}
		assessments := api.Group("/assessments", jwtMiddleware, requireUser,
			middleware.RequireRole(service.RoleStudent, service.RoleTeacher, service.RoleParent, service.RoleAdmin))
		deps.AssessmentHandler.Register(assessments, uploadLimiter)
	}

	if deps.NotificationHandler != nil {
		notifications := api.Group("/notifications", jwtMiddleware, requireUser)
		deps.NotificationHandler.Register(notifications)
	}
}
