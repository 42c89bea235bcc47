// handlers/app.go
package handlers

import (
	"strings"
	"time"

	"rps-match-service/middleware"
	"rps-match-service/services"

	"github.com/charmbracelet/log"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// AppOptions configures the HTTP surface.
type AppOptions struct {
	AllowedOrigins []string
	ServiceToken   string

	// RateLimit is the per-IP request budget per minute; 0 disables it.
	RateLimit int
}

// NewApp builds the fiber app with middleware and every route mounted.
func NewApp(opts AppOptions, svc *services.MatchService, hub *services.Hub, metrics *services.Metrics, logger *log.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "rps-match-service",
		BodyLimit:             64 * 1024,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(middleware.RequestLogger(logger))
	app.Use(helmet.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(opts.AllowedOrigins, ","),
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
		MaxAge:       86400,
	}))

	// Health and metrics stay reachable without the gateway token.
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"ok": true})
	})
	app.Get("/metrics", func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		metrics.WriteJSON(c.Response().BodyWriter())
		return nil
	})

	app.Use(middleware.GatewayAuthMiddleware(opts.ServiceToken, logger))
	app.Use(limiter.New(limiter.Config{
		Max:        opts.RateLimit,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return opts.RateLimit <= 0
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "too many requests",
			})
		},
	}))
	SetupMatchRoutes(app, NewMatchHandler(svc, hub, logger))
	return app
}
