// middleware/gateway.go
package middleware

import (
	"strings"

	"github.com/charmbracelet/log"
	"github.com/gofiber/fiber/v2"
)

// GatewayAuthMiddleware validates the Bearer token sent by the API gateway.
// An empty expected token disables the check, for local development.
func GatewayAuthMiddleware(expectedToken string, logger *log.Logger) fiber.Handler {
	logger = logger.WithPrefix("gateway")
	if expectedToken == "" {
		logger.Warn("GAME_SERVICE_TOKEN not set, gateway authentication disabled")
		return func(c *fiber.Ctx) error { return c.Next() }
	}

	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			logger.Warn("Missing Authorization header", "path", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "gateway authentication token missing",
			})
		}

		// Accept both "Bearer <token>" and a raw token.
		token := strings.TrimPrefix(authHeader, "Bearer ")

		if token != expectedToken {
			logger.Warn("Invalid gateway token", "path", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "invalid gateway authentication token",
			})
		}
		return c.Next()
	}
}
