// middleware/gateway.go
package middleware

import (
	"os"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// GatewayAuthMiddleware validates the bearer token the gateway attaches to
// every forwarded request. The service refuses to start without
// REWARD_SERVICE_TOKEN configured.
func GatewayAuthMiddleware(log *logrus.Logger) fiber.Handler {
	expectedToken := os.Getenv("REWARD_SERVICE_TOKEN")
	if expectedToken == "" {
		log.Fatal("REWARD_SERVICE_TOKEN is not set, service cannot authenticate gateway")
	}

	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			log.WithField("path", c.Path()).Warn("missing Authorization header")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "gateway authentication token missing",
			})
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			// No "Bearer " prefix, accept the raw value.
			token = authHeader
		}

		if token != expectedToken {
			log.WithField("path", c.Path()).Warn("invalid gateway token")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid gateway authentication token",
			})
		}

		return c.Next()
	}
}
