// middleware/auth.go
package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// AccountContextMiddleware extracts the account identity and roles set by
// the gateway. Secured paths (under /s/) reject requests without an
// account id.
func AccountContextMiddleware(log *logrus.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		accountID := c.Get("X-Account-ID")
		rolesStr := c.Get("X-Account-Roles")

		path := c.Path()
		isSecured := strings.HasPrefix(path, "/s/")
		if isSecured && accountID == "" {
			log.WithField("path", path).Warn("X-Account-ID missing on secured route")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-Account-ID — request must come through gateway with auth context",
			})
		}

		var roles []string
		if rolesStr != "" {
			for _, r := range strings.Split(rolesStr, ",") {
				r = strings.TrimSpace(r)
				if r != "" {
					roles = append(roles, r)
				}
			}
		}

		c.Locals("account_id", accountID)
		c.Locals("account_roles", roles)

		return c.Next()
	}
}

// RequireRole rejects requests whose gateway context lacks the given role.
func RequireRole(log *logrus.Logger, role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		roles, _ := c.Locals("account_roles").([]string)
		for _, r := range roles {
			if r == role {
				return c.Next()
			}
		}
		log.WithFields(logrus.Fields{
			"path":     c.Path(),
			"required": role,
		}).Warn("role check failed")
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "insufficient role",
		})
	}
}
