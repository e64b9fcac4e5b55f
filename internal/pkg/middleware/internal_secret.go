package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/MarketLink/internal/pkg/logger"
)

const InternalSecretHeader = "X-Internal-Secret"

// InternalSecretAuth guards service-to-service routes with a shared secret.
// With no secret configured every request is refused.
func InternalSecretAuth(secret string) fiber.Handler {
	want := []byte(secret)
	return func(c *fiber.Ctx) error {
		got := strings.TrimSpace(c.Get(InternalSecretHeader))
		if len(want) == 0 {
			logger.FromCtx(c).Error("internal_secret_not_configured")
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "unavailable", "message": "Internal API disabled"})
		}
		if got == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid internal secret"})
		}
		return c.Next()
	}
}
