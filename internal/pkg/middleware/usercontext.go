package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"

	"github.com/ManuelReschke/MarketLink/internal/pkg/logger"
	appsession "github.com/ManuelReschke/MarketLink/internal/pkg/session"
	"github.com/ManuelReschke/MarketLink/internal/pkg/usercontext"
)

// UserContextMiddleware resolves the session into a UserContext for every
// request. A broken session is treated as anonymous.
func UserContextMiddleware(store *session.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		uc, err := appsession.CurrentUser(store, c)
		if err != nil {
			logger.FromCtx(c).Warn("session_lookup_failed")
			uc = usercontext.UserContext{}
		}
		usercontext.Set(c, uc)
		return c.Next()
	}
}
