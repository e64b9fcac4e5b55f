package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/MarketLink/internal/pkg/constants"
	"github.com/ManuelReschke/MarketLink/internal/pkg/logger"
	"github.com/ManuelReschke/MarketLink/internal/pkg/middleware"
)

type HttpRouter struct {
	deps Deps
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Use(logger.RequestLogger(h.deps.Log))
	app.Use(middleware.UserContextMiddleware(h.deps.Sessions))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	requireAuth := middleware.RequireAuth(h.deps.Config.LoginPath)

	// The callback stays open: an expired session is handled inside by
	// parking the validated callback until the user signs in again.
	app.Get(constants.ResumeRoute, requireAuth, h.deps.Connect.HandleResume)
	connect := app.Group(constants.ConnectRoute)
	connect.Get("/:provider", requireAuth, h.deps.Connect.HandleInitiate)
	connect.Get("/:provider"+constants.CallbackSuffix, h.deps.Connect.HandleCallback)
	connect.Post("/:provider/disconnect", requireAuth, h.deps.Connect.HandleDisconnect)
}

func NewHttpRouter(deps Deps) *HttpRouter {
	return &HttpRouter{deps: deps}
}
