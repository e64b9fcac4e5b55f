package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/MarketLink/internal/pkg/middleware"
)

type ApiRouter struct {
	deps Deps
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")
	v1.Get("/connections", middleware.RequireAPISessionAuth, h.deps.Connect.HandleListConnections)

	// Sync workers poll tokens far more often than browsers hit the API.
	internal := app.Group("/internal/v1",
		middleware.InternalSecretAuth(h.deps.Config.InternalAPISecret),
		limiter.New(limiter.Config{Max: 600, Expiration: time.Minute}),
	)
	internal.Get("/connections/:user_id/:provider/token", h.deps.Tokens.HandleGetToken)
}

func NewApiRouter(deps Deps) *ApiRouter {
	return &ApiRouter{deps: deps}
}
