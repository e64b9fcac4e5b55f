package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"go.uber.org/zap"

	"github.com/ManuelReschke/MarketLink/app/controllers"
	"github.com/ManuelReschke/MarketLink/internal/pkg/env"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Deps carries everything the routers hand to middleware and controllers.
type Deps struct {
	Config   env.Config
	Log      *zap.Logger
	Sessions *session.Store
	Connect  *controllers.ConnectController
	Tokens   *controllers.InternalTokenController
}

func InstallRouter(app *fiber.App, deps Deps) {
	// HttpRouter installs the request logger and the UserContext middleware
	// that the API routes rely on, so it goes first.
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
