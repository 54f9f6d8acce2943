package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Skeyelab/annualreview.com/app/controllers"
)

// Router installs a group of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// Controllers bundles the controller instances the routers wire up. All
// dependencies (ledger, gate, queue, repositories) are injected upstream in
// main; routers only bind handlers to paths.
type Controllers struct {
	Auth     *controllers.AuthController
	OAuth    *controllers.OAuthController
	Generate *controllers.GenerateController
	Billing  *controllers.BillingController
}

// InstallRouter registers all routes. The HTTP router goes first so the
// session store, OAuth providers and the UserContext middleware exist before
// the API routes that depend on them.
func InstallRouter(app *fiber.App, ctrl Controllers) {
	setup(app, NewHttpRouter(ctrl), NewApiRouter(ctrl))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
