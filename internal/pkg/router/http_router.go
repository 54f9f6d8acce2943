package router

import (
	"github.com/gofiber/fiber/v2"
	gothfiber "github.com/shareed2k/goth_fiber"

	"github.com/Skeyelab/annualreview.com/internal/pkg/middleware"
	"github.com/Skeyelab/annualreview.com/internal/pkg/oauth"
	"github.com/Skeyelab/annualreview.com/internal/pkg/session"
)

type HttpRouter struct {
	ctrl Controllers
}

func NewHttpRouter(ctrl Controllers) *HttpRouter {
	return &HttpRouter{ctrl: ctrl}
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// init session
	session.NewSessionStore()

	// init oauth providers
	oauth.Setup()

	// Apply UserContext middleware globally as first middleware
	app.Use(middleware.UserContextMiddleware)

	// OAuth flow (goth keeps its own session store, see UserContextMiddleware)
	app.Get("/auth/:provider", gothfiber.BeginAuthHandler)
	app.Get("/auth/:provider/callback", h.ctrl.OAuth.HandleOAuthCallback)

	// Stripe calls this server-to-server; signature verification replaces
	// session auth here.
	app.Post("/webhooks/stripe", h.ctrl.Billing.HandleStripeWebhook)

	app.Post("/logout", h.ctrl.Auth.HandleLogout)
}
