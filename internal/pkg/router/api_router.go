package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/Skeyelab/annualreview.com/internal/pkg/middleware"
)

type ApiRouter struct {
	ctrl Controllers
}

func NewApiRouter(ctrl Controllers) *ApiRouter {
	return &ApiRouter{ctrl: ctrl}
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")

	// Generation is open to anonymous callers for the free tier; the gate
	// decides whether a premium run needs login or payment.
	v1.Post("/generate", h.ctrl.Generate.HandleGenerate)
	v1.Get("/jobs/:id", h.ctrl.Generate.HandleJobStatus)

	v1.Post("/auth/register", h.ctrl.Auth.HandleRegister)
	v1.Post("/auth/login", h.ctrl.Auth.HandleLogin)
	v1.Post("/auth/logout", h.ctrl.Auth.HandleLogout)

	v1.Get("/queue/stats", middleware.RequireAPISessionAuth, h.ctrl.Generate.HandleQueueStats)

	v1.Get("/me", middleware.RequireAPISessionAuth, h.ctrl.Auth.HandleMe)
	v1.Get("/billing/credits", middleware.RequireAPISessionAuth, h.ctrl.Billing.HandleGetCredits)
	v1.Post("/billing/checkout", middleware.RequireAPISessionAuth, h.ctrl.Billing.HandleCreateCheckout)
}
