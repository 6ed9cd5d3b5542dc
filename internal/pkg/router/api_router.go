package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/mkessler/streamgate/app/controllers"
	"github.com/mkessler/streamgate/internal/pkg/middleware"
)

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")

	// Credential endpoints get a tight per-IP limit to slow down guessing.
	auth := v1.Group("/auth")
	auth.Post("/login", limiter.New(limiter.Config{
		Max:        3,
		Expiration: 10 * time.Minute,
	}), controllers.HandleLogin)
	auth.Post("/refresh", controllers.HandleRefresh)

	// Everything below requires a valid access token.
	protected := v1.Group("", middleware.BearerAuthMiddleware(h.deps.Contexts.Access))
	protected.Get("/entitlements", controllers.HandleListEntitlements)
	protected.Get("/assets/:id/access", controllers.HandleAssetAccess)

	admin := protected.Group("/admin", middleware.RequireAdmin)
	admin.Get("/queue/stats", controllers.HandleAdminQueueStats)
	admin.Get("/events/parked", controllers.HandleAdminParkedEvents)
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
