package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mkessler/streamgate/app/controllers"
	"github.com/mkessler/streamgate/internal/pkg/constants"
	"github.com/mkessler/streamgate/internal/pkg/jobqueue"
)

type HttpRouter struct {
	deps Dependencies
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Bind controller dependencies before any route handles traffic.
	controllers.InitializeAuthController(h.deps.Config, h.deps.Contexts)
	controllers.InitializeWebhookController(h.deps.Config.StripeWebhookSecret)
	controllers.InitializeAccessController(h.deps.Issuer, jobqueue.GetManager().GetEngine())
	controllers.InitializeMediaController(h.deps.Catalog, h.deps.Contexts.MediaGrant, h.deps.Store)

	// Payment processor callback. Authenticated by signature, not by session;
	// must never sit behind the bearer middleware.
	app.Post(constants.WebhookRoute, controllers.HandleStripeWebhook)

	// Grant redemption: the signed grant token is the only credential.
	app.Get(constants.MediaRoute+"/:uuid", controllers.HandleMediaRedeem)
}

func NewHttpRouter(deps Dependencies) *HttpRouter {
	return &HttpRouter{deps: deps}
}
