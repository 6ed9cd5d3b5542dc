package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mkessler/streamgate/internal/pkg/catalog"
	"github.com/mkessler/streamgate/internal/pkg/config"
	"github.com/mkessler/streamgate/internal/pkg/grant"
	"github.com/mkessler/streamgate/internal/pkg/signing"
	"github.com/mkessler/streamgate/internal/pkg/storage"
)

// Router installs one route group into the fiber app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies carries everything the HTTP layer needs, built once in main.
type Dependencies struct {
	Config   *config.Config
	Contexts *signing.Contexts
	Issuer   *grant.Issuer
	Catalog  catalog.Resolver
	Store    *storage.Client // nil when no object store is configured
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	// HttpRouter first: it initializes the controllers the API routes use.
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
