package main

import (
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/mkessler/streamgate/internal/pkg/cache"
	"github.com/mkessler/streamgate/internal/pkg/catalog"
	"github.com/mkessler/streamgate/internal/pkg/config"
	"github.com/mkessler/streamgate/internal/pkg/database"
	"github.com/mkessler/streamgate/internal/pkg/env"
	"github.com/mkessler/streamgate/internal/pkg/grant"
	"github.com/mkessler/streamgate/internal/pkg/jobqueue"
	"github.com/mkessler/streamgate/internal/pkg/router"
	"github.com/mkessler/streamgate/internal/pkg/signing"
	"github.com/mkessler/streamgate/internal/pkg/storage"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	database.SetupDatabase()
	cache.SetupCache()

	contexts, err := signing.NewContexts(cfg.AccessTokenSecret, cfg.RefreshTokenSecret, cfg.MediaGrantSecret)
	if err != nil {
		log.Fatalf("signing setup failed: %v", err)
	}

	// Object store is optional; without it grants fall back to the
	// verifying-proxy media route.
	var store *storage.Client
	if cfg.S3.Enabled() {
		store, err = storage.NewClient(cfg.S3)
		if err != nil {
			log.Fatalf("object store setup failed: %v", err)
		}
	}

	// Reconciliation pipeline: ledger -> engine -> notifier -> queue.
	manager := jobqueue.Setup(cfg)
	manager.Start()

	cat := catalog.NewResolver(database.GetDB())
	var urls grant.URLSigner
	if store != nil {
		urls = store
	}
	issuer := grant.NewIssuer(cat, manager.GetEngine(), contexts.MediaGrant, urls, cfg.GrantTTL, cfg.MaxGrantTTL)

	// init fiber app
	app := fiber.New(fiber.Config{
		AppName: "streamgate",
	})

	// recovery and logging
	app.Use(recover.New())
	if env.IsDev() {
		app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
		}))
	} else {
		app.Use(logger.New())
	}

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			"admin": env.GetEnv("METRICS_PASSWORD", "test"),
		},
	}), monitor.New())

	// ROUTER
	router.InstallRouter(app, router.Dependencies{
		Config:   cfg,
		Contexts: contexts,
		Issuer:   issuer,
		Catalog:  cat,
		Store:    store,
	})

	return app
}
