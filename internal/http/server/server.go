// Package server assembles the Fiber application.
package server

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"qrservice/internal/config"
	"qrservice/internal/http/handlers"
	"qrservice/internal/http/middleware"
	"qrservice/internal/infra/cache"
	"qrservice/internal/infra/logging"
	"qrservice/internal/metrics"
	"qrservice/internal/tempfs"
)

// Multipart framing on top of the picture itself.
const formOverhead = 1 << 20

// Deps are the runtime collaborators of the app. Every field except Config may be nil.
type Deps struct {
	Config    config.Config
	Redis     *redis.Client
	Tokens    middleware.TokenStore
	Workspace *tempfs.Workspace
	Registry  *prometheus.Registry
}

// New creates the Fiber app with middleware and routes. The returned service
// owns the render pool; close it after the app has shut down.
func New(d Deps) (*fiber.App, *handlers.QRService) {
	cfg := d.Config
	app := fiber.New(fiber.Config{
		Prefork:               cfg.Server.Prefork,
		DisableStartupMessage: true,
		BodyLimit:             int(cfg.Limits.MaxUploadBytes) + formOverhead,
		ErrorHandler:          errorHandler,
	})

	reg := d.Registry
	if reg == nil {
		reg = metrics.NewRegistry()
	}
	m, err := metrics.New(reg)
	if err != nil {
		logging.Error("Metrics registration failed, continuing without metrics", "error", err)
	}

	middleware.Register(app, middleware.Deps{
		Config:  cfg,
		Tokens:  d.Tokens,
		Metrics: m,
	})

	var qc *cache.QRCache
	if cfg.Cache.QRCacheEnabled {
		qc = cache.New(d.Redis, cfg.Cache.QRCacheTTL)
	}
	svc := handlers.NewQRService(cfg, d.Workspace, qc, m)

	app.Get("/health", handlers.HandleHealth)
	app.Post("/qr", svc.HandleGenerate)
	app.Get("/render/stats", svc.HandleRenderStats)
	app.Get(metrics.Path, adaptor.HTTPHandler(metrics.Handler(reg)))
	app.Get("/monitor", monitor.New())

	// Ensure all responses, including 404s, return JSON
	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not Found")
	})

	return app, svc
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		msg = e.Message
	}

	logging.Warn("Request failed", "path", c.Path(), "status", code, "message", msg)

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    code,
			"message": msg,
		},
	})
}
