package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"qrservice/internal/config"
	"qrservice/internal/http/server"
	"qrservice/internal/infra/logging"
	"qrservice/internal/infra/postgres"
	"qrservice/internal/tempfs"
)

func main() {
	cfg := config.Load()
	logging.InitLogger(
		cfg.Logger.File,
		cfg.Logger.MaxSizeMB,
		cfg.Logger.MaxBackups,
		cfg.Logger.MaxAgeDays,
		cfg.Logger.Compress,
		cfg.Logger.Level,
	)

	var rdb *redis.Client
	if cfg.Cache.RedisHost != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr: cfg.Cache.RedisHost,
			DB:   cfg.Cache.QRCacheDB,
		})
		defer rdb.Close()
	}

	ws, err := tempfs.NewWorkspace(cfg.Render.TempDir)
	if err != nil {
		logging.Error("Failed to create temp workspace", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := ws.Close(); err != nil {
			logging.Warn("Temp workspace cleanup incomplete", "root", ws.Root(), "error", err)
		}
	}()

	idleConnsClosed := make(chan struct{})
	deps := server.Deps{Config: cfg, Redis: rdb, Workspace: ws}
	if cfg.Auth.Postgres.Host != "" {
		tokens := postgres.NewTokenStore(cfg.Auth.Postgres)
		if err := tokens.Load(context.Background()); err != nil {
			logging.Error("Failed to load API tokens", "error", err)
		}
		go tokens.RefreshPeriodically(cfg.Auth.ReloadInterval, idleConnsClosed)
		defer tokens.Close()
		deps.Tokens = tokens
	}

	app, svc := server.New(deps)
	defer svc.Close()

	startServer(app, cfg, idleConnsClosed)
	<-idleConnsClosed
}

// startServer starts the Fiber app and blocks until a shutdown signal has been handled.
func startServer(app *fiber.App, cfg config.Config, idleConnsClosed chan struct{}) {
	go func() {
		if err := app.Listen(cfg.Server.Host + cfg.Server.Port); err != nil {
			logging.Error("Server error", "error", err)
		}
	}()

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigint)
	<-sigint

	logging.Warn("Shutdown signal received, closing server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logging.Error("Server forced to shutdown", "error", err)
	}

	close(idleConnsClosed)
	logging.Info("Server stopped cleanly")
}
