// Package ratelimit provides the storage backing Fiber's limiter middleware.
package ratelimit

import (
	"github.com/gofiber/fiber/v2"
	memoryStorage "github.com/gofiber/storage/memory/v2"
	redisStorage "github.com/gofiber/storage/redis/v2"

	"qrservice/internal/infra/logging"
)

// RedisConfig selects the Redis database for limiter counters.
type RedisConfig struct {
	Addr string
	DB   int
}

// NewStore returns a Redis-backed store when Addr is set and reachable, and
// an in-memory store otherwise. It never returns nil.
func NewStore(cfg RedisConfig) (store fiber.Storage) {
	store = memoryStorage.New()
	if cfg.Addr == "" {
		return store
	}

	// The redis storage constructor panics when it cannot reach the server.
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Redis limiter store init panicked, falling back to memory", "panic", r)
		}
	}()
	store = redisStorage.New(redisStorage.Config{
		Addrs:    []string{cfg.Addr},
		Database: cfg.DB,
	})
	logging.Info("Using Redis for rate limiting", "addr", cfg.Addr, "db", cfg.DB)
	return store
}
