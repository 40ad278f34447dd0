// Package middleware wires the global Fiber middleware chain.
package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/keyauth"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/xid"

	"qrservice/internal/config"
	"qrservice/internal/domain"
	"qrservice/internal/infra/logging"
	"qrservice/internal/infra/ratelimit"
	"qrservice/internal/metrics"
)

const apiKeyLocal = "api_key"

// TokenStore answers API key lookups.
type TokenStore interface {
	Ready() bool
	Validate(token string) bool
	RateLimit(token string) int
}

// Deps are the collaborators of the middleware chain. Tokens and Metrics may
// be nil. A nil Storage is built from Config.Cache once a limiter needs it.
type Deps struct {
	Config  config.Config
	Tokens  TokenStore
	Storage fiber.Storage
	Metrics *metrics.Metrics
}

func (d *Deps) limiterStorage() fiber.Storage {
	if d.Storage == nil {
		d.Storage = ratelimit.NewStore(ratelimit.RedisConfig{
			Addr: d.Config.Cache.RedisHost,
			DB:   d.Config.Cache.RateLimitDB,
		})
	}
	return d.Storage
}

// Register attaches global middleware to the app.
func Register(app *fiber.App, d Deps) {
	app.Use(cors.New())

	app.Use(requestid.New(requestid.Config{
		Generator: func() string {
			return xid.New().String()
		},
	}))

	app.Use(d.Metrics.Middleware())

	if d.Tokens != nil {
		app.Use(apiKeyAuth(d.Tokens))
		app.Use(newTokenLimiters(d.Config, d.limiterStorage(), d.Tokens).Handler())
	}

	if d.Config.RateLimiter.EnableUserLimiter || d.Config.RateLimiter.UserLimit > 0 {
		app.Use(userRateLimit(d.Config, d.limiterStorage()))
	}

	app.Use(func(c *fiber.Ctx) error {
		logging.Info("Incoming request", "method", c.Method(), "path", c.Path(),
			"request_id", c.GetRespHeader(fiber.HeaderXRequestID))
		return c.Next()
	})
}

// apiKeyAuth validates X-API-Key when present. Anonymous requests pass through.
func apiKeyAuth(tokens TokenStore) fiber.Handler {
	return keyauth.New(keyauth.Config{
		KeyLookup:  "header:X-API-Key",
		ContextKey: apiKeyLocal,
		Validator: func(c *fiber.Ctx, key string) (bool, error) {
			if !tokens.Ready() {
				return false, domain.ErrTokenStoreNotReady
			}
			if !tokens.Validate(key) {
				return false, domain.ErrInvalidAPIKey
			}
			return true, nil
		},
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || c.Get("X-API-Key") == ""
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// keyauth may pass a nil error.
			status := fiber.StatusUnauthorized
			if err == nil {
				err = fiber.ErrUnauthorized
			}
			if errors.Is(err, domain.ErrTokenStoreNotReady) {
				status = fiber.StatusServiceUnavailable
			}
			return errorJSON(c, status, err.Error())
		},
	})
}

// tokenLimiters keeps one sliding-window limiter per distinct token limit.
type tokenLimiters struct {
	cfg     config.Config
	storage fiber.Storage
	tokens  TokenStore

	mu       sync.RWMutex
	handlers map[int]fiber.Handler
}

func newTokenLimiters(cfg config.Config, storage fiber.Storage, tokens TokenStore) *tokenLimiters {
	return &tokenLimiters{cfg: cfg, storage: storage, tokens: tokens, handlers: make(map[int]fiber.Handler)}
}

func (t *tokenLimiters) get(limit int) fiber.Handler {
	t.mu.RLock()
	h, ok := t.handlers[limit]
	t.mu.RUnlock()
	if ok {
		return h
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.handlers[limit]; ok {
		return h
	}
	h = limiter.New(limiter.Config{
		Max:               limit,
		Expiration:        t.cfg.RateLimiter.Interval,
		LimiterMiddleware: limiter.SlidingWindow{},
		Storage:           t.storage,
		KeyGenerator: func(c *fiber.Ctx) string {
			token, _ := c.Locals(apiKeyLocal).(string)
			return "token:" + token
		},
		LimitReached: func(c *fiber.Ctx) error {
			token, _ := c.Locals(apiKeyLocal).(string)
			logging.Warn("Rate limit exceeded", "token", token, "path", c.Path())
			return errorJSON(c, fiber.StatusTooManyRequests, "Too Many Requests")
		},
	})
	t.handlers[limit] = h
	return h
}

// Handler applies the per-token limit of authenticated requests.
func (t *tokenLimiters) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := c.Locals(apiKeyLocal).(string)
		if !ok || token == "" {
			return c.Next()
		}
		limit := t.tokens.RateLimit(token)
		if limit <= 0 {
			return c.Next()
		}
		return t.get(limit)(c)
	}
}

func clientKey(c *fiber.Ctx) string {
	sum := sha256.Sum256([]byte(c.IP() + c.Get(fiber.HeaderUserAgent)))
	return hex.EncodeToString(sum[:])
}

// userRateLimit limits anonymous clients by IP and User-Agent.
func userRateLimit(cfg config.Config, storage fiber.Storage) fiber.Handler {
	if cfg.RateLimiter.UserLimit <= 0 {
		return func(c *fiber.Ctx) error {
			return c.Next()
		}
	}
	userLimiter := limiter.New(limiter.Config{
		Max:               cfg.RateLimiter.UserLimit,
		Expiration:        cfg.RateLimiter.Interval,
		LimiterMiddleware: limiter.SlidingWindow{},
		Storage:           storage,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "user:" + clientKey(c)
		},
		LimitReached: func(c *fiber.Ctx) error {
			logging.Warn("Rate limit exceeded", "user", clientKey(c), "path", c.Path())
			return errorJSON(c, fiber.StatusTooManyRequests, "Too Many Requests")
		},
	})
	return func(c *fiber.Ctx) error {
		// Authenticated requests are governed by their token limit instead.
		if token, ok := c.Locals(apiKeyLocal).(string); ok && token != "" {
			return c.Next()
		}
		return userLimiter(c)
	}
}

func errorJSON(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    status,
			"message": msg,
		},
	})
}
