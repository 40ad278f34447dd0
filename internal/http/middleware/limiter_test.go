package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"qrservice/internal/config"
	"qrservice/internal/infra/postgres"
)

type memStore struct {
	sync.RWMutex
	m map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{m: make(map[string][]byte)}
}

func (s *memStore) Get(key string) ([]byte, error) {
	s.RLock()
	defer s.RUnlock()
	return s.m[key], nil
}

func (s *memStore) Set(key string, val []byte, exp time.Duration) error {
	s.Lock()
	s.m[key] = val
	s.Unlock()
	return nil
}

func (s *memStore) Delete(key string) error {
	s.Lock()
	delete(s.m, key)
	s.Unlock()
	return nil
}

func (s *memStore) Reset() error {
	s.Lock()
	s.m = make(map[string][]byte)
	s.Unlock()
	return nil
}

func (s *memStore) Close() error { return nil }

func tokenStore(tokens map[string]int) *postgres.TokenStore {
	s := postgres.NewTokenStore(config.PostgresConfig{})
	s.LoadFromMap(tokens)
	return s
}

func limiterCfg(userLimit int) config.Config {
	var cfg config.Config
	cfg.RateLimiter.Interval = time.Hour
	cfg.RateLimiter.UserLimit = userLimit
	cfg.RateLimiter.EnableUserLimiter = userLimit > 0
	return cfg
}

func TestTokenRateLimitMiddleware(t *testing.T) {
	token := "test-token"
	limit := 2
	tokens := tokenStore(map[string]int{token: limit})

	app := fiber.New()
	app.Use(apiKeyAuth(tokens))
	app.Use(newTokenLimiters(limiterCfg(0), newMemStore(), tokens).Handler())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	makeReq := func() *http.Request {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-API-Key", token)
		return req
	}

	for i := 0; i < limit; i++ {
		resp, err := app.Test(makeReq(), -1)
		if err != nil {
			t.Fatalf("request %d failed: %v", i+1, err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("expected 200 but got %d", resp.StatusCode)
		}
	}

	resp, err := app.Test(makeReq(), -1)
	if err != nil {
		t.Fatalf("exceed request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 but got %d", resp.StatusCode)
	}
}

func TestTokenLimiters_ReuseHandlerPerLimit(t *testing.T) {
	tl := newTokenLimiters(limiterCfg(0), newMemStore(), tokenStore(nil))
	a := tl.get(5)
	tl.get(5)
	tl.get(7)
	if len(tl.handlers) != 2 {
		t.Fatalf("expected 2 cached limiters, got %d", len(tl.handlers))
	}
	if a == nil {
		t.Fatalf("expected handler")
	}
}

func TestUserRateLimitMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(userRateLimit(limiterCfg(2), newMemStore()))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	makeReq := func() *http.Request {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("User-Agent", "test-agent")
		req.RemoteAddr = "1.2.3.4:5678"
		return req
	}

	for i := 0; i < 2; i++ {
		resp, err := app.Test(makeReq(), -1)
		if err != nil {
			t.Fatalf("request %d failed: %v", i+1, err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("expected 200 but got %d", resp.StatusCode)
		}
	}

	resp, err := app.Test(makeReq(), -1)
	if err != nil {
		t.Fatalf("third request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 but got %d", resp.StatusCode)
	}
}

func TestTokenBasedLimitOverridesUserBasedLimit(t *testing.T) {
	userLimit := 2
	token := "test-token"
	// High token limit so only the user limiter could block.
	tokens := tokenStore(map[string]int{token: 100})
	store := newMemStore()
	cfg := limiterCfg(userLimit)

	app := fiber.New()
	app.Use(apiKeyAuth(tokens))
	app.Use(newTokenLimiters(cfg, store, tokens).Handler())
	app.Use(userRateLimit(cfg, store))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	makeReq := func(withToken bool) *http.Request {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("User-Agent", "test-agent")
		req.RemoteAddr = "1.2.3.4:5678"
		if withToken {
			req.Header.Set("X-API-Key", token)
		}
		return req
	}

	for i := 0; i < userLimit; i++ {
		resp, err := app.Test(makeReq(false), -1)
		if err != nil {
			t.Fatalf("anonymous request %d failed: %v", i+1, err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("expected 200 but got %d", resp.StatusCode)
		}
	}
	resp, err := app.Test(makeReq(false), -1)
	if err != nil {
		t.Fatalf("anonymous exceed request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 but got %d", resp.StatusCode)
	}

	resp, err = app.Test(makeReq(true), -1)
	if err != nil {
		t.Fatalf("token request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 for token request but got %d", resp.StatusCode)
	}
}
