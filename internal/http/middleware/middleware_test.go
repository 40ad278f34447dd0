package middleware

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"

	"qrservice/internal/config"
	"qrservice/internal/infra/postgres"
)

func TestRegister_AddsRequestIDAndCORS(t *testing.T) {
	app := fiber.New()
	Register(app, Deps{Config: config.Config{}})
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	req, _ := http.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://example.com")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("ping request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatalf("expected X-Request-Id to be present")
	}
	if resp.Header.Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("expected CORS header to be present")
	}
}

func TestRegister_APIKeyErrors(t *testing.T) {
	notLoaded := postgres.NewTokenStore(config.PostgresConfig{})
	loaded := postgres.NewTokenStore(config.PostgresConfig{})
	loaded.LoadFromMap(map[string]int{"good": 0})

	cases := []struct {
		name   string
		tokens TokenStore
		key    string
		want   int
	}{
		{"anonymous passes", loaded, "", fiber.StatusOK},
		{"known key passes", loaded, "good", fiber.StatusOK},
		{"unknown key", loaded, "bad", fiber.StatusUnauthorized},
		{"store not loaded", notLoaded, "good", fiber.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var cfg config.Config
			app := fiber.New()
			Register(app, Deps{Config: cfg, Tokens: tc.tokens})
			app.Get("/ping", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

			req, _ := http.NewRequest(http.MethodGet, "/ping", nil)
			if tc.key != "" {
				req.Header.Set("X-API-Key", tc.key)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			if resp.StatusCode != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, resp.StatusCode)
			}
			if tc.want == fiber.StatusOK {
				return
			}
			var body struct {
				Error struct {
					Code    int    `json:"code"`
					Message string `json:"message"`
				} `json:"error"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if body.Error.Code != tc.want || body.Error.Message == "" {
				t.Fatalf("unexpected error body: %+v", body)
			}
		})
	}
}

func TestRegister_OpensLimiterStorageOnlyWhenALimiterIsInstalled(t *testing.T) {
	mrs, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mrs.Close()

	var cfg config.Config
	cfg.Cache.RedisHost = mrs.Addr()

	Register(fiber.New(), Deps{Config: cfg})
	if n := mrs.TotalConnectionCount(); n != 0 {
		t.Fatalf("expected no redis connection without limiters, got %d", n)
	}

	cfg.RateLimiter.UserLimit = 5
	Register(fiber.New(), Deps{Config: cfg})
	if mrs.TotalConnectionCount() == 0 {
		t.Fatalf("expected the user limiter to use redis storage")
	}
}
