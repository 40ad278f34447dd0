package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadFrom_Valid(t *testing.T) {
	p := writeConfig(t, `server:
  host: "127.0.0.1"
  port: ":9000"
limits:
  max_upload_bytes: 2048
  max_gif_frames: 5
cache:
  qr_cache_enabled: true
  qr_cache_ttl: 2m
render:
  module_pixels: 6
  concurrency: 0
`)
	cfg := LoadFrom(p)
	assert.Equal(t, ":9000", cfg.Server.Port)
	assert.EqualValues(t, 2048, cfg.Limits.MaxUploadBytes)
	assert.Equal(t, 5, cfg.Limits.MaxGIFFrames)
	assert.Equal(t, 600, cfg.Limits.MaxImageSide, "unset keys keep defaults")
	assert.True(t, cfg.Cache.QRCacheEnabled)
	assert.Equal(t, 2*time.Minute, cfg.Cache.QRCacheTTL)
	assert.Equal(t, 6, cfg.Render.ModulePixels)
	assert.Equal(t, 0, cfg.Render.Concurrency)
}

func TestLoadFrom_MissingFileUsesDefaults(t *testing.T) {
	cfg := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Equal(t, Default().Limits, cfg.Limits)
	assert.Equal(t, 30*time.Second, cfg.RenderTimeout())
}

func TestLoadFrom_EnvOverrides(t *testing.T) {
	t.Setenv("MAX_UPLOAD_SIZE", "1234")
	t.Setenv("MAX_GIF_FRAMES", "7")
	t.Setenv("PORT", "8181")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("QR_TEMP_DIR", "/tmp/qr")
	p := writeConfig(t, "limits:\n  max_upload_bytes: 99\n")

	cfg := LoadFrom(p)
	assert.EqualValues(t, 1234, cfg.Limits.MaxUploadBytes)
	assert.Equal(t, 7, cfg.Limits.MaxGIFFrames)
	assert.Equal(t, ":8181", cfg.Server.Port)
	assert.Equal(t, "redis:6379", cfg.Cache.RedisHost)
	assert.Equal(t, "/tmp/qr", cfg.Render.TempDir)
}

func TestLoadFrom_ImagePixelBudget(t *testing.T) {
	cfg := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.EqualValues(t, 16_000_000, cfg.Limits.MaxImagePixels)
	assert.GreaterOrEqual(t, cfg.Limits.MaxGIFPixels, cfg.Limits.MaxImagePixels)

	t.Setenv("MAX_IMAGE_PIXELS", "250000")
	cfg = LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.EqualValues(t, 250000, cfg.Limits.MaxImagePixels)
}

func TestDefault_QRCacheTTLIsOneMinute(t *testing.T) {
	assert.Equal(t, time.Minute, Default().Cache.QRCacheTTL)
}

func TestLoadFrom_PanicsOnInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yml  string
		env  map[string]string
	}{
		{name: "zero upload size", yml: "limits:\n  max_upload_bytes: 0\n"},
		{name: "negative frame count", yml: "limits:\n  max_gif_frames: -1\n"},
		{name: "module pixels not multiple of 3", yml: "render:\n  module_pixels: 4\n"},
		{name: "negative concurrency", yml: "render:\n  concurrency: -2\n"},
		{name: "negative user limit", yml: "rate_limiter:\n  user_limit: -1\n"},
		{name: "zero rate interval", yml: "rate_limiter:\n  interval: 0s\n"},
		{name: "zero pixel budget", yml: "limits:\n  max_image_pixels: 0\n"},
		{name: "gif budget below image budget", yml: "limits:\n  max_image_pixels: 100\n  max_gif_pixels: 99\n"},
		{name: "broken yaml", yml: "limits: [\n"},
		{name: "non numeric env", yml: "", env: map[string]string{"MAX_GIF_FRAMES": "lots"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			p := writeConfig(t, tc.yml)
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic")
				}
			}()
			_ = LoadFrom(p)
		})
	}
}

func TestLoad_UsesConfigPathEnv(t *testing.T) {
	p := writeConfig(t, "limits:\n  max_gif_frames: 3\n")
	t.Setenv("CONFIG_PATH", p)
	cfg := Load()
	if cfg.Limits.MaxGIFFrames != 3 {
		t.Fatalf("expected CONFIG_PATH to be used")
	}
}
