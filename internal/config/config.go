package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// PostgresConfig points at the database holding API tokens.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// Config is the full service configuration.
type Config struct {
	Server struct {
		Host    string `yaml:"host"`
		Port    string `yaml:"port"`
		Prefork bool   `yaml:"prefork"`
	} `yaml:"server"`

	Limits struct {
		MaxUploadBytes int64 `yaml:"max_upload_bytes"`
		MaxGIFFrames   int   `yaml:"max_gif_frames"`
		MaxImageSide   int   `yaml:"max_image_side"`
		MaxImagePixels int64 `yaml:"max_image_pixels"`
		MaxGIFPixels   int64 `yaml:"max_gif_pixels"`
	} `yaml:"limits"`

	Logger struct {
		File       string `yaml:"file"`
		Level      string `yaml:"level"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logger"`

	Cache struct {
		QRCacheEnabled bool          `yaml:"qr_cache_enabled"`
		QRCacheTTL     time.Duration `yaml:"qr_cache_ttl"`
		RedisHost      string        `yaml:"redis_host"`
		RateLimitDB    int           `yaml:"redis_rate_db"`
		QRCacheDB      int           `yaml:"redis_qr_db"`
	} `yaml:"cache"`

	Render struct {
		ModulePixels int    `yaml:"module_pixels"`
		TimeoutSecs  int    `yaml:"timeout_secs"`
		Concurrency  int    `yaml:"concurrency"`
		TempDir      string `yaml:"temp_dir"`
	} `yaml:"render"`

	RateLimiter struct {
		Interval          time.Duration `yaml:"interval"`
		EnableUserLimiter bool          `yaml:"enable_user_limiter"`
		UserLimit         int           `yaml:"user_limit"`
	} `yaml:"rate_limiter"`

	Auth struct {
		Postgres       PostgresConfig `yaml:"postgres"`
		ReloadInterval time.Duration  `yaml:"reload_interval"`
	} `yaml:"auth"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	var cfg Config
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = ":8080"
	cfg.Limits.MaxUploadBytes = 10 * 1024 * 1024
	cfg.Limits.MaxGIFFrames = 50
	cfg.Limits.MaxImageSide = 600
	cfg.Limits.MaxImagePixels = 16_000_000
	cfg.Limits.MaxGIFPixels = 128_000_000
	cfg.Logger.Level = "info"
	cfg.Logger.MaxSizeMB = 10
	cfg.Logger.MaxBackups = 3
	cfg.Logger.MaxAgeDays = 7
	cfg.Cache.QRCacheTTL = time.Minute
	cfg.Cache.QRCacheDB = 1
	cfg.Render.ModulePixels = 9
	cfg.Render.TimeoutSecs = 30
	cfg.Render.Concurrency = 4
	cfg.RateLimiter.Interval = time.Minute
	cfg.Auth.ReloadInterval = time.Minute
	return cfg
}

// Load reads the file named by CONFIG_PATH (default config.yaml). A missing
// file is not an error; defaults and environment overrides still apply.
func Load() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	return LoadFrom(path)
}

// LoadFrom reads path on top of Default, applies environment overrides and
// panics when the result is invalid.
func LoadFrom(path string) Config {
	// Real environment variables win over .env entries.
	_ = godotenv.Load()

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			panic(fmt.Sprintf("config: parse %s: %v", path, err))
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		panic(fmt.Sprintf("config: read %s: %v", path, err))
	}

	if err := applyEnv(&cfg); err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return cfg
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("MAX_UPLOAD_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MAX_UPLOAD_SIZE: %w", err)
		}
		cfg.Limits.MaxUploadBytes = n
	}
	if v := os.Getenv("MAX_GIF_FRAMES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_GIF_FRAMES: %w", err)
		}
		cfg.Limits.MaxGIFFrames = n
	}
	if v := os.Getenv("MAX_IMAGE_PIXELS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MAX_IMAGE_PIXELS: %w", err)
		}
		cfg.Limits.MaxImagePixels = n
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = ":" + v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Cache.RedisHost = v
	}
	if v := os.Getenv("QR_TEMP_DIR"); v != "" {
		cfg.Render.TempDir = v
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Limits.MaxUploadBytes <= 0:
		return errors.New("limits.max_upload_bytes must be positive")
	case c.Limits.MaxGIFFrames <= 0:
		return errors.New("limits.max_gif_frames must be positive")
	case c.Limits.MaxImageSide <= 0:
		return errors.New("limits.max_image_side must be positive")
	case c.Limits.MaxImagePixels <= 0:
		return errors.New("limits.max_image_pixels must be positive")
	case c.Limits.MaxGIFPixels < c.Limits.MaxImagePixels:
		return errors.New("limits.max_gif_pixels must be at least limits.max_image_pixels")
	case c.Render.ModulePixels <= 0 || c.Render.ModulePixels%3 != 0:
		return errors.New("render.module_pixels must be a positive multiple of 3")
	case c.Render.TimeoutSecs <= 0:
		return errors.New("render.timeout_secs must be positive")
	case c.Render.Concurrency < 0:
		return errors.New("render.concurrency must not be negative")
	case c.RateLimiter.UserLimit < 0:
		return errors.New("rate_limiter.user_limit must not be negative")
	case c.RateLimiter.Interval <= 0:
		return errors.New("rate_limiter.interval must be positive")
	}
	return nil
}

// RenderTimeout is the per-request rendering deadline.
func (c Config) RenderTimeout() time.Duration {
	return time.Duration(c.Render.TimeoutSecs) * time.Second
}
