// Package cache stores rendered QR codes in Redis.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"qrservice/internal/domain"
	"qrservice/internal/infra/logging"
)

const (
	keyPrefix  = "qrcache:"
	opTimeout  = time.Second
	defaultTTL = time.Minute
)

// Entry is a cached render.
type Entry struct {
	ContentType string
	Name        string
	Version     int
	Level       domain.Level
	Data        []byte
}

// QRCache is a thin Redis wrapper. A nil *QRCache is valid and caches nothing.
type QRCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New returns a cache using rdb. A nil client yields a nil cache.
func New(rdb *redis.Client, ttl time.Duration) *QRCache {
	if rdb == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &QRCache{rdb: rdb, ttl: ttl}
}

// Key derives the cache key from every input that affects the output.
func Key(req domain.QRRequest, pictureExt string, picture []byte) string {
	h := sha256.New()
	h.Write([]byte(req.Words))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(req.Version)))
	h.Write([]byte(req.Level))
	h.Write([]byte(strconv.FormatBool(req.Colorized)))
	h.Write([]byte(strconv.FormatFloat(req.Contrast, 'g', -1, 64)))
	h.Write([]byte(strconv.FormatFloat(req.Brightness, 'g', -1, 64)))
	h.Write([]byte(pictureExt))
	if len(picture) > 0 {
		sum := sha256.Sum256(picture)
		h.Write(sum[:])
	}
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

// Get returns the entry for key, or nil on a miss. Redis errors are logged
// and reported so callers can count them, but never block a render.
func (c *QRCache) Get(ctx context.Context, key string) (*Entry, error) {
	if c == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	vals, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		logging.Warn("Redis read failed", "error", err)
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	version, err := strconv.Atoi(vals["version"])
	if err != nil || vals["data"] == "" {
		return nil, errors.New("malformed cache entry")
	}

	logging.Info("QR cache hit", "key", key)
	return &Entry{
		ContentType: vals["content_type"],
		Name:        vals["name"],
		Version:     version,
		Level:       domain.Level(vals["level"]),
		Data:        []byte(vals["data"]),
	}, nil
}

// Set stores e under key with the configured TTL.
func (c *QRCache) Set(ctx context.Context, key string, e Entry) {
	if c == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key,
			"content_type", e.ContentType,
			"name", e.Name,
			"version", e.Version,
			"level", string(e.Level),
			"data", e.Data,
		)
		p.Expire(ctx, key, c.ttl)
		return nil
	})
	if err != nil {
		logging.Warn("Redis write failed", "error", err)
	}
}
