// Package postgres loads API tokens and their rate limits from Postgres.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"qrservice/internal/config"
	"qrservice/internal/infra/logging"
)

// ErrNotConfigured is returned when no Postgres host is set.
var ErrNotConfigured = errors.New("postgres not configured")

// TokenStore caches the api_tokens table in memory.
type TokenStore struct {
	cfg config.PostgresConfig

	mu    sync.RWMutex
	cache map[string]int

	dbMu sync.Mutex
	db   *sql.DB
}

// NewTokenStore returns an empty, not yet ready store.
func NewTokenStore(cfg config.PostgresConfig) *TokenStore {
	return &TokenStore{cfg: cfg}
}

// Configured reports whether a database is set up at all.
func (s *TokenStore) Configured() bool {
	return s.cfg.Host != ""
}

func postgresPort(cfg config.PostgresConfig) int {
	if cfg.Port != 0 {
		return cfg.Port
	}
	return 5432
}

func postgresDSN(cfg config.PostgresConfig) (string, error) {
	if strings.HasPrefix(cfg.Host, "postgres://") || strings.HasPrefix(cfg.Host, "postgresql://") {
		return cfg.Host, nil
	}
	if cfg.Host == "" {
		return "", ErrNotConfigured
	}
	if cfg.Database == "" {
		return "", fmt.Errorf("postgres database is empty")
	}
	if cfg.User == "" {
		return "", fmt.Errorf("postgres user is empty")
	}

	hostPort := cfg.Host
	port := postgresPort(cfg)
	// Handle IPv6 or explicit host:port strings.
	if strings.HasPrefix(hostPort, "[") {
		if !strings.Contains(hostPort, "]:") {
			hostPort = fmt.Sprintf("%s:%d", hostPort, port)
		}
	} else if strings.Count(hostPort, ":") >= 2 {
		hostPort = fmt.Sprintf("[%s]:%d", hostPort, port)
	} else if !strings.Contains(hostPort, ":") {
		hostPort = fmt.Sprintf("%s:%d", hostPort, port)
	}

	u := &url.URL{Scheme: "postgres", Host: hostPort, Path: "/" + cfg.Database}
	if cfg.Password != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	} else {
		u.User = url.User(cfg.User)
	}
	q := u.Query()
	if cfg.SSLMode != "" {
		q.Set("sslmode", cfg.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *TokenStore) conn(ctx context.Context) (*sql.DB, error) {
	s.dbMu.Lock()
	defer s.dbMu.Unlock()
	if s.db != nil {
		return s.db, nil
	}

	dsn, err := postgresDSN(s.cfg)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Small, low-throughput control plane table.
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.db = db
	return db, nil
}

func (s *TokenStore) ensureSchema(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS api_tokens (
			token TEXT PRIMARY KEY,
			rate_limit INTEGER NOT NULL DEFAULT 60,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			comment TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_api_tokens_created_at ON api_tokens (created_at);`,
	}
	for _, stmt := range ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Load reads every token and its rate limit, replacing the cache.
func (s *TokenStore) Load(ctx context.Context) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.ensureSchema(ctx, db); err != nil {
		return err
	}

	rows, err := db.QueryContext(ctx, `SELECT token, rate_limit FROM api_tokens;`)
	if err != nil {
		return err
	}
	defer rows.Close()

	cache := make(map[string]int)
	for rows.Next() {
		var token string
		var limit int
		if err := rows.Scan(&token, &limit); err != nil {
			return err
		}
		cache[token] = limit
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.cache = cache
	s.mu.Unlock()
	return nil
}

// LoadFromMap replaces the cache with a copy of m. Intended for tests and local debugging.
func (s *TokenStore) LoadFromMap(m map[string]int) {
	cache := make(map[string]int, len(m))
	for k, v := range m {
		cache[k] = v
	}
	s.mu.Lock()
	s.cache = cache
	s.mu.Unlock()
}

// Ready is true once the cache has been loaded at least once.
func (s *TokenStore) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache != nil
}

// Validate reports whether token is known.
func (s *TokenStore) Validate(token string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.cache[token]
	return ok
}

// RateLimit returns the per-interval limit of token; 0 disables limiting for it.
func (s *TokenStore) RateLimit(token string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache[token]
}

// RefreshPeriodically reloads the cache every interval until stop is closed.
func (s *TokenStore) RefreshPeriodically(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.Load(context.Background()); err != nil {
				logging.Error("Failed to reload API tokens", "error", err)
			}
		case <-stop:
			return
		}
	}
}

// Close releases the database handle.
func (s *TokenStore) Close() error {
	s.dbMu.Lock()
	defer s.dbMu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
