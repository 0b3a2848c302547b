package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mercadime/scraperd/internal/scraper"
)

// ProxyConfigStore persists the singleton proxy/security configuration as a
// single JSON row, lazily created with defaults on first access. Auto-blocked
// IPs therefore survive restarts.
type ProxyConfigStore struct {
	pool  querier
	clock scraper.Clock
}

// NewProxyConfigStore constructs a ProxyConfigStore.
func NewProxyConfigStore(pool querier, clock scraper.Clock) (*ProxyConfigStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ProxyConfigStore{pool: pool, clock: clock}, nil
}

// Load returns the singleton config, writing defaults on first access.
func (s *ProxyConfigStore) Load(ctx context.Context) (scraper.ProxyConfig, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT config FROM proxy_config WHERE id = 1;`).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		cfg := scraper.DefaultProxyConfig()
		cfg.UpdatedAt = s.clock.Now()
		if err := s.Save(ctx, cfg); err != nil {
			return scraper.ProxyConfig{}, err
		}
		return cfg, nil
	}
	if err != nil {
		return scraper.ProxyConfig{}, fmt.Errorf("load proxy config: %w", err)
	}
	var cfg scraper.ProxyConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return scraper.ProxyConfig{}, fmt.Errorf("unmarshal proxy config: %w", err)
	}
	return cfg, nil
}

// Save replaces the singleton config.
func (s *ProxyConfigStore) Save(ctx context.Context, cfg scraper.ProxyConfig) error {
	cfg.UpdatedAt = s.clock.Now()
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal proxy config: %w", err)
	}
	query := `
		INSERT INTO proxy_config (id, config, updated_at)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE
		SET config = EXCLUDED.config,
			updated_at = EXCLUDED.updated_at;
	`
	if _, err := s.pool.Exec(ctx, query, raw, cfg.UpdatedAt); err != nil {
		return fmt.Errorf("save proxy config: %w", err)
	}
	return nil
}

// BlockIP adds the IP to the persisted blacklist.
func (s *ProxyConfigStore) BlockIP(ctx context.Context, ip string) error {
	cfg, err := s.Load(ctx)
	if err != nil {
		return err
	}
	for _, existing := range cfg.Blacklist {
		if existing == ip {
			return nil
		}
	}
	cfg.Blacklist = append(cfg.Blacklist, ip)
	return s.Save(ctx, cfg)
}

// UnblockIP removes the IP from the blacklist; absent IPs are a no-op.
func (s *ProxyConfigStore) UnblockIP(ctx context.Context, ip string) error {
	cfg, err := s.Load(ctx)
	if err != nil {
		return err
	}
	filtered := cfg.Blacklist[:0]
	for _, existing := range cfg.Blacklist {
		if existing != ip {
			filtered = append(filtered, existing)
		}
	}
	if len(filtered) == len(cfg.Blacklist) {
		return nil
	}
	cfg.Blacklist = filtered
	return s.Save(ctx, cfg)
}
