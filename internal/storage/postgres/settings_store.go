package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mercadime/scraperd/internal/scraper"
)

// SettingsStore keeps per-store scraper settings in Postgres. Durations are
// stored as nanosecond integers so round trips are exact.
type SettingsStore struct {
	pool     querier
	defaults scraper.StoreSettings
}

// NewSettingsStore constructs a SettingsStore. Stores without a row are
// reported with defaults.
func NewSettingsStore(pool querier, defaults scraper.StoreSettings) (*SettingsStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &SettingsStore{pool: pool, defaults: defaults}, nil
}

// Close releases the underlying pool resources.
func (s *SettingsStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Settings returns the settings for one store, falling back to defaults when
// no row exists.
func (s *SettingsStore) Settings(ctx context.Context, store string) (scraper.StoreSettings, error) {
	if store == "" {
		return scraper.StoreSettings{}, fmt.Errorf("%w: store is required", scraper.ErrValidation)
	}
	query := `
		SELECT enabled, base_url, max_concurrency, retry_count, delay_ns, update_frequency_ns, job_timeout_ns, headless_allowed
		FROM store_settings
		WHERE store = $1;
	`
	var settings scraper.StoreSettings
	err := s.pool.QueryRow(ctx, query, store).Scan(
		&settings.Enabled,
		&settings.BaseURL,
		&settings.MaxConcurrency,
		&settings.RetryCount,
		&settings.DelayBetweenRequests,
		&settings.ProductUpdateFrequency,
		&settings.JobTimeout,
		&settings.HeadlessAllowed,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.defaults, nil
		}
		return scraper.StoreSettings{}, fmt.Errorf("get settings: %w", err)
	}
	return settings, nil
}

// UpdateSettings writes the settings for one store.
func (s *SettingsStore) UpdateSettings(ctx context.Context, store string, settings scraper.StoreSettings) error {
	if store == "" {
		return fmt.Errorf("%w: store is required", scraper.ErrValidation)
	}
	if settings.MaxConcurrency < 1 {
		return fmt.Errorf("%w: max_concurrency must be at least 1", scraper.ErrValidation)
	}
	if settings.RetryCount < 0 || settings.RetryCount > 10 {
		return fmt.Errorf("%w: retry_count must be between 0 and 10", scraper.ErrValidation)
	}
	query := `
		INSERT INTO store_settings (store, enabled, base_url, max_concurrency, retry_count, delay_ns, update_frequency_ns, job_timeout_ns, headless_allowed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (store) DO UPDATE
		SET enabled = EXCLUDED.enabled,
			base_url = EXCLUDED.base_url,
			max_concurrency = EXCLUDED.max_concurrency,
			retry_count = EXCLUDED.retry_count,
			delay_ns = EXCLUDED.delay_ns,
			update_frequency_ns = EXCLUDED.update_frequency_ns,
			job_timeout_ns = EXCLUDED.job_timeout_ns,
			headless_allowed = EXCLUDED.headless_allowed;
	`
	_, err := s.pool.Exec(ctx, query,
		store,
		settings.Enabled,
		settings.BaseURL,
		settings.MaxConcurrency,
		settings.RetryCount,
		settings.DelayBetweenRequests,
		settings.ProductUpdateFrequency,
		settings.JobTimeout,
		settings.HeadlessAllowed,
	)
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	return nil
}

// Stores lists every store with a settings row.
func (s *SettingsStore) Stores(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT store FROM store_settings ORDER BY store;`)
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	defer rows.Close()

	var stores []string
	for rows.Next() {
		var store string
		if err := rows.Scan(&store); err != nil {
			return nil, fmt.Errorf("scan store row: %w", err)
		}
		stores = append(stores, store)
	}
	return stores, rows.Err()
}
