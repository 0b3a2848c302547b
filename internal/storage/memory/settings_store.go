// Package memory provides store implementations for development and testing.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mercadime/scraperd/internal/scraper"
)

// DefaultStoreSettings are used for stores that have never been configured.
func DefaultStoreSettings() scraper.StoreSettings {
	return scraper.StoreSettings{
		Enabled:                true,
		MaxConcurrency:         1,
		RetryCount:             3,
		DelayBetweenRequests:   time.Second,
		ProductUpdateFrequency: 24 * time.Hour,
		JobTimeout:             15 * time.Minute,
		HeadlessAllowed:        true,
	}
}

// SettingsStore keeps per-store scraper settings in memory.
type SettingsStore struct {
	mu       sync.RWMutex
	settings map[string]scraper.StoreSettings
}

// NewSettingsStore constructs a SettingsStore, optionally seeded.
func NewSettingsStore(seed map[string]scraper.StoreSettings) *SettingsStore {
	settings := make(map[string]scraper.StoreSettings, len(seed))
	for store, s := range seed {
		settings[store] = s
	}
	return &SettingsStore{settings: settings}
}

// Settings returns the settings for a store, falling back to defaults for
// unknown stores.
func (s *SettingsStore) Settings(_ context.Context, store string) (scraper.StoreSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if settings, ok := s.settings[store]; ok {
		return settings, nil
	}
	return DefaultStoreSettings(), nil
}

// UpdateSettings validates and persists new settings for a store.
func (s *SettingsStore) UpdateSettings(_ context.Context, store string, settings scraper.StoreSettings) error {
	if store == "" {
		return fmt.Errorf("%w: store is required", scraper.ErrValidation)
	}
	if settings.MaxConcurrency < 1 {
		return fmt.Errorf("%w: max_concurrency must be >= 1", scraper.ErrValidation)
	}
	if settings.RetryCount < 0 || settings.RetryCount > 10 {
		return fmt.Errorf("%w: retry_count must be in [0, 10]", scraper.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[store] = settings
	return nil
}

// Stores lists every configured store id.
func (s *SettingsStore) Stores(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.settings))
	for store := range s.settings {
		out = append(out, store)
	}
	sort.Strings(out)
	return out, nil
}
