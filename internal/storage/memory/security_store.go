package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mercadime/scraperd/internal/scraper"
)

// SecurityStore keeps the append-only security log in memory.
type SecurityStore struct {
	mu     sync.RWMutex
	events []scraper.SecurityEvent
}

// NewSecurityStore constructs a SecurityStore.
func NewSecurityStore() *SecurityStore {
	return &SecurityStore{}
}

// AppendEvent appends one event. Events are never mutated afterwards.
func (s *SecurityStore) AppendEvent(_ context.Context, evt scraper.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

// ListEvents returns up to limit events, newest first.
func (s *SecurityStore) ListEvents(_ context.Context, limit int) ([]scraper.SecurityEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.events)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]scraper.SecurityEvent, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.events[i])
	}
	return out, nil
}

// PruneEvents drops events older than the cutoff, enforcing retention.
func (s *SecurityStore) PruneEvents(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0]
	removed := 0
	for _, evt := range s.events {
		if evt.CreatedAt.Before(olderThan) {
			removed++
			continue
		}
		kept = append(kept, evt)
	}
	s.events = kept
	return removed, nil
}

// ProxyConfigStore manages the singleton proxy configuration in memory. The
// document is lazily created with defaults on first access.
type ProxyConfigStore struct {
	mu    sync.Mutex
	cfg   *scraper.ProxyConfig
	clock scraper.Clock
}

// NewProxyConfigStore constructs a ProxyConfigStore.
func NewProxyConfigStore(clock scraper.Clock) *ProxyConfigStore {
	return &ProxyConfigStore{clock: clock}
}

// Load returns the singleton config, creating it on first access.
func (s *ProxyConfigStore) Load(_ context.Context) (scraper.ProxyConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg == nil {
		cfg := scraper.DefaultProxyConfig()
		cfg.UpdatedAt = s.clock.Now()
		s.cfg = &cfg
	}
	return *s.cfg, nil
}

// Save replaces the singleton config.
func (s *ProxyConfigStore) Save(_ context.Context, cfg scraper.ProxyConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg.UpdatedAt = s.clock.Now()
	s.cfg = &cfg
	return nil
}

// BlockIP adds the IP to the persisted blacklist.
func (s *ProxyConfigStore) BlockIP(_ context.Context, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg == nil {
		cfg := scraper.DefaultProxyConfig()
		s.cfg = &cfg
	}
	for _, existing := range s.cfg.Blacklist {
		if existing == ip {
			return nil
		}
	}
	s.cfg.Blacklist = append(s.cfg.Blacklist, ip)
	s.cfg.UpdatedAt = s.clock.Now()
	return nil
}

// UnblockIP removes the IP from the blacklist; absent IPs are a no-op.
func (s *ProxyConfigStore) UnblockIP(_ context.Context, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg == nil {
		return nil
	}
	filtered := s.cfg.Blacklist[:0]
	for _, existing := range s.cfg.Blacklist {
		if existing != ip {
			filtered = append(filtered, existing)
		}
	}
	s.cfg.Blacklist = filtered
	s.cfg.UpdatedAt = s.clock.Now()
	return nil
}
