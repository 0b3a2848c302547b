package security

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	idgen "github.com/mercadime/scraperd/internal/id/uuid"
	"github.com/mercadime/scraperd/internal/scraper"
	"github.com/mercadime/scraperd/internal/storage/memory"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

type gateFixture struct {
	gate    *Gate
	configs *memory.ProxyConfigStore
	events  *memory.SecurityStore
	clock   *fakeClock
}

func newGateFixture(t *testing.T, mutate func(*scraper.ProxyConfig)) *gateFixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
	configs := memory.NewProxyConfigStore(clock)
	cfg, err := configs.Load(context.Background())
	require.NoError(t, err)
	if mutate != nil {
		mutate(&cfg)
		require.NoError(t, configs.Save(context.Background(), cfg))
	}
	events := memory.NewSecurityStore()
	gate := NewGate(configs, NewCounterStore(), events, nil, clock, idgen.NewUUIDGenerator(), zap.NewNop())
	return &gateFixture{gate: gate, configs: configs, events: events, clock: clock}
}

func TestGate_MalformedIP(t *testing.T) {
	t.Parallel()
	f := newGateFixture(t, nil)

	_, err := f.gate.Check(context.Background(), RequestInfo{IP: "not-an-ip"})
	require.ErrorIs(t, err, scraper.ErrValidation)
}

func TestGate_MinuteLimitAndWindowRollover(t *testing.T) {
	t.Parallel()
	f := newGateFixture(t, func(cfg *scraper.ProxyConfig) {
		cfg.RateLimitPerMinute = 100
		cfg.RateLimitPerHour = 0
		cfg.RateLimitPerDay = 0
		cfg.AutoBlockEnabled = false
		cfg.HotlinkProtection = false
	})
	ctx := context.Background()
	req := RequestInfo{IP: "203.0.113.7"}

	for i := 0; i < 100; i++ {
		d, err := f.gate.Check(ctx, req)
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d within limit was rejected", i+1)
	}

	d, err := f.gate.Check(ctx, req)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, scraper.VisitorScraper, d.State)

	// First request after the window rolls over is admitted again.
	f.clock.advance(time.Minute)
	d, err = f.gate.Check(ctx, req)
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestGate_WhitelistBeatsBlacklist(t *testing.T) {
	t.Parallel()
	f := newGateFixture(t, func(cfg *scraper.ProxyConfig) {
		cfg.Whitelist = []string{"198.51.100.9"}
		cfg.Blacklist = []string{"198.51.100.9"}
	})

	d, err := f.gate.Check(context.Background(), RequestInfo{IP: "198.51.100.9"})
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, scraper.VisitorNormal, d.State)
	require.Zero(t, d.RiskScore)
}

func TestGate_BlacklistRejects(t *testing.T) {
	t.Parallel()
	f := newGateFixture(t, func(cfg *scraper.ProxyConfig) {
		cfg.Blacklist = []string{"198.51.100.10"}
	})

	d, err := f.gate.Check(context.Background(), RequestInfo{IP: "198.51.100.10"})
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, scraper.VisitorIPBlocked, d.State)
}

func TestGate_HotlinkProtection(t *testing.T) {
	t.Parallel()
	f := newGateFixture(t, func(cfg *scraper.ProxyConfig) {
		cfg.HotlinkProtection = true
		cfg.AllowEmptyReferer = false
		cfg.AllowedDomains = []string{"mercadime.es"}
	})
	ctx := context.Background()

	d, err := f.gate.Check(ctx, RequestInfo{IP: "203.0.113.1", Referer: "https://mercadime.es/productos"})
	require.NoError(t, err)
	require.True(t, d.Allowed)

	// Subdomains pass the substring match.
	d, err = f.gate.Check(ctx, RequestInfo{IP: "203.0.113.1", Referer: "https://www.mercadime.es/"})
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = f.gate.Check(ctx, RequestInfo{IP: "203.0.113.1", Referer: "https://evil.example.com/"})
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, scraper.VisitorSuspicious, d.State)

	d, err = f.gate.Check(ctx, RequestInfo{IP: "203.0.113.1"})
	require.NoError(t, err)
	require.False(t, d.Allowed, "empty referer must be rejected when not allowed")
}

func TestGate_EmptyRefererAllowedWhenConfigured(t *testing.T) {
	t.Parallel()
	f := newGateFixture(t, func(cfg *scraper.ProxyConfig) {
		cfg.HotlinkProtection = true
		cfg.AllowEmptyReferer = true
	})

	d, err := f.gate.Check(context.Background(), RequestInfo{IP: "203.0.113.2"})
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestGate_AutoBlockPersistsToBlacklist(t *testing.T) {
	t.Parallel()
	f := newGateFixture(t, func(cfg *scraper.ProxyConfig) {
		cfg.RateLimitPerMinute = 0
		cfg.RateLimitPerHour = 0
		cfg.RateLimitPerDay = 0
		cfg.HotlinkProtection = false
		cfg.AutoBlockEnabled = true
		cfg.AutoBlockThreshold = 5
	})
	ctx := context.Background()
	req := RequestInfo{IP: "203.0.113.99"}

	var last Decision
	for i := 0; i < 6; i++ {
		var err error
		last, err = f.gate.Check(ctx, req)
		require.NoError(t, err)
	}
	require.False(t, last.Allowed)
	require.Equal(t, scraper.VisitorIPBlocked, last.State)

	cfg, err := f.configs.Load(ctx)
	require.NoError(t, err)
	require.Contains(t, cfg.Blacklist, "203.0.113.99")

	// Next request is rejected by the blacklist path.
	d, err := f.gate.Check(ctx, req)
	require.NoError(t, err)
	require.False(t, d.Allowed)

	events, err := f.events.ListEvents(ctx, 0)
	require.NoError(t, err)
	var blocked bool
	for _, evt := range events {
		if evt.EventType == EventIPAutoBlocked {
			blocked = true
		}
	}
	require.True(t, blocked, "expected an IP_BLOCKED event in the security log")
}

func TestGate_EveryDecisionIsLogged(t *testing.T) {
	t.Parallel()
	f := newGateFixture(t, nil)
	ctx := context.Background()

	_, err := f.gate.Check(ctx, RequestInfo{IP: "203.0.113.50", Path: "/img/1.jpg"})
	require.NoError(t, err)

	events, err := f.events.ListEvents(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "203.0.113.50", events[0].IP)
	require.Equal(t, "/img/1.jpg", events[0].Metadata["path"])
	require.NotEmpty(t, events[0].ID)
}

type stubIPInfo struct {
	info scraper.IPInfo
	err  error
}

func (s *stubIPInfo) Resolve(context.Context, string) (scraper.IPInfo, error) {
	return s.info, s.err
}

func TestGate_EventsCarryIPInfo(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
	configs := memory.NewProxyConfigStore(clock)
	events := memory.NewSecurityStore()
	resolver := &stubIPInfo{info: scraper.IPInfo{City: "Madrid", Country: "Spain", ISP: "Movistar"}}
	gate := NewGate(configs, NewCounterStore(), events, resolver, clock, idgen.NewUUIDGenerator(), zap.NewNop())
	ctx := context.Background()

	_, err := gate.Check(ctx, RequestInfo{IP: "203.0.113.60"})
	require.NoError(t, err)

	logged, err := events.ListEvents(ctx, 0)
	require.NoError(t, err)
	require.Len(t, logged, 1)
	require.Equal(t, "Madrid", logged[0].IPInfo.City)
	require.Equal(t, "Spain", logged[0].IPInfo.Country)
	require.Equal(t, "Movistar", logged[0].IPInfo.ISP)
}

func TestGate_ResolverFailureStillLogsEvent(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
	configs := memory.NewProxyConfigStore(clock)
	events := memory.NewSecurityStore()
	resolver := &stubIPInfo{err: context.DeadlineExceeded}
	gate := NewGate(configs, NewCounterStore(), events, resolver, clock, idgen.NewUUIDGenerator(), zap.NewNop())
	ctx := context.Background()

	d, err := gate.Check(ctx, RequestInfo{IP: "203.0.113.61"})
	require.NoError(t, err)
	require.True(t, d.Allowed)

	logged, err := events.ListEvents(ctx, 0)
	require.NoError(t, err)
	require.Len(t, logged, 1)
	require.Empty(t, logged[0].IPInfo.Country)
}

func TestGate_BlockedIPFloodingEscalatesToMalicious(t *testing.T) {
	t.Parallel()
	f := newGateFixture(t, func(cfg *scraper.ProxyConfig) {
		cfg.Blacklist = []string{"198.51.100.20"}
		cfg.AlertThreshold = 5
	})
	ctx := context.Background()
	req := RequestInfo{IP: "198.51.100.20"}

	var last Decision
	for i := 0; i < 6; i++ {
		var err error
		last, err = f.gate.Check(ctx, req)
		require.NoError(t, err)
		require.False(t, last.Allowed)
	}
	require.Equal(t, scraper.VisitorMalicious, last.State)
	require.Equal(t, 100, last.RiskScore)

	events, err := f.events.ListEvents(ctx, 0)
	require.NoError(t, err)
	var malicious bool
	for _, evt := range events {
		if evt.EventType == EventMalicious {
			malicious = true
			require.Equal(t, scraper.VisitorMalicious, evt.VisitorState)
		}
	}
	require.True(t, malicious, "expected a malicious_traffic event in the security log")
}

func TestCounterStore_Sweep(t *testing.T) {
	t.Parallel()
	c := NewCounterStore()
	now := time.Date(2026, 3, 14, 10, 0, 30, 0, time.UTC)

	c.Incr("1.2.3.4", WindowMinute, now)
	c.Incr("1.2.3.4", WindowHour, now)
	require.Equal(t, 1, c.Count("1.2.3.4", WindowMinute, now))

	removed := c.Sweep(now.Add(2 * time.Minute))
	require.Equal(t, 1, removed, "only the minute bucket has expired")
	require.Zero(t, c.Count("1.2.3.4", WindowMinute, now.Add(2*time.Minute)))
}
