package security

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/mercadime/scraperd/internal/scraper"
)

// Event types written to the security log.
const (
	EventRequestAllowed  = "request_allowed"
	EventIPBlacklisted   = "ip_blacklisted"
	EventHotlinkBlocked  = "hotlink_blocked"
	EventRateLimited     = "rate_limit_exceeded"
	EventIPAutoBlocked   = "IP_BLOCKED"
	EventMalicious       = "malicious_traffic"
	EventWhitelistBypass = "whitelist_bypass"
)

// RequestInfo is the slice of an incoming request the gate inspects.
type RequestInfo struct {
	IP      string
	Referer string
	Path    string
	UserID  string
}

// Decision is the gate's verdict for one request.
type Decision struct {
	Allowed   bool                 `json:"allowed"`
	State     scraper.VisitorState `json:"state"`
	RiskScore int                  `json:"risk_score"`
	Reason    string               `json:"reason,omitempty"`
}

// Gate applies the check sequence from the proxy configuration: whitelist,
// blacklist, hotlink protection, three-window rate limits, auto-block. Every
// decision is appended to the security log.
type Gate struct {
	configs  scraper.ProxyConfigStore
	counters *CounterStore
	events   scraper.SecurityStore
	ipInfo   scraper.IPInfoResolver
	clock    scraper.Clock
	ids      scraper.IDGenerator
	logger   *zap.Logger
}

// NewGate constructs a Gate. The resolver may be nil, in which case events
// carry no geo metadata.
func NewGate(
	configs scraper.ProxyConfigStore,
	counters *CounterStore,
	events scraper.SecurityStore,
	ipInfo scraper.IPInfoResolver,
	clock scraper.Clock,
	ids scraper.IDGenerator,
	logger *zap.Logger,
) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		configs:  configs,
		counters: counters,
		events:   events,
		ipInfo:   ipInfo,
		clock:    clock,
		ids:      ids,
		logger:   logger,
	}
}

// Check runs the full decision sequence for one request.
func (g *Gate) Check(ctx context.Context, req RequestInfo) (Decision, error) {
	ip := strings.TrimSpace(req.IP)
	if net.ParseIP(ip) == nil {
		return Decision{}, fmt.Errorf("%w: malformed ip %q", scraper.ErrValidation, req.IP)
	}

	cfg, err := g.configs.Load(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("load proxy config: %w", err)
	}

	// Whitelist wins over everything, including the blacklist.
	if containsIP(cfg.Whitelist, ip) {
		d := Decision{Allowed: true, State: scraper.VisitorNormal}
		g.record(ctx, req, d, EventWhitelistBypass)
		return d, nil
	}

	if containsIP(cfg.Blacklist, ip) {
		// Blocked IPs that keep hammering past the alert threshold get
		// escalated so operators can act on them upstream.
		blockedHits := g.counters.Incr(ip, WindowMinute, g.clock.Now())
		if cfg.AlertThreshold > 0 && blockedHits > cfg.AlertThreshold {
			d := Decision{State: scraper.VisitorMalicious, RiskScore: 100, Reason: "blocked ip flooding"}
			g.record(ctx, req, d, EventMalicious)
			return d, nil
		}
		d := Decision{State: scraper.VisitorIPBlocked, RiskScore: 95, Reason: "ip blacklisted"}
		g.record(ctx, req, d, EventIPBlacklisted)
		return d, nil
	}

	if cfg.HotlinkProtection && !refererAllowed(cfg, req.Referer) {
		d := Decision{State: scraper.VisitorSuspicious, RiskScore: 40, Reason: "hotlink blocked"}
		g.record(ctx, req, d, EventHotlinkBlocked)
		return d, nil
	}

	now := g.clock.Now()
	minuteCount := g.counters.Incr(ip, WindowMinute, now)
	hourCount := g.counters.Incr(ip, WindowHour, now)
	dayCount := g.counters.Incr(ip, WindowDay, now)

	if cfg.AutoBlockEnabled && cfg.AutoBlockThreshold > 0 && minuteCount > cfg.AutoBlockThreshold {
		if err := g.configs.BlockIP(ctx, ip); err != nil {
			g.logger.Error("auto-block persist failed", zap.String("ip", ip), zap.Error(err))
		}
		d := Decision{State: scraper.VisitorIPBlocked, RiskScore: 90, Reason: "auto-blocked"}
		g.record(ctx, req, d, EventIPAutoBlocked)
		return d, nil
	}

	if exceeded, state, risk, window := overLimit(cfg, minuteCount, hourCount, dayCount); exceeded {
		d := Decision{State: state, RiskScore: risk, Reason: fmt.Sprintf("%s limit exceeded", window)}
		g.record(ctx, req, d, EventRateLimited)
		return d, nil
	}

	d := Decision{Allowed: true, State: scraper.VisitorNormal, RiskScore: utilizationRisk(cfg, minuteCount)}
	g.record(ctx, req, d, EventRequestAllowed)
	return d, nil
}

func overLimit(cfg scraper.ProxyConfig, minute, hour, day int) (bool, scraper.VisitorState, int, Window) {
	switch {
	case cfg.RateLimitPerMinute > 0 && minute > cfg.RateLimitPerMinute:
		return true, scraper.VisitorScraper, 70, WindowMinute
	case cfg.RateLimitPerHour > 0 && hour > cfg.RateLimitPerHour:
		return true, scraper.VisitorBot, 55, WindowHour
	case cfg.RateLimitPerDay > 0 && day > cfg.RateLimitPerDay:
		return true, scraper.VisitorSuspicious, 45, WindowDay
	default:
		return false, scraper.VisitorNormal, 0, ""
	}
}

// utilizationRisk grades allowed traffic by how close it runs to the minute
// limit, capped below the suspicious range.
func utilizationRisk(cfg scraper.ProxyConfig, minute int) int {
	if cfg.RateLimitPerMinute <= 0 {
		return 0
	}
	risk := 30 * minute / cfg.RateLimitPerMinute
	if risk > 30 {
		risk = 30
	}
	return risk
}

func refererAllowed(cfg scraper.ProxyConfig, referer string) bool {
	referer = strings.TrimSpace(referer)
	if referer == "" {
		return cfg.AllowEmptyReferer
	}
	host := referer
	if u, err := url.Parse(referer); err == nil && u.Host != "" {
		host = u.Hostname()
	}
	for _, domain := range cfg.AllowedDomains {
		domain = strings.TrimSpace(domain)
		if domain != "" && strings.Contains(host, domain) {
			return true
		}
	}
	return false
}

func containsIP(list []string, ip string) bool {
	for _, entry := range list {
		if strings.TrimSpace(entry) == ip {
			return true
		}
	}
	return false
}

// record appends the decision to the append-only security log. Log failures
// never turn into request failures.
func (g *Gate) record(ctx context.Context, req RequestInfo, d Decision, eventType string) {
	id, err := g.ids.NewID()
	if err != nil {
		g.logger.Error("security event id generation failed", zap.Error(err))
		return
	}
	evt := scraper.SecurityEvent{
		ID:           id,
		IP:           req.IP,
		VisitorState: d.State,
		EventType:    eventType,
		RiskScore:    d.RiskScore,
		UserID:       req.UserID,
		CreatedAt:    g.clock.Now(),
	}
	if req.Path != "" {
		evt.Metadata = map[string]string{"path": req.Path}
	}
	if g.ipInfo != nil {
		info, err := g.ipInfo.Resolve(ctx, req.IP)
		if err != nil {
			g.logger.Debug("ip info lookup failed", zap.String("ip", req.IP), zap.Error(err))
		} else {
			evt.IPInfo = info
		}
	}
	if err := g.events.AppendEvent(ctx, evt); err != nil {
		g.logger.Error("security event append failed", zap.String("ip", req.IP), zap.Error(err))
	}
}
