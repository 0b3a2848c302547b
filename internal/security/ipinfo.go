package security

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/mercadime/scraperd/internal/scraper"
)

const (
	defaultIPInfoEndpoint = "http://ip-api.com/json"
	ipInfoTimeout         = 3 * time.Second
)

// HTTPResolver resolves IP geo/network metadata from an ip-api style JSON
// endpoint. Results are cached per IP for the process lifetime; the upstream
// data changes rarely and the free tier is rate limited.
type HTTPResolver struct {
	client   *http.Client
	endpoint string

	mu    sync.Mutex
	cache map[string]scraper.IPInfo
}

// NewHTTPResolver constructs a resolver. An empty endpoint selects the
// default ip-api.com service.
func NewHTTPResolver(client *http.Client, endpoint string) *HTTPResolver {
	if client == nil {
		client = &http.Client{Timeout: ipInfoTimeout}
	}
	if endpoint == "" {
		endpoint = defaultIPInfoEndpoint
	}
	return &HTTPResolver{
		client:   client,
		endpoint: endpoint,
		cache:    make(map[string]scraper.IPInfo),
	}
}

// Resolve looks up metadata for one IP, serving repeats from cache.
func (r *HTTPResolver) Resolve(ctx context.Context, ip string) (scraper.IPInfo, error) {
	r.mu.Lock()
	if info, ok := r.cache[ip]; ok {
		r.mu.Unlock()
		return info, nil
	}
	r.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"/"+url.PathEscape(ip), nil)
	if err != nil {
		return scraper.IPInfo{}, fmt.Errorf("build ip info request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return scraper.IPInfo{}, fmt.Errorf("ip info lookup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return scraper.IPInfo{}, fmt.Errorf("ip info lookup: status %d", resp.StatusCode)
	}

	var payload struct {
		City    string `json:"city"`
		Country string `json:"country"`
		ISP     string `json:"isp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return scraper.IPInfo{}, fmt.Errorf("decode ip info: %w", err)
	}
	info := scraper.IPInfo{City: payload.City, Country: payload.Country, ISP: payload.ISP}

	r.mu.Lock()
	r.cache[ip] = info
	r.mu.Unlock()
	return info, nil
}
