package scraper

import (
	"time"
)

// JobType identifies the kind of work a scrape job performs.
type JobType string

// Job types dispatched by the admin panel.
const (
	JobTypeDiscoverCategories    JobType = "discover-categories"
	JobTypeDiscoverSubcategories JobType = "discover-subcategories"
	JobTypeScrapeProducts        JobType = "scrape-products"
)

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in the queue.
const (
	JobStatusWaiting   JobStatus = "waiting"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusDelayed   JobStatus = "delayed"
)

// IsTerminal reports whether the status ends the job lifecycle.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// FailedReasonCancelled marks jobs terminated by operator request.
const FailedReasonCancelled = "cancelled"

// Job is the metadata tracked for each queued scrape task.
type Job struct {
	ID           string      `json:"id"`
	Type         JobType     `json:"type"`
	Store        string      `json:"store"`
	Status       JobStatus   `json:"status"`
	Attempts     int         `json:"attempts"`
	MaxAttempts  int         `json:"max_attempts"`
	CreatedAt    time.Time   `json:"created_at"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
	ReadyAt      time.Time   `json:"ready_at,omitempty"`
	FailedReason string      `json:"failed_reason,omitempty"`
	Counters     JobCounters `json:"counters"`
}

// JobCounters tracks per-job progress stats.
type JobCounters struct {
	PagesFetched     int `json:"pages_fetched"`
	ProductsUpserted int `json:"products_upserted"`
	CategoriesFound  int `json:"categories_found"`
	ErrorCount       int `json:"error_count"`
	Retries          int `json:"retries"`
}

// Add merges another counter set into the receiver.
func (c *JobCounters) Add(other JobCounters) {
	c.PagesFetched += other.PagesFetched
	c.ProductsUpserted += other.ProductsUpserted
	c.CategoriesFound += other.CategoriesFound
	c.ErrorCount += other.ErrorCount
	c.Retries += other.Retries
}

// QueueStats summarizes the queue for the dashboard.
type QueueStats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
}

// StoreSettings holds the per-store scraping knobs edited by operators.
// The worker pool reads settings fresh before each dequeue decision so that
// changes take effect without a restart.
type StoreSettings struct {
	Enabled                bool          `json:"enabled"`
	BaseURL                string        `json:"base_url"`
	MaxConcurrency         int           `json:"max_concurrency"`
	RetryCount             int           `json:"retry_count"`
	DelayBetweenRequests   time.Duration `json:"delay_between_requests"`
	ProductUpdateFrequency time.Duration `json:"product_update_frequency"`
	JobTimeout             time.Duration `json:"job_timeout"`
	HeadlessAllowed        bool          `json:"headless_allowed"`
}

// LabelKind distinguishes brand labels from category labels.
type LabelKind string

// Kinds of extracted labels and mappings.
const (
	LabelKindBrand    LabelKind = "brand"
	LabelKindCategory LabelKind = "category"
)

// ExtractedLabel is a candidate brand/category label derived from scraped
// product text, aggregated across one extraction pass.
type ExtractedLabel struct {
	Name          string    `json:"name"`
	Kind          LabelKind `json:"kind"`
	Frequency     int       `json:"frequency"`
	Sources       []string  `json:"sources"`
	Confidence    float64   `json:"confidence"`
	Examples      []string  `json:"examples"`
	LastExtracted time.Time `json:"last_extracted"`
}

// MappingMethod records how a mapping was produced.
type MappingMethod string

// Mapping provenance values.
const (
	MappingMethodManual MappingMethod = "manual"
	MappingMethodAuto   MappingMethod = "auto"
	MappingMethodAI     MappingMethod = "ai"
)

// Mapping associates an extracted label with a canonical catalog entity.
// At most one active mapping exists per (label, store) pair.
type Mapping struct {
	ID             string        `json:"id"`
	Kind           LabelKind     `json:"kind"`
	ExtractedLabel string        `json:"extracted_label"`
	MappedEntityID string        `json:"mapped_entity_id,omitempty"`
	Confidence     float64       `json:"confidence"`
	Method         MappingMethod `json:"method"`
	Store          string        `json:"store"`
	MappedAt       time.Time     `json:"mapped_at"`
	Validated      bool          `json:"validated"`
}

// Entity is a canonical catalog brand or category.
type Entity struct {
	ID   string    `json:"id"`
	Kind LabelKind `json:"kind"`
	Name string    `json:"name"`
}

// Product is one catalog row upserted by a scrape-products run.
type Product struct {
	Store       string    `json:"store"`
	ExternalID  string    `json:"external_id"`
	Title       string    `json:"title"`
	Brand       string    `json:"brand,omitempty"`
	Category    string    `json:"category,omitempty"`
	PriceCents  int64     `json:"price_cents"`
	Currency    string    `json:"currency"`
	URL         string    `json:"url"`
	ContentHash string    `json:"content_hash"`
	ScrapedAt   time.Time `json:"scraped_at"`
}

// CategoryNode is one taxonomy node discovered while crawling a store.
type CategoryNode struct {
	Store        string    `json:"store"`
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Parent       string    `json:"parent,omitempty"`
	URL          string    `json:"url"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// VisitorState is the security classification assigned to a request/IP.
type VisitorState string

// Visitor states, from benign to blocked.
const (
	VisitorNormal     VisitorState = "NORMAL"
	VisitorBot        VisitorState = "BOT"
	VisitorScraper    VisitorState = "SCRAPER"
	VisitorSuspicious VisitorState = "SUSPICIOUS"
	VisitorMalicious  VisitorState = "MALICIOUS"
	VisitorIPBlocked  VisitorState = "IP_BLOCKED"
)

// IPInfo carries geo/network metadata for a security event.
type IPInfo struct {
	City    string `json:"city,omitempty"`
	Country string `json:"country,omitempty"`
	ISP     string `json:"isp,omitempty"`
	ASN     string `json:"asn,omitempty"`
}

// SecurityEvent is one append-only row in the security log.
type SecurityEvent struct {
	ID           string            `json:"id"`
	IP           string            `json:"ip"`
	VisitorState VisitorState      `json:"visitor_state"`
	EventType    string            `json:"event_type"`
	RiskScore    int               `json:"risk_score"`
	IPInfo       IPInfo            `json:"ip_info"`
	UserID       string            `json:"user_id,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// ProxyConfig is the singleton document controlling the image proxy and the
// security gate. Exactly one instance exists; it is lazily created with
// defaults on first access.
type ProxyConfig struct {
	Enabled            bool          `json:"enabled"`
	CacheTTL           time.Duration `json:"cache_ttl"`
	CacheMaxBytes      int64         `json:"cache_max_bytes"`
	RateLimitPerMinute int           `json:"rate_limit_per_minute"`
	RateLimitPerHour   int           `json:"rate_limit_per_hour"`
	RateLimitPerDay    int           `json:"rate_limit_per_day"`
	Blacklist          []string      `json:"blacklist"`
	Whitelist          []string      `json:"whitelist"`
	AutoBlockEnabled   bool          `json:"auto_block_enabled"`
	AutoBlockThreshold int           `json:"auto_block_threshold"`
	HotlinkProtection  bool          `json:"hotlink_protection"`
	AllowedDomains     []string      `json:"allowed_domains"`
	AllowEmptyReferer  bool          `json:"allow_empty_referer"`
	AlertThreshold     int           `json:"alert_threshold"`
	RetentionDays      int           `json:"retention_days"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// DefaultProxyConfig returns the configuration written on first access.
func DefaultProxyConfig() ProxyConfig {
	return ProxyConfig{
		Enabled:            true,
		CacheTTL:           24 * time.Hour,
		CacheMaxBytes:      512 << 20,
		RateLimitPerMinute: 100,
		RateLimitPerHour:   2000,
		RateLimitPerDay:    20000,
		AutoBlockEnabled:   true,
		AutoBlockThreshold: 300,
		HotlinkProtection:  true,
		AllowEmptyReferer:  true,
		AlertThreshold:     50,
		RetentionDays:      30,
	}
}

// LogLevel grades worker log lines.
type LogLevel string

// Worker log levels.
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogLine is one structured entry in a store's worker log ring buffer.
type LogLine struct {
	Timestamp time.Time         `json:"timestamp"`
	Level     LogLevel          `json:"level"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
}

// FetchRequest captures everything needed to fetch one page.
type FetchRequest struct {
	JobID       string
	Store       string
	URL         string
	UseHeadless bool
}

// FetchResponse is the result returned by a Fetcher implementation.
// Screenshot is only populated by headless fetchers.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
	Screenshot   []byte
}

// Listing is the parsed form of one product listing page.
type Listing struct {
	Products []Product
	NextPage string
}
