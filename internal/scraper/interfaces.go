package scraper

import (
	"context"
	"io"
	"time"
)

// Queue provides the durable scrape job queue. Dequeue blocks until an
// eligible job exists: FIFO within a store, no more than the store's
// configured max concurrency active at once, enforced atomically at claim
// time.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context) (Job, error)
	Complete(ctx context.Context, jobID string, counters JobCounters) error
	Fail(ctx context.Context, jobID string, reason string) error
	Cancel(ctx context.Context, jobID string) error
	Cancelled(jobID string) bool
	Get(ctx context.Context, jobID string) (Job, error)
	List(ctx context.Context) ([]Job, error)
	Stats(ctx context.Context) (QueueStats, error)
	Remove(ctx context.Context, jobID string) error
	Purge(ctx context.Context) (int, error)
	PruneTerminal(ctx context.Context, olderThan time.Time) (int, error)
	PauseStore(store string)
	ResumeStore(store string)
	Paused(store string) bool
	StopStore(ctx context.Context, store string) (int, error)
}

// JobStore persists queue state so jobs survive restarts. The queue writes
// every transition through and reloads the journal on boot.
type JobStore interface {
	SaveJob(ctx context.Context, job Job) error
	DeleteJob(ctx context.Context, jobID string) error
	LoadJobs(ctx context.Context) ([]Job, error)
}

// SettingsStore reads and writes per-store scraper settings.
type SettingsStore interface {
	Settings(ctx context.Context, store string) (StoreSettings, error)
	UpdateSettings(ctx context.Context, store string, settings StoreSettings) error
	Stores(ctx context.Context) ([]string, error)
}

// ProductStore persists scraped catalog rows.
type ProductStore interface {
	UpsertProduct(ctx context.Context, p Product) error
	SampleTitles(ctx context.Context, store string, limit int) ([]string, error)
	LastScraped(ctx context.Context, store string) (time.Time, error)
}

// CategoryStore persists taxonomy nodes discovered by crawl jobs.
type CategoryStore interface {
	UpsertCategory(ctx context.Context, node CategoryNode) error
	ListCategories(ctx context.Context, store string) ([]CategoryNode, error)
}

// LabelStore persists extraction output. ReplaceScope makes extraction
// idempotent: a re-run overwrites the previous pass for that (kind, store).
type LabelStore interface {
	ReplaceScope(ctx context.Context, kind LabelKind, store string, labels []ExtractedLabel) error
	ListLabels(ctx context.Context, kind LabelKind, store string) ([]ExtractedLabel, error)
}

// MappingStore persists label-to-entity mappings.
type MappingStore interface {
	AddMapping(ctx context.Context, m Mapping, overwrite bool) error
	RemoveMapping(ctx context.Context, mappingID string) error
	GetMapping(ctx context.Context, kind LabelKind, store string, label string) (Mapping, error)
	ListMappings(ctx context.Context, kind LabelKind, store string) ([]Mapping, error)
	ValidateMapping(ctx context.Context, mappingID string) error
}

// EntityStore holds the canonical brands and categories mappings target.
type EntityStore interface {
	AddEntity(ctx context.Context, e Entity) error
	ListEntities(ctx context.Context, kind LabelKind) ([]Entity, error)
}

// SecurityStore appends and queries security log events.
type SecurityStore interface {
	AppendEvent(ctx context.Context, evt SecurityEvent) error
	ListEvents(ctx context.Context, limit int) ([]SecurityEvent, error)
	PruneEvents(ctx context.Context, olderThan time.Time) (int, error)
}

// ProxyConfigStore manages the singleton proxy/security configuration
// document.
type ProxyConfigStore interface {
	Load(ctx context.Context) (ProxyConfig, error)
	Save(ctx context.Context, cfg ProxyConfig) error
	BlockIP(ctx context.Context, ip string) error
	UnblockIP(ctx context.Context, ip string) error
}

// ScreenshotStore persists worker screenshots as a best-effort side channel.
type ScreenshotStore interface {
	Put(ctx context.Context, store string, data io.Reader) (string, error)
	Delete(ctx context.Context, store string) error
}

// Publisher pushes job-completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Parser turns fetched HTML into domain objects. Implementations are
// per-store-family since markup differs between retailers.
type Parser interface {
	Categories(store string, body []byte, pageURL string) ([]CategoryNode, error)
	Listing(store string, body []byte, pageURL string) (Listing, error)
}

// HeadlessDetector decides whether a probe result warrants a headless fetch.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// RetryPolicy governs when failed jobs re-enter the queue.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int, maxAttempts int) bool
	Backoff(attempt int) time.Duration
}

// Hasher computes digests for product change detection.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IPInfoResolver looks up geo/network metadata for an IP address. Resolvers
// should tolerate lookup failures; security events are written either way.
type IPInfoResolver interface {
	Resolve(ctx context.Context, ip string) (IPInfo, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job and mapping IDs.
type IDGenerator interface {
	NewID() (string, error)
}
