// Package app initializes and holds the long-lived application services,
// acting as the dependency injection container for the scraper daemon.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/mercadime/scraperd/internal/api"
	systemclock "github.com/mercadime/scraperd/internal/clock/system"
	"github.com/mercadime/scraperd/internal/config"
	"github.com/mercadime/scraperd/internal/detector"
	"github.com/mercadime/scraperd/internal/extract"
	collyfetcher "github.com/mercadime/scraperd/internal/fetcher/colly"
	"github.com/mercadime/scraperd/internal/fetcher/headless"
	sha256hash "github.com/mercadime/scraperd/internal/hash/sha256"
	uuidgen "github.com/mercadime/scraperd/internal/id/uuid"
	"github.com/mercadime/scraperd/internal/mapping"
	"github.com/mercadime/scraperd/internal/parse"
	pubmem "github.com/mercadime/scraperd/internal/publisher/memory"
	pubgcp "github.com/mercadime/scraperd/internal/publisher/pubsub"
	queuemem "github.com/mercadime/scraperd/internal/queue/memory"
	"github.com/mercadime/scraperd/internal/scheduler"
	"github.com/mercadime/scraperd/internal/scraper"
	"github.com/mercadime/scraperd/internal/screenshot"
	"github.com/mercadime/scraperd/internal/security"
	"github.com/mercadime/scraperd/internal/storage/memory"
	"github.com/mercadime/scraperd/internal/storage/postgres"
	"github.com/mercadime/scraperd/internal/worker"
)

// App holds every long-lived service the daemon runs: stores, the job
// queue, the worker pool, the scheduler and the HTTP server.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	queue     *queuemem.Queue
	pool      *worker.Pool
	scheduler *scheduler.Scheduler
	server    *api.Server
	httpSrv   *http.Server

	pgPool       *pgxpool.Pool
	pubsubClient *pubsub.Client
	gcsClient    *gcs.Client
}

// New builds the full service graph from configuration. It fails fast when a
// backing service cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	clock := systemclock.New()
	ids := uuidgen.NewUUIDGenerator()
	hasher := sha256hash.New()

	a := &App{cfg: cfg, logger: logger}

	var (
		settings    scraper.SettingsStore
		products    scraper.ProductStore
		categories  scraper.CategoryStore
		labels      scraper.LabelStore
		mappings    scraper.MappingStore
		entities    scraper.EntityStore
		events      scraper.SecurityStore
		proxyConfig scraper.ProxyConfigStore
		jobJournal  scraper.JobStore
	)

	switch cfg.DB.Provider {
	case "postgres":
		pool, err := postgres.NewPool(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.pgPool = pool

		settingsStore, err := postgres.NewSettingsStore(pool, memory.DefaultStoreSettings())
		if err != nil {
			return nil, err
		}
		catalog, err := postgres.NewCatalogStore(pool)
		if err != nil {
			return nil, err
		}
		mappingStore, err := postgres.NewMappingStore(pool)
		if err != nil {
			return nil, err
		}
		securityStore, err := postgres.NewSecurityStore(pool)
		if err != nil {
			return nil, err
		}
		proxyStore, err := postgres.NewProxyConfigStore(pool, clock)
		if err != nil {
			return nil, err
		}
		jobStore, err := postgres.NewJobStore(pool)
		if err != nil {
			return nil, err
		}
		settings = settingsStore
		products = catalog
		categories = catalog
		labels = mappingStore
		mappings = mappingStore
		entities = mappingStore
		events = securityStore
		proxyConfig = proxyStore
		jobJournal = jobStore
		if err := seedStores(ctx, settings, cfg.Stores); err != nil {
			return nil, err
		}
	case "memory":
		settings = memory.NewSettingsStore(storeSeeds(cfg.Stores))
		products = memory.NewProductStore()
		categories = memory.NewCategoryStore()
		labels = memory.NewLabelStore()
		mappings = memory.NewMappingStore()
		entities = memory.NewEntityStore(nil)
		events = memory.NewSecurityStore()
		proxyConfig = memory.NewProxyConfigStore(clock)
	default:
		return nil, fmt.Errorf("unknown db provider %q", cfg.DB.Provider)
	}

	var screenshots scraper.ScreenshotStore
	switch cfg.Screenshots.Provider {
	case "local":
		store, err := screenshot.NewLocal(screenshot.LocalConfig{BaseDir: cfg.Screenshots.Dir})
		if err != nil {
			return nil, fmt.Errorf("init screenshot store: %w", err)
		}
		screenshots = store
	case "gcs":
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.gcsClient = client
		store, err := screenshot.NewGCS(client, screenshot.GCSConfig{Bucket: cfg.Screenshots.GCSBucket})
		if err != nil {
			return nil, err
		}
		screenshots = store
	case "none":
		screenshots = nil
	}

	var publisher scraper.Publisher
	if cfg.PubSub.Enabled {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("init pubsub client: %w", err)
		}
		a.pubsubClient = client
		publisher = pubgcp.New(client)
	} else {
		publisher = pubmem.New()
	}

	policy := scraper.NewExponentialRetryPolicy(30*time.Second, 10*time.Minute)
	if jobJournal != nil {
		q, err := queuemem.NewDurable(ctx, settings, policy, clock, jobJournal, logger)
		if err != nil {
			return nil, fmt.Errorf("restore job queue: %w", err)
		}
		a.queue = q
	} else {
		a.queue = queuemem.New(settings, policy, clock, logger)
	}

	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Fetcher.UserAgent,
		Timeout:   time.Duration(cfg.Fetcher.TimeoutSeconds) * time.Second,
	})

	var headlessFetcher scraper.Fetcher
	if cfg.Headless.Enabled {
		f, err := headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Fetcher.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			ScreenshotQuality: cfg.Headless.ScreenshotQuality,
		})
		if err != nil {
			return nil, fmt.Errorf("init headless fetcher: %w", err)
		}
		headlessFetcher = f
	} else {
		headlessFetcher = headless.NewNoop()
	}

	parser := parse.New(nil)
	promote := detector.NewHeuristic(cfg.Detector.MinHTMLBytes, cfg.Detector.Selectors, cfg.Detector.Keywords)
	pacer := worker.NewPacer()
	logs := worker.NewLogBuffer(worker.DefaultLogCapacity)

	workers := make([]*worker.Worker, cfg.Worker.Count)
	for i := range workers {
		workers[i] = worker.New(
			a.queue, settings, products, categories, screenshots,
			publisher, parser, probe, headlessFetcher, promote,
			hasher, clock, pacer, logs,
			worker.Config{
				Topic:          cfg.PubSub.Topic,
				MaxListingPage: cfg.Worker.MaxListingPage,
			},
			logger.Named("worker"),
		)
	}
	a.pool = worker.NewPool(workers)

	counters := security.NewCounterStore()
	var ipInfo scraper.IPInfoResolver
	if cfg.Security.IPInfoEnabled {
		ipInfo = security.NewHTTPResolver(nil, cfg.Security.IPInfoEndpoint)
	}
	gate := security.NewGate(proxyConfig, counters, events, ipInfo, clock, ids, logger.Named("security"))

	mappingSvc := mapping.NewService(mappings, labels, entities, clock, ids, logger.Named("mapping"), cfg.Mapping.AutoAcceptThreshold)
	extractor := extract.New(products, categories, labels, clock, extract.Config{SampleSize: cfg.Extraction.SampleSize}, logger.Named("extract"))

	a.scheduler = scheduler.New(
		a.queue, settings, products, events, proxyConfig, counters, clock, ids,
		scheduler.Config{
			RefreshSpec:      cfg.Scheduler.RefreshSpec,
			JanitorSpec:      cfg.Scheduler.JanitorSpec,
			TerminalJobTTL:   time.Duration(cfg.Scheduler.TerminalJobTTLHrs) * time.Hour,
			DefaultRetention: time.Duration(cfg.Scheduler.EventRetentionDays) * 24 * time.Hour,
		},
		logger.Named("scheduler"),
	)

	screenshotDir := ""
	if cfg.Screenshots.Provider == "local" {
		screenshotDir = cfg.Screenshots.Dir
	}
	a.server = api.NewServer(
		a.queue, settings, labels, entities, categories,
		mappingSvc, extractor, gate, events, proxyConfig,
		screenshots, logs, ids, clock,
		api.Config{
			AuthEnabled:    cfg.Auth.Enabled,
			APIKey:         cfg.Auth.APIKey,
			RequestTimeout: cfg.RequestTimeout(),
			ScreenshotDir:  screenshotDir,
		},
		logger.Named("api"),
	)
	a.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// Run starts the worker pool, the scheduler and the HTTP server, then blocks
// until the context is cancelled or the listener fails.
func (a *App) Run(ctx context.Context) error {
	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		a.pool.Run(ctx)
	}()
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", zap.String("addr", a.httpSrv.Addr))
		if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown failed", zap.Error(err))
	}
	a.scheduler.Stop()
	<-poolDone
	return nil
}

// Close releases external clients.
func (a *App) Close() {
	if a.pgPool != nil {
		a.pgPool.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func storeSeeds(stores map[string]config.StoreConfig) map[string]scraper.StoreSettings {
	seeds := make(map[string]scraper.StoreSettings, len(stores))
	for name, sc := range stores {
		seeds[name] = settingsFromConfig(sc)
	}
	return seeds
}

// seedStores creates settings rows for configured stores that the database
// does not know yet. Existing rows keep their runtime-edited values.
func seedStores(ctx context.Context, settings scraper.SettingsStore, stores map[string]config.StoreConfig) error {
	known, err := settings.Stores(ctx)
	if err != nil {
		return fmt.Errorf("list stores: %w", err)
	}
	existing := make(map[string]bool, len(known))
	for _, s := range known {
		existing[s] = true
	}
	for name, sc := range stores {
		if existing[name] {
			continue
		}
		if err := settings.UpdateSettings(ctx, name, settingsFromConfig(sc)); err != nil {
			return fmt.Errorf("seed store %s: %w", name, err)
		}
	}
	return nil
}

func settingsFromConfig(sc config.StoreConfig) scraper.StoreSettings {
	s := memory.DefaultStoreSettings()
	s.Enabled = sc.Enabled
	s.BaseURL = sc.BaseURL
	s.HeadlessAllowed = sc.HeadlessAllowed
	if sc.MaxConcurrency > 0 {
		s.MaxConcurrency = sc.MaxConcurrency
	}
	if sc.RetryCount > 0 {
		s.RetryCount = sc.RetryCount
	}
	if sc.DelayMS > 0 {
		s.DelayBetweenRequests = time.Duration(sc.DelayMS) * time.Millisecond
	}
	if sc.UpdateFrequencyHrs > 0 {
		s.ProductUpdateFrequency = time.Duration(sc.UpdateFrequencyHrs) * time.Hour
	}
	if sc.JobTimeoutMinutes > 0 {
		s.JobTimeout = time.Duration(sc.JobTimeoutMinutes) * time.Minute
	}
	return s
}
