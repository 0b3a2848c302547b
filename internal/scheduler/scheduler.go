// Package scheduler drives periodic scrape refreshes and retention cleanup.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mercadime/scraperd/internal/scraper"
	"github.com/mercadime/scraperd/internal/security"
)

// Config controls the cron specs and retention windows.
type Config struct {
	RefreshSpec      string
	JanitorSpec      string
	TerminalJobTTL   time.Duration
	DefaultRetention time.Duration
}

// Scheduler enqueues scrape-products jobs for stores whose catalog has gone
// stale and prunes aged terminal jobs, security events and rate counters.
type Scheduler struct {
	queue    scraper.Queue
	settings scraper.SettingsStore
	products scraper.ProductStore
	events   scraper.SecurityStore
	configs  scraper.ProxyConfigStore
	counters *security.CounterStore
	clock    scraper.Clock
	ids      scraper.IDGenerator
	cron     *cron.Cron
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Scheduler.
func New(
	queue scraper.Queue,
	settings scraper.SettingsStore,
	products scraper.ProductStore,
	events scraper.SecurityStore,
	configs scraper.ProxyConfigStore,
	counters *security.CounterStore,
	clock scraper.Clock,
	ids scraper.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RefreshSpec == "" {
		cfg.RefreshSpec = "@every 15m"
	}
	if cfg.JanitorSpec == "" {
		cfg.JanitorSpec = "@every 1h"
	}
	if cfg.TerminalJobTTL <= 0 {
		cfg.TerminalJobTTL = 24 * time.Hour
	}
	if cfg.DefaultRetention <= 0 {
		cfg.DefaultRetention = 30 * 24 * time.Hour
	}
	return &Scheduler{
		queue:    queue,
		settings: settings,
		products: products,
		events:   events,
		configs:  configs,
		counters: counters,
		clock:    clock,
		ids:      ids,
		cron:     cron.New(),
		cfg:      cfg,
		logger:   logger,
	}
}

// Start registers the cron entries and begins running them.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cfg.RefreshSpec, func() { s.RunRefresh(ctx) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.cfg.JanitorSpec, func() { s.RunJanitor(ctx) }); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron loop and waits for running entries.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunRefresh enqueues a scrape-products job for every enabled store whose
// last scrape is older than its update frequency, unless a scrape job is
// already pending or running.
func (s *Scheduler) RunRefresh(ctx context.Context) {
	stores, err := s.settings.Stores(ctx)
	if err != nil {
		s.logger.Error("scheduler list stores", zap.Error(err))
		return
	}
	jobs, err := s.queue.List(ctx)
	if err != nil {
		s.logger.Error("scheduler list jobs", zap.Error(err))
		return
	}
	busy := make(map[string]bool)
	for _, job := range jobs {
		if job.Type == scraper.JobTypeScrapeProducts && !job.Status.IsTerminal() {
			busy[job.Store] = true
		}
	}

	now := s.clock.Now()
	for _, store := range stores {
		if busy[store] {
			continue
		}
		settings, err := s.settings.Settings(ctx, store)
		if err != nil || !settings.Enabled || settings.ProductUpdateFrequency <= 0 {
			continue
		}
		last, err := s.products.LastScraped(ctx, store)
		if err != nil {
			s.logger.Warn("scheduler last scraped", zap.String("store", store), zap.Error(err))
			continue
		}
		if !last.IsZero() && now.Sub(last) < settings.ProductUpdateFrequency {
			continue
		}
		id, err := s.ids.NewID()
		if err != nil {
			s.logger.Error("scheduler id generation", zap.Error(err))
			return
		}
		job := scraper.Job{ID: id, Type: scraper.JobTypeScrapeProducts, Store: store}
		if err := s.queue.Enqueue(ctx, job); err != nil {
			s.logger.Error("scheduler enqueue", zap.String("store", store), zap.Error(err))
			continue
		}
		s.logger.Info("scheduled catalog refresh", zap.String("store", store), zap.String("job_id", id))
	}
}

// RunJanitor applies retention: terminal jobs past their TTL, security
// events past the configured retention, and expired rate counters.
func (s *Scheduler) RunJanitor(ctx context.Context) {
	now := s.clock.Now()

	if pruned, err := s.queue.PruneTerminal(ctx, now.Add(-s.cfg.TerminalJobTTL)); err != nil {
		s.logger.Error("janitor prune jobs", zap.Error(err))
	} else if pruned > 0 {
		s.logger.Info("pruned terminal jobs", zap.Int("count", pruned))
	}

	retention := s.cfg.DefaultRetention
	if cfg, err := s.configs.Load(ctx); err == nil && cfg.RetentionDays > 0 {
		retention = time.Duration(cfg.RetentionDays) * 24 * time.Hour
	}
	if pruned, err := s.events.PruneEvents(ctx, now.Add(-retention)); err != nil {
		s.logger.Error("janitor prune events", zap.Error(err))
	} else if pruned > 0 {
		s.logger.Info("pruned security events", zap.Int("count", pruned))
	}

	if s.counters != nil {
		s.counters.Sweep(now)
	}
}
