// Package worker implements the scrape pipeline execution loop.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mercadime/scraperd/internal/scraper"
	"github.com/mercadime/scraperd/internal/telemetry"
)

// Config controls Worker behavior.
type Config struct {
	Topic          string
	MaxListingPage int
	DefaultTimeout time.Duration
}

var errJobCancelled = errors.New("job cancelled")

// Worker consumes queue jobs and executes the scrape pipeline for its type:
// taxonomy discovery or product scraping.
type Worker struct {
	queue           scraper.Queue
	settings        scraper.SettingsStore
	products        scraper.ProductStore
	categories      scraper.CategoryStore
	screenshots     scraper.ScreenshotStore
	publisher       scraper.Publisher
	parser          scraper.Parser
	probeFetcher    scraper.Fetcher
	headlessFetcher scraper.Fetcher
	detector        scraper.HeadlessDetector
	hasher          scraper.Hasher
	clock           scraper.Clock
	pacer           *Pacer
	logs            *LogBuffer
	cfg             Config
	logger          *zap.Logger

	// shotTaken tracks whether the current job already persisted a
	// screenshot. A worker runs one job at a time.
	shotTaken bool
}

// New constructs a Worker.
func New(
	queue scraper.Queue,
	settings scraper.SettingsStore,
	products scraper.ProductStore,
	categories scraper.CategoryStore,
	screenshots scraper.ScreenshotStore,
	publisher scraper.Publisher,
	parser scraper.Parser,
	probe scraper.Fetcher,
	headless scraper.Fetcher,
	detector scraper.HeadlessDetector,
	hasher scraper.Hasher,
	clock scraper.Clock,
	pacer *Pacer,
	logs *LogBuffer,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxListingPage <= 0 {
		cfg.MaxListingPage = 50
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 15 * time.Minute
	}
	if pacer == nil {
		pacer = NewPacer()
	}
	if logs == nil {
		logs = NewLogBuffer(DefaultLogCapacity)
	}
	return &Worker{
		queue:           queue,
		settings:        settings,
		products:        products,
		categories:      categories,
		screenshots:     screenshots,
		publisher:       publisher,
		parser:          parser,
		probeFetcher:    probe,
		headlessFetcher: headless,
		detector:        detector,
		hasher:          hasher,
		clock:           clock,
		pacer:           pacer,
		logs:            logs,
		cfg:             cfg,
		logger:          logger,
	}
}

// Run blocks, consuming queue jobs until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job",
			zap.String("job_id", job.ID),
			zap.String("store", job.Store),
			zap.String("type", string(job.Type)),
		)
		w.processJob(ctx, job)
	}
}

func (w *Worker) processJob(ctx context.Context, job scraper.Job) {
	settings, err := w.settings.Settings(ctx, job.Store)
	if err != nil {
		w.failJob(ctx, job, fmt.Sprintf("load settings: %v", err))
		return
	}

	timeout := settings.JobTimeout
	if timeout <= 0 {
		timeout = w.cfg.DefaultTimeout
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	w.shotTaken = false
	counters := scraper.JobCounters{}
	switch job.Type {
	case scraper.JobTypeDiscoverCategories:
		err = w.discoverCategories(jobCtx, job, settings, &counters)
	case scraper.JobTypeDiscoverSubcategories:
		err = w.discoverSubcategories(jobCtx, job, settings, &counters)
	case scraper.JobTypeScrapeProducts:
		err = w.scrapeProducts(jobCtx, job, settings, &counters)
	default:
		err = fmt.Errorf("unknown job type %q", job.Type)
	}

	switch {
	case errors.Is(err, errJobCancelled):
		w.logLine(job.Store, scraper.LogLevelWarn, "job cancelled", map[string]string{"job_id": job.ID})
		if ferr := w.queue.Fail(ctx, job.ID, scraper.FailedReasonCancelled); ferr != nil {
			w.logger.Error("fail cancelled job", zap.String("job_id", job.ID), zap.Error(ferr))
		}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(jobCtx.Err(), context.DeadlineExceeded):
		w.failJob(ctx, job, "job timeout exceeded")
	case err != nil:
		w.failJob(ctx, job, err.Error())
	default:
		w.captureScreenshot(jobCtx, job, settings)
		if cerr := w.queue.Complete(ctx, job.ID, counters); cerr != nil {
			w.logger.Error("complete job", zap.String("job_id", job.ID), zap.Error(cerr))
			return
		}
		w.logLine(job.Store, scraper.LogLevelInfo, "job completed", map[string]string{
			"job_id": job.ID,
			"type":   string(job.Type),
		})
		telemetry.JobsCompleted.WithLabelValues(job.Store, string(job.Type)).Inc()
		telemetry.PagesFetched.WithLabelValues(job.Store).Add(float64(counters.PagesFetched))
		telemetry.ProductsUpserted.WithLabelValues(job.Store).Add(float64(counters.ProductsUpserted))
		w.publishCompletion(ctx, job, counters)
	}
}

func (w *Worker) failJob(ctx context.Context, job scraper.Job, reason string) {
	w.logLine(job.Store, scraper.LogLevelError, "job failed", map[string]string{
		"job_id": job.ID,
		"reason": reason,
	})
	telemetry.JobsFailed.WithLabelValues(job.Store, string(job.Type)).Inc()
	if err := w.queue.Fail(ctx, job.ID, reason); err != nil {
		w.logger.Error("fail job", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (w *Worker) discoverCategories(
	ctx context.Context,
	job scraper.Job,
	settings scraper.StoreSettings,
	counters *scraper.JobCounters,
) error {
	resp, err := w.fetchPage(ctx, job, settings, settings.BaseURL)
	if err != nil {
		return err
	}
	counters.PagesFetched++

	nodes, err := w.parser.Categories(job.Store, resp.Body, resp.URL)
	if err != nil {
		return fmt.Errorf("parse categories: %w", err)
	}
	for _, node := range nodes {
		node.Store = job.Store
		node.DiscoveredAt = w.clock.Now().UTC()
		if err := w.categories.UpsertCategory(ctx, node); err != nil {
			counters.ErrorCount++
			w.logLine(job.Store, scraper.LogLevelWarn, "category upsert failed", map[string]string{
				"path":  node.Path,
				"error": err.Error(),
			})
			continue
		}
		counters.CategoriesFound++
	}
	if counters.CategoriesFound == 0 {
		return fmt.Errorf("no categories found at %s", settings.BaseURL)
	}
	return nil
}

func (w *Worker) discoverSubcategories(
	ctx context.Context,
	job scraper.Job,
	settings scraper.StoreSettings,
	counters *scraper.JobCounters,
) error {
	nodes, err := w.categories.ListCategories(ctx, job.Store)
	if err != nil {
		return fmt.Errorf("list categories: %w", err)
	}
	var roots []scraper.CategoryNode
	for _, node := range nodes {
		if node.Parent == "" {
			roots = append(roots, node)
		}
	}
	if len(roots) == 0 {
		return fmt.Errorf("no top-level categories discovered for %s", job.Store)
	}

	for _, root := range roots {
		if w.queue.Cancelled(job.ID) {
			return errJobCancelled
		}
		resp, err := w.fetchPage(ctx, job, settings, root.URL)
		if err != nil {
			return err
		}
		counters.PagesFetched++

		children, err := w.parser.Categories(job.Store, resp.Body, resp.URL)
		if err != nil {
			counters.ErrorCount++
			w.logLine(job.Store, scraper.LogLevelWarn, "subcategory parse failed", map[string]string{
				"path":  root.Path,
				"error": err.Error(),
			})
			continue
		}
		for _, child := range children {
			child.Store = job.Store
			child.Parent = root.Path
			child.DiscoveredAt = w.clock.Now().UTC()
			if err := w.categories.UpsertCategory(ctx, child); err != nil {
				counters.ErrorCount++
				continue
			}
			counters.CategoriesFound++
		}
	}
	return nil
}

func (w *Worker) scrapeProducts(
	ctx context.Context,
	job scraper.Job,
	settings scraper.StoreSettings,
	counters *scraper.JobCounters,
) error {
	nodes, err := w.categories.ListCategories(ctx, job.Store)
	if err != nil {
		return fmt.Errorf("list categories: %w", err)
	}
	leaves := leafCategories(nodes)
	if len(leaves) == 0 {
		return fmt.Errorf("no categories to scrape for %s", job.Store)
	}

	for _, leaf := range leaves {
		if err := w.scrapeListing(ctx, job, settings, leaf, counters); err != nil {
			return err
		}
	}
	if counters.ProductsUpserted == 0 {
		return fmt.Errorf("no products scraped for %s", job.Store)
	}
	return nil
}

func (w *Worker) scrapeListing(
	ctx context.Context,
	job scraper.Job,
	settings scraper.StoreSettings,
	leaf scraper.CategoryNode,
	counters *scraper.JobCounters,
) error {
	url := leaf.URL
	for page := 0; url != "" && page < w.cfg.MaxListingPage; page++ {
		if w.queue.Cancelled(job.ID) {
			return errJobCancelled
		}
		resp, err := w.fetchPage(ctx, job, settings, url)
		if err != nil {
			return err
		}
		counters.PagesFetched++

		listing, err := w.parser.Listing(job.Store, resp.Body, resp.URL)
		if err != nil {
			counters.ErrorCount++
			w.logLine(job.Store, scraper.LogLevelWarn, "listing parse failed", map[string]string{
				"url":   url,
				"error": err.Error(),
			})
			return nil
		}
		for _, p := range listing.Products {
			if err := w.upsertProduct(ctx, job, leaf, p); err != nil {
				counters.ErrorCount++
				w.logLine(job.Store, scraper.LogLevelWarn, "product upsert failed", map[string]string{
					"external_id": p.ExternalID,
					"error":       err.Error(),
				})
				continue
			}
			counters.ProductsUpserted++
		}
		url = listing.NextPage
	}
	return nil
}

func (w *Worker) upsertProduct(ctx context.Context, job scraper.Job, leaf scraper.CategoryNode, p scraper.Product) error {
	p.Store = job.Store
	if p.Category == "" {
		p.Category = leaf.Path
	}
	p.ScrapedAt = w.clock.Now().UTC()
	hash, err := w.hasher.Hash(fmt.Appendf(nil, "%s|%s|%d|%s", p.Title, p.Brand, p.PriceCents, p.URL))
	if err != nil {
		return fmt.Errorf("hash product: %w", err)
	}
	p.ContentHash = hash
	return w.products.UpsertProduct(ctx, p)
}

// fetchPage runs the probe fetch, promotes to headless when the detector
// fires, and persists any screenshot the headless pass produced.
func (w *Worker) fetchPage(
	ctx context.Context,
	job scraper.Job,
	settings scraper.StoreSettings,
	url string,
) (scraper.FetchResponse, error) {
	if url == "" {
		return scraper.FetchResponse{}, fmt.Errorf("empty url for store %s", job.Store)
	}
	if err := w.pacer.Wait(ctx, job.Store, settings.DelayBetweenRequests); err != nil {
		return scraper.FetchResponse{}, err
	}

	resp, err := w.probeFetcher.Fetch(ctx, scraper.FetchRequest{
		JobID: job.ID,
		Store: job.Store,
		URL:   url,
	})
	if err != nil {
		return scraper.FetchResponse{}, fmt.Errorf("probe fetch %s: %w", url, err)
	}

	if promoted, ok := w.maybePromote(ctx, job, settings, url, resp); ok {
		resp = promoted
		w.logLine(job.Store, scraper.LogLevelDebug, "headless promotion applied", map[string]string{"url": url})
	}

	if resp.UsedHeadless && len(resp.Screenshot) > 0 && w.screenshots != nil {
		if _, err := w.screenshots.Put(ctx, job.Store, bytes.NewReader(resp.Screenshot)); err != nil {
			w.logger.Warn("screenshot persist failed", zap.String("store", job.Store), zap.Error(err))
		} else {
			w.shotTaken = true
		}
	}
	return resp, nil
}

// captureScreenshot renders the store's landing page once per job so the
// latest screenshot stays fresh even when no page needed headless promotion.
func (w *Worker) captureScreenshot(ctx context.Context, job scraper.Job, settings scraper.StoreSettings) {
	if w.shotTaken || w.screenshots == nil || w.headlessFetcher == nil {
		return
	}
	if !settings.HeadlessAllowed || settings.BaseURL == "" {
		return
	}
	resp, err := w.headlessFetcher.Fetch(ctx, scraper.FetchRequest{
		JobID:       job.ID,
		Store:       job.Store,
		URL:         settings.BaseURL,
		UseHeadless: true,
	})
	if err != nil {
		w.logger.Debug("screenshot capture failed", zap.String("store", job.Store), zap.Error(err))
		return
	}
	if len(resp.Screenshot) == 0 {
		return
	}
	if _, err := w.screenshots.Put(ctx, job.Store, bytes.NewReader(resp.Screenshot)); err != nil {
		w.logger.Warn("screenshot persist failed", zap.String("store", job.Store), zap.Error(err))
		return
	}
	w.shotTaken = true
}

func (w *Worker) maybePromote(
	ctx context.Context,
	job scraper.Job,
	settings scraper.StoreSettings,
	url string,
	resp scraper.FetchResponse,
) (scraper.FetchResponse, bool) {
	if !settings.HeadlessAllowed || w.detector == nil || w.headlessFetcher == nil {
		return resp, false
	}
	if !w.detector.ShouldPromote(resp) {
		return resp, false
	}
	headlessResp, err := w.headlessFetcher.Fetch(ctx, scraper.FetchRequest{
		JobID:       job.ID,
		Store:       job.Store,
		URL:         url,
		UseHeadless: true,
	})
	if err != nil {
		w.logger.Warn("headless promotion failed", zap.String("url", url), zap.Error(err))
		return resp, false
	}
	headlessResp.UsedHeadless = true
	telemetry.HeadlessPromotions.Inc()
	return headlessResp, true
}

func (w *Worker) publishCompletion(ctx context.Context, job scraper.Job, counters scraper.JobCounters) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	payload := map[string]any{
		"job_id":            job.ID,
		"store":             job.Store,
		"type":              string(job.Type),
		"pages_fetched":     counters.PagesFetched,
		"products_upserted": counters.ProductsUpserted,
		"categories_found":  counters.CategoriesFound,
		"error_count":       counters.ErrorCount,
		"timestamp":         w.clock.Now().UTC().Format(time.RFC3339),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		w.logger.Error("publish completion", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// logLine writes one line to both zap and the store's ring buffer.
func (w *Worker) logLine(store string, level scraper.LogLevel, msg string, details map[string]string) {
	w.logs.Append(store, scraper.LogLine{
		Timestamp: w.clock.Now().UTC(),
		Level:     level,
		Message:   msg,
		Details:   details,
	})
	fields := make([]zap.Field, 0, len(details)+1)
	fields = append(fields, zap.String("store", store))
	for k, v := range details {
		fields = append(fields, zap.String(k, v))
	}
	switch level {
	case scraper.LogLevelError:
		w.logger.Error(msg, fields...)
	case scraper.LogLevelWarn:
		w.logger.Warn(msg, fields...)
	case scraper.LogLevelDebug:
		w.logger.Debug(msg, fields...)
	default:
		w.logger.Info(msg, fields...)
	}
}

// Logs exposes the ring buffer so the API can serve per-store logs.
func (w *Worker) Logs() *LogBuffer { return w.logs }

func leafCategories(nodes []scraper.CategoryNode) []scraper.CategoryNode {
	hasChild := make(map[string]bool, len(nodes))
	for _, node := range nodes {
		if node.Parent != "" {
			hasChild[node.Parent] = true
		}
	}
	var leaves []scraper.CategoryNode
	for _, node := range nodes {
		if !hasChild[node.Path] {
			leaves = append(leaves, node)
		}
	}
	return leaves
}
