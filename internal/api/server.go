// Package api exposes the HTTP interface for the scraper service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mercadime/scraperd/internal/extract"
	"github.com/mercadime/scraperd/internal/mapping"
	"github.com/mercadime/scraperd/internal/scraper"
	"github.com/mercadime/scraperd/internal/security"
	"github.com/mercadime/scraperd/internal/worker"
)

// Config controls HTTP surface behavior.
type Config struct {
	AuthEnabled    bool
	APIKey         string
	RequestTimeout time.Duration
	ScreenshotDir  string
}

// Server wires HTTP handlers to the queue, stores and services.
type Server struct {
	router      chi.Router
	queue       scraper.Queue
	settings    scraper.SettingsStore
	labels      scraper.LabelStore
	entities    scraper.EntityStore
	categories  scraper.CategoryStore
	mappings    *mapping.Service
	extractor   *extract.Extractor
	gate        *security.Gate
	events      scraper.SecurityStore
	configs     scraper.ProxyConfigStore
	screenshots scraper.ScreenshotStore
	logs        *worker.LogBuffer
	ids         scraper.IDGenerator
	clock       scraper.Clock
	cfg         Config
	logger      *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	queue scraper.Queue,
	settings scraper.SettingsStore,
	labels scraper.LabelStore,
	entities scraper.EntityStore,
	categories scraper.CategoryStore,
	mappings *mapping.Service,
	extractor *extract.Extractor,
	gate *security.Gate,
	events scraper.SecurityStore,
	configs scraper.ProxyConfigStore,
	screenshots scraper.ScreenshotStore,
	logs *worker.LogBuffer,
	ids scraper.IDGenerator,
	clock scraper.Clock,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		queue:       queue,
		settings:    settings,
		labels:      labels,
		entities:    entities,
		categories:  categories,
		mappings:    mappings,
		extractor:   extractor,
		gate:        gate,
		events:      events,
		configs:     configs,
		screenshots: screenshots,
		logs:        logs,
		ids:         ids,
		clock:       clock,
		cfg:         cfg,
		logger:      logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	// Probes, metrics and the public screenshot route stay outside the API
	// key group; the screenshot route has the security gate instead.
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	if cfg.ScreenshotDir != "" {
		r.Get("/screenshots/{store}/latest.jpg", s.serveScreenshot)
	}

	r.Group(func(r chi.Router) {
		if cfg.AuthEnabled {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}

		r.Route("/v1/scraper", func(r chi.Router) {
			r.Get("/status", s.getStatus)
			r.Get("/queue", s.getQueue)
			r.Post("/discover-categories", s.submitJob(scraper.JobTypeDiscoverCategories))
			r.Post("/discover-subcategories", s.submitJob(scraper.JobTypeDiscoverSubcategories))
			r.Post("/scrape-products", s.submitJob(scraper.JobTypeScrapeProducts))
			r.Delete("/queue", s.purgeQueue)
			r.Delete("/jobs/{job_id}", s.deleteJob)
			r.Route("/{store}", func(r chi.Router) {
				r.Get("/logs", s.getStoreLogs)
				r.Get("/settings", s.getStoreSettings)
				r.Patch("/settings", s.patchStoreSettings)
				r.Delete("/screenshots", s.deleteScreenshot)
				r.Post("/pause", s.pauseStore)
				r.Post("/resume", s.resumeStore)
				r.Post("/stop", s.stopStore)
			})
		})

		r.Route("/panel/brands/{store}", func(r chi.Router) {
			s.mountPanelRoutes(r, scraper.LabelKindBrand)
		})
		r.Route("/panel/categories/{store}", func(r chi.Router) {
			r.Get("/needing-mapping", s.getCategoriesNeedingMapping)
			s.mountPanelRoutes(r, scraper.LabelKindCategory)
		})

		r.Route("/panel/security", func(r chi.Router) {
			r.Get("/logs", s.getSecurityLogs)
			r.Get("/metrics", s.getSecurityMetrics)
			r.Get("/ip-rules", s.getIPRules)
			r.Put("/ip-rules", s.putIPRules)
			r.Post("/ip-rules/block", s.blockIP)
			r.Post("/ip-rules/unblock", s.unblockIP)
		})
	})

	s.router = r
	return s
}

func (s *Server) mountPanelRoutes(r chi.Router, kind scraper.LabelKind) {
	r.Get("/extracted-labels", s.getExtractedLabels(kind))
	r.Get("/extraction-stats", s.getExtractionStats(kind))
	r.Post("/extract", s.runExtraction(kind))
	r.Get("/mappings", s.getMappings(kind))
	r.Post("/mappings", s.postMapping(kind))
	r.Delete("/mappings/{mapping_id}", s.deleteMapping)
	r.Post("/mappings/{mapping_id}/validate", s.validateMapping)
	r.Post("/auto-map", s.autoMap(kind))
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.queue.Stats(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "queue not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps the error taxonomy onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, scraper.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, scraper.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, scraper.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, scraper.ErrRateLimited):
		status = http.StatusTooManyRequests
	}
	writeError(w, status, err.Error())
}
