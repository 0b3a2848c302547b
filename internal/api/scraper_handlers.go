package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mercadime/scraperd/internal/scraper"
)

type submitJobRequest struct {
	Store string `json:"store"`
}

// submitJob enqueues one job of the given type for a store.
func (s *Server) submitJob(jobType scraper.JobType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Store == "" {
			writeError(w, http.StatusBadRequest, "store is required")
			return
		}
		id, err := s.ids.NewID()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "generate job id")
			return
		}
		job := scraper.Job{ID: id, Type: jobType, Store: req.Store}
		if err := s.queue.Enqueue(r.Context(), job); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id})
	}
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Stats(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	stores, err := s.settings.Stores(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	storeStates := make([]map[string]any, 0, len(stores))
	for _, store := range stores {
		settings, err := s.settings.Settings(r.Context(), store)
		if err != nil {
			continue
		}
		storeStates = append(storeStates, map[string]any{
			"store":   store,
			"enabled": settings.Enabled,
			"paused":  s.queue.Paused(store),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"queue":  stats,
		"stores": storeStates,
		"time":   s.clock.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) getQueue(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.queue.List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) purgeQueue(w http.ResponseWriter, r *http.Request) {
	removed, err := s.queue.Purge(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// deleteJob cancels a pending or active job; a job already in a terminal
// state is removed from the queue instead.
func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	err := s.queue.Cancel(r.Context(), jobID)
	if errors.Is(err, scraper.ErrConflict) {
		err = s.queue.Remove(r.Context(), jobID)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID})
}

func (s *Server) getStoreLogs(w http.ResponseWriter, r *http.Request) {
	store := chi.URLParam(r, "store")
	writeJSON(w, http.StatusOK, map[string]any{
		"store": store,
		"lines": s.logs.Lines(store),
	})
}

func (s *Server) getStoreSettings(w http.ResponseWriter, r *http.Request) {
	store := chi.URLParam(r, "store")
	settings, err := s.settings.Settings(r.Context(), store)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

type patchSettingsRequest struct {
	Enabled                *bool   `json:"enabled"`
	BaseURL                *string `json:"base_url"`
	MaxConcurrency         *int    `json:"max_concurrency"`
	RetryCount             *int    `json:"retry_count"`
	DelayBetweenRequestsMS *int64  `json:"delay_between_requests_ms"`
	ProductUpdateFreqHours *int    `json:"product_update_frequency_hours"`
	JobTimeoutMinutes      *int    `json:"job_timeout_minutes"`
	HeadlessAllowed        *bool   `json:"headless_allowed"`
}

func (s *Server) patchStoreSettings(w http.ResponseWriter, r *http.Request) {
	store := chi.URLParam(r, "store")
	var req patchSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	settings, err := s.settings.Settings(r.Context(), store)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if req.Enabled != nil {
		settings.Enabled = *req.Enabled
	}
	if req.BaseURL != nil {
		settings.BaseURL = *req.BaseURL
	}
	if req.MaxConcurrency != nil {
		settings.MaxConcurrency = *req.MaxConcurrency
	}
	if req.RetryCount != nil {
		settings.RetryCount = *req.RetryCount
	}
	if req.DelayBetweenRequestsMS != nil {
		settings.DelayBetweenRequests = time.Duration(*req.DelayBetweenRequestsMS) * time.Millisecond
	}
	if req.ProductUpdateFreqHours != nil {
		settings.ProductUpdateFrequency = time.Duration(*req.ProductUpdateFreqHours) * time.Hour
	}
	if req.JobTimeoutMinutes != nil {
		settings.JobTimeout = time.Duration(*req.JobTimeoutMinutes) * time.Minute
	}
	if req.HeadlessAllowed != nil {
		settings.HeadlessAllowed = *req.HeadlessAllowed
	}
	if err := s.settings.UpdateSettings(r.Context(), store, settings); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) deleteScreenshot(w http.ResponseWriter, r *http.Request) {
	store := chi.URLParam(r, "store")
	if s.screenshots == nil {
		writeError(w, http.StatusNotFound, "screenshots not configured")
		return
	}
	if err := s.screenshots.Delete(r.Context(), store); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) pauseStore(w http.ResponseWriter, r *http.Request) {
	store := chi.URLParam(r, "store")
	s.queue.PauseStore(store)
	writeJSON(w, http.StatusOK, map[string]any{"store": store, "paused": true})
}

func (s *Server) resumeStore(w http.ResponseWriter, r *http.Request) {
	store := chi.URLParam(r, "store")
	s.queue.ResumeStore(store)
	writeJSON(w, http.StatusOK, map[string]any{"store": store, "paused": false})
}

func (s *Server) stopStore(w http.ResponseWriter, r *http.Request) {
	store := chi.URLParam(r, "store")
	stopped, err := s.queue.StopStore(r.Context(), store)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"store": store, "stopped": stopped})
}

// serveScreenshot runs the security gate before handing out the image.
func (s *Server) serveScreenshot(w http.ResponseWriter, r *http.Request) {
	store := chi.URLParam(r, "store")
	if s.gate != nil {
		decision, err := s.gate.Check(r.Context(), gateRequestInfo(r))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if !decision.Allowed {
			recordBlocked(decision.Reason)
			status := http.StatusTooManyRequests
			if decision.State == scraper.VisitorIPBlocked {
				status = http.StatusForbidden
			}
			writeError(w, status, decision.Reason)
			return
		}
	}
	http.ServeFile(w, r, fmt.Sprintf("%s/%s/latest.jpg", s.cfg.ScreenshotDir, store))
}
