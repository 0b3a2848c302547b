package api

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mercadime/scraperd/internal/mapping"
	"github.com/mercadime/scraperd/internal/scraper"
	"github.com/mercadime/scraperd/internal/security"
	"github.com/mercadime/scraperd/internal/telemetry"
)

func (s *Server) getExtractedLabels(kind scraper.LabelKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		store := chi.URLParam(r, "store")
		labels, err := s.labels.ListLabels(r.Context(), kind, store)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"labels": labels})
	}
}

func (s *Server) getExtractionStats(kind scraper.LabelKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		store := chi.URLParam(r, "store")
		labels, err := s.labels.ListLabels(r.Context(), kind, store)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		var totalFreq int
		var sumConfidence float64
		var lastExtracted time.Time
		for _, l := range labels {
			totalFreq += l.Frequency
			sumConfidence += l.Confidence
			if l.LastExtracted.After(lastExtracted) {
				lastExtracted = l.LastExtracted
			}
		}
		stats := map[string]any{
			"label_count":     len(labels),
			"total_frequency": totalFreq,
		}
		if len(labels) > 0 {
			stats["avg_confidence"] = sumConfidence / float64(len(labels))
			stats["last_extracted"] = lastExtracted
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func (s *Server) runExtraction(kind scraper.LabelKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		store := chi.URLParam(r, "store")
		result, err := s.extractor.Run(r.Context(), kind, []string{store})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if failure, ok := result.FailedStores[store]; ok {
			writeDomainError(w, failure)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) getMappings(kind scraper.LabelKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		store := chi.URLParam(r, "store")
		mappings, err := s.mappings.List(r.Context(), kind, store)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"mappings": mappings})
	}
}

type postMappingRequest struct {
	ExtractedLabel string  `json:"extracted_label"`
	MappedEntityID string  `json:"mapped_entity_id"`
	Confidence     float64 `json:"confidence"`
	Overwrite      bool    `json:"overwrite"`
}

func (s *Server) postMapping(kind scraper.LabelKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		store := chi.URLParam(r, "store")
		var req postMappingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		m, err := s.mappings.Add(r.Context(), mapping.AddRequest{
			Kind:           kind,
			Store:          store,
			ExtractedLabel: req.ExtractedLabel,
			MappedEntityID: req.MappedEntityID,
			Confidence:     req.Confidence,
			Method:         scraper.MappingMethodManual,
			Overwrite:      req.Overwrite,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, m)
	}
}

func (s *Server) deleteMapping(w http.ResponseWriter, r *http.Request) {
	mappingID := chi.URLParam(r, "mapping_id")
	if err := s.mappings.Remove(r.Context(), mappingID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) validateMapping(w http.ResponseWriter, r *http.Request) {
	mappingID := chi.URLParam(r, "mapping_id")
	if err := s.mappings.Validate(r.Context(), mappingID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mapping_id": mappingID, "validated": true})
}

func (s *Server) autoMap(kind scraper.LabelKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		store := chi.URLParam(r, "store")
		result, err := s.mappings.AutoMap(r.Context(), kind, store)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// getCategoriesNeedingMapping lists discovered taxonomy nodes with no mapping
// to a canonical category.
func (s *Server) getCategoriesNeedingMapping(w http.ResponseWriter, r *http.Request) {
	store := chi.URLParam(r, "store")
	nodes, err := s.categories.ListCategories(r.Context(), store)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	mappings, err := s.mappings.List(r.Context(), scraper.LabelKindCategory, store)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	mapped := make(map[string]struct{}, len(mappings))
	for _, m := range mappings {
		mapped[strings.ToLower(m.ExtractedLabel)] = struct{}{}
	}
	unmapped := make([]scraper.CategoryNode, 0)
	for _, node := range nodes {
		if _, ok := mapped[strings.ToLower(node.Name)]; !ok {
			unmapped = append(unmapped, node)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": unmapped})
}

func (s *Server) getSecurityLogs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	events, err := s.events.ListEvents(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// getSecurityMetrics aggregates the security log by event type and visitor
// state.
func (s *Server) getSecurityMetrics(w http.ResponseWriter, r *http.Request) {
	events, err := s.events.ListEvents(r.Context(), 0)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	byType := make(map[string]int)
	byState := make(map[string]int)
	blocked := 0
	for _, evt := range events {
		byType[evt.EventType]++
		byState[string(evt.VisitorState)]++
		if evt.EventType != security.EventRequestAllowed && evt.EventType != security.EventWhitelistBypass {
			blocked++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_events":   len(events),
		"blocked_events": blocked,
		"by_event_type":  byType,
		"by_state":       byState,
	})
}

func (s *Server) getIPRules(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.configs.Load(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) putIPRules(w http.ResponseWriter, r *http.Request) {
	var cfg scraper.ProxyConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := validateProxyConfig(cfg); err != nil {
		writeDomainError(w, err)
		return
	}
	cfg.UpdatedAt = s.clock.Now()
	if err := s.configs.Save(r.Context(), cfg); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func validateProxyConfig(cfg scraper.ProxyConfig) error {
	if cfg.RateLimitPerMinute < 0 || cfg.RateLimitPerHour < 0 || cfg.RateLimitPerDay < 0 {
		return fmt.Errorf("%w: rate limits must be non-negative", scraper.ErrValidation)
	}
	if cfg.AutoBlockThreshold < 0 {
		return fmt.Errorf("%w: auto block threshold must be non-negative", scraper.ErrValidation)
	}
	for _, ip := range append(append([]string{}, cfg.Blacklist...), cfg.Whitelist...) {
		if net.ParseIP(strings.TrimSpace(ip)) == nil {
			return fmt.Errorf("%w: malformed ip %q in rules", scraper.ErrValidation, ip)
		}
	}
	return nil
}

type ipRequest struct {
	IP string `json:"ip"`
}

func (s *Server) blockIP(w http.ResponseWriter, r *http.Request) {
	ip, ok := decodeIP(w, r)
	if !ok {
		return
	}
	if err := s.configs.BlockIP(r.Context(), ip); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ip": ip, "blocked": true})
}

func (s *Server) unblockIP(w http.ResponseWriter, r *http.Request) {
	ip, ok := decodeIP(w, r)
	if !ok {
		return
	}
	if err := s.configs.UnblockIP(r.Context(), ip); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ip": ip, "blocked": false})
}

func decodeIP(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req ipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return "", false
	}
	ip := strings.TrimSpace(req.IP)
	if net.ParseIP(ip) == nil {
		writeError(w, http.StatusBadRequest, "malformed ip")
		return "", false
	}
	return ip, true
}

// gateRequestInfo extracts what the security gate needs from an HTTP request.
func gateRequestInfo(r *http.Request) security.RequestInfo {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, found := strings.Cut(fwd, ","); found || first != "" {
			ip = strings.TrimSpace(first)
		}
	}
	return security.RequestInfo{
		IP:      ip,
		Referer: r.Referer(),
		Path:    r.URL.Path,
	}
}

func recordBlocked(reason string) {
	telemetry.RequestsBlocked.WithLabelValues(reason).Inc()
}
