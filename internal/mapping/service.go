// Package mapping manages the taxonomy layer: associating extracted brand and
// category labels with canonical catalog entities, either by hand from the
// admin panel or automatically via fuzzy matching.
package mapping

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mercadime/scraperd/internal/match"
	"github.com/mercadime/scraperd/internal/scraper"
)

// Service wires the mapping store to the fuzzy matcher and the canonical
// entity catalog.
type Service struct {
	mappings scraper.MappingStore
	labels   scraper.LabelStore
	entities scraper.EntityStore
	clock    scraper.Clock
	ids      scraper.IDGenerator
	logger   *zap.Logger

	autoThreshold float64
}

// NewService constructs a Service. autoThreshold is the minimum blended score
// AutoMap accepts; scores below it leave the label unmapped for manual review.
func NewService(
	mappings scraper.MappingStore,
	labels scraper.LabelStore,
	entities scraper.EntityStore,
	clock scraper.Clock,
	ids scraper.IDGenerator,
	logger *zap.Logger,
	autoThreshold float64,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		mappings:      mappings,
		labels:        labels,
		entities:      entities,
		clock:         clock,
		ids:           ids,
		logger:        logger,
		autoThreshold: autoThreshold,
	}
}

// AddRequest is the input to Add.
type AddRequest struct {
	Kind           scraper.LabelKind
	Store          string
	ExtractedLabel string
	MappedEntityID string
	Confidence     float64
	Method         scraper.MappingMethod
	Overwrite      bool
}

// Add creates a mapping for (kind, store, label). Unless Overwrite is set, an
// existing active mapping for the same scope yields scraper.ErrConflict.
func (s *Service) Add(ctx context.Context, req AddRequest) (scraper.Mapping, error) {
	if err := s.validateAdd(ctx, req); err != nil {
		return scraper.Mapping{}, err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return scraper.Mapping{}, fmt.Errorf("generate mapping id: %w", err)
	}
	m := scraper.Mapping{
		ID:             id,
		Kind:           req.Kind,
		ExtractedLabel: strings.TrimSpace(req.ExtractedLabel),
		MappedEntityID: req.MappedEntityID,
		Confidence:     req.Confidence,
		Method:         req.Method,
		Store:          req.Store,
		MappedAt:       s.clock.Now().UTC(),
	}
	if m.Method == "" {
		m.Method = scraper.MappingMethodManual
	}
	if err := s.mappings.AddMapping(ctx, m, req.Overwrite); err != nil {
		return scraper.Mapping{}, err
	}
	return m, nil
}

func (s *Service) validateAdd(ctx context.Context, req AddRequest) error {
	if req.Kind != scraper.LabelKindBrand && req.Kind != scraper.LabelKindCategory {
		return fmt.Errorf("%w: unknown label kind %q", scraper.ErrValidation, req.Kind)
	}
	if strings.TrimSpace(req.ExtractedLabel) == "" {
		return fmt.Errorf("%w: extracted label is required", scraper.ErrValidation)
	}
	if strings.TrimSpace(req.Store) == "" {
		return fmt.Errorf("%w: store is required", scraper.ErrValidation)
	}
	if req.MappedEntityID != "" {
		if err := s.entityExists(ctx, req.Kind, req.MappedEntityID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) entityExists(ctx context.Context, kind scraper.LabelKind, entityID string) error {
	entities, err := s.entities.ListEntities(ctx, kind)
	if err != nil {
		return fmt.Errorf("list entities: %w", err)
	}
	for _, e := range entities {
		if e.ID == entityID {
			return nil
		}
	}
	return fmt.Errorf("%w: entity %q", scraper.ErrNotFound, entityID)
}

// Remove deletes a mapping by id. Removing an id that does not exist is not
// an error, so the panel's delete button is safe to retry.
func (s *Service) Remove(ctx context.Context, mappingID string) error {
	if strings.TrimSpace(mappingID) == "" {
		return fmt.Errorf("%w: mapping id is required", scraper.ErrValidation)
	}
	return s.mappings.RemoveMapping(ctx, mappingID)
}

// Validate marks a mapping as human-confirmed. Validated mappings are skipped
// by AutoMap and survive subsequent automatic passes.
func (s *Service) Validate(ctx context.Context, mappingID string) error {
	if strings.TrimSpace(mappingID) == "" {
		return fmt.Errorf("%w: mapping id is required", scraper.ErrValidation)
	}
	return s.mappings.ValidateMapping(ctx, mappingID)
}

// Get returns the active mapping for (kind, store, label).
func (s *Service) Get(ctx context.Context, kind scraper.LabelKind, store, label string) (scraper.Mapping, error) {
	return s.mappings.GetMapping(ctx, kind, store, label)
}

// List returns all mappings for (kind, store).
func (s *Service) List(ctx context.Context, kind scraper.LabelKind, store string) ([]scraper.Mapping, error) {
	return s.mappings.ListMappings(ctx, kind, store)
}

// AutoMapResult summarizes one automatic mapping pass.
type AutoMapResult struct {
	Considered int `json:"considered"`
	Mapped     int `json:"mapped"`
	Skipped    int `json:"skipped"`
}

// AutoMap scores every extracted label for (kind, store) against the
// canonical entities and writes a mapping for each label whose best score
// clears the threshold. Labels that already carry a validated mapping are
// left untouched; unvalidated auto mappings are overwritten so repeated
// passes converge on the latest extraction data.
func (s *Service) AutoMap(ctx context.Context, kind scraper.LabelKind, store string) (AutoMapResult, error) {
	if kind != scraper.LabelKindBrand && kind != scraper.LabelKindCategory {
		return AutoMapResult{}, fmt.Errorf("%w: unknown label kind %q", scraper.ErrValidation, kind)
	}
	labels, err := s.labels.ListLabels(ctx, kind, store)
	if err != nil {
		return AutoMapResult{}, fmt.Errorf("list labels: %w", err)
	}
	entities, err := s.entities.ListEntities(ctx, kind)
	if err != nil {
		return AutoMapResult{}, fmt.Errorf("list entities: %w", err)
	}
	if len(entities) == 0 {
		return AutoMapResult{Considered: len(labels), Skipped: len(labels)}, nil
	}

	result := AutoMapResult{Considered: len(labels)}
	for _, label := range labels {
		if existing, err := s.mappings.GetMapping(ctx, kind, store, label.Name); err == nil && existing.Validated {
			result.Skipped++
			continue
		}

		entity, score := s.bestEntity(label, entities)
		if score < s.autoThreshold {
			result.Skipped++
			continue
		}

		id, err := s.ids.NewID()
		if err != nil {
			return result, fmt.Errorf("generate mapping id: %w", err)
		}
		m := scraper.Mapping{
			ID:             id,
			Kind:           kind,
			ExtractedLabel: label.Name,
			MappedEntityID: entity.ID,
			Confidence:     score,
			Method:         scraper.MappingMethodAuto,
			Store:          store,
			MappedAt:       s.clock.Now().UTC(),
		}
		if err := s.mappings.AddMapping(ctx, m, true); err != nil {
			return result, fmt.Errorf("add auto mapping %q: %w", label.Name, err)
		}
		s.logger.Debug("auto-mapped label",
			zap.String("store", store),
			zap.String("kind", string(kind)),
			zap.String("label", label.Name),
			zap.String("entity", entity.Name),
			zap.Float64("score", score),
		)
		result.Mapped++
	}
	return result, nil
}

func (s *Service) bestEntity(label scraper.ExtractedLabel, entities []scraper.Entity) (scraper.Entity, float64) {
	candidate := match.Candidate{
		Label:      label.Name,
		Frequency:  label.Frequency,
		Confidence: label.Confidence,
	}
	var (
		best      scraper.Entity
		bestScore = -1.0
	)
	for _, e := range entities {
		if score := match.Score(candidate, e.Name); score > bestScore {
			best, bestScore = e, score
		}
	}
	return best, bestScore
}
