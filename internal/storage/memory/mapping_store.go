package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mercadime/scraperd/internal/scraper"
)

// LabelStore keeps extraction output in memory, scoped by (kind, store).
type LabelStore struct {
	mu     sync.RWMutex
	scopes map[string][]scraper.ExtractedLabel
}

// NewLabelStore constructs a LabelStore.
func NewLabelStore() *LabelStore {
	return &LabelStore{scopes: make(map[string][]scraper.ExtractedLabel)}
}

func scopeKey(kind scraper.LabelKind, store string) string {
	return string(kind) + "/" + store
}

// ReplaceScope overwrites the previous extraction pass for (kind, store).
func (s *LabelStore) ReplaceScope(_ context.Context, kind scraper.LabelKind, store string, labels []scraper.ExtractedLabel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopes[scopeKey(kind, store)] = append([]scraper.ExtractedLabel(nil), labels...)
	return nil
}

// ListLabels returns the labels extracted for (kind, store).
func (s *LabelStore) ListLabels(_ context.Context, kind scraper.LabelKind, store string) ([]scraper.ExtractedLabel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	labels := s.scopes[scopeKey(kind, store)]
	out := make([]scraper.ExtractedLabel, len(labels))
	copy(out, labels)
	return out, nil
}

// MappingStore keeps label mappings in memory. At most one active mapping
// exists per (kind, label, store).
type MappingStore struct {
	mu      sync.RWMutex
	byID    map[string]scraper.Mapping
	byScope map[string]string // (kind, store, label) -> mapping id
}

// NewMappingStore constructs a MappingStore.
func NewMappingStore() *MappingStore {
	return &MappingStore{
		byID:    make(map[string]scraper.Mapping),
		byScope: make(map[string]string),
	}
}

func mappingKey(kind scraper.LabelKind, store, label string) string {
	return string(kind) + "/" + store + "/" + label
}

// AddMapping inserts a mapping, failing with ErrConflict when an active
// mapping for the same (label, store) exists and overwrite is false.
func (s *MappingStore) AddMapping(_ context.Context, m scraper.Mapping, overwrite bool) error {
	if m.ID == "" || m.ExtractedLabel == "" || m.Store == "" {
		return fmt.Errorf("%w: mapping id, label and store are required", scraper.ErrValidation)
	}
	key := mappingKey(m.Kind, m.Store, m.ExtractedLabel)
	s.mu.Lock()
	defer s.mu.Unlock()
	if existingID, ok := s.byScope[key]; ok {
		if !overwrite {
			return fmt.Errorf("%w: active mapping exists for %q in store %q",
				scraper.ErrConflict, m.ExtractedLabel, m.Store)
		}
		delete(s.byID, existingID)
	}
	s.byID[m.ID] = m
	s.byScope[key] = m.ID
	return nil
}

// RemoveMapping hard-deletes a mapping; removing an absent id is a no-op.
func (s *MappingStore) RemoveMapping(_ context.Context, mappingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[mappingID]
	if !ok {
		return nil
	}
	delete(s.byID, mappingID)
	delete(s.byScope, mappingKey(m.Kind, m.Store, m.ExtractedLabel))
	return nil
}

// GetMapping returns the active mapping for (kind, store, label).
func (s *MappingStore) GetMapping(_ context.Context, kind scraper.LabelKind, store, label string) (scraper.Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byScope[mappingKey(kind, store, label)]
	if !ok {
		return scraper.Mapping{}, fmt.Errorf("%w: no mapping for %q in store %q", scraper.ErrNotFound, label, store)
	}
	return s.byID[id], nil
}

// ListMappings returns all mappings for (kind, store) sorted by label.
func (s *MappingStore) ListMappings(_ context.Context, kind scraper.LabelKind, store string) ([]scraper.Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []scraper.Mapping
	for _, m := range s.byID {
		if m.Kind == kind && m.Store == store {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExtractedLabel < out[j].ExtractedLabel })
	return out, nil
}

// ValidateMapping marks a mapping operator-confirmed. Confidence is not
// recomputed.
func (s *MappingStore) ValidateMapping(_ context.Context, mappingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[mappingID]
	if !ok {
		return fmt.Errorf("%w: mapping %s", scraper.ErrNotFound, mappingID)
	}
	m.Validated = true
	s.byID[mappingID] = m
	return nil
}

// EntityStore keeps canonical brands/categories in memory.
type EntityStore struct {
	mu       sync.RWMutex
	entities map[string]scraper.Entity
}

// NewEntityStore constructs an EntityStore, optionally seeded.
func NewEntityStore(seed []scraper.Entity) *EntityStore {
	entities := make(map[string]scraper.Entity, len(seed))
	for _, e := range seed {
		entities[e.ID] = e
	}
	return &EntityStore{entities: entities}
}

// AddEntity registers a canonical entity.
func (s *EntityStore) AddEntity(_ context.Context, e scraper.Entity) error {
	if e.ID == "" || e.Name == "" {
		return fmt.Errorf("%w: entity id and name are required", scraper.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[e.ID] = e
	return nil
}

// ListEntities returns all canonical entities of a kind sorted by name.
func (s *EntityStore) ListEntities(_ context.Context, kind scraper.LabelKind) ([]scraper.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []scraper.Entity
	for _, e := range s.entities {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
