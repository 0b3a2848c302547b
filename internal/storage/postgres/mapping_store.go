package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mercadime/scraperd/internal/scraper"
)

// MappingStore persists extracted labels and their entity mappings. It
// implements scraper.LabelStore, scraper.MappingStore and
// scraper.EntityStore.
type MappingStore struct {
	pool querier
}

// NewMappingStore constructs a MappingStore from an existing pool.
func NewMappingStore(pool querier) (*MappingStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &MappingStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *MappingStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// ReplaceScope swaps the full label set for (kind, store) in one transaction
// so a re-run of extraction never leaves stale rows behind.
func (s *MappingStore) ReplaceScope(ctx context.Context, kind scraper.LabelKind, store string, labels []scraper.ExtractedLabel) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM extracted_labels WHERE kind = $1 AND store = $2;`, kind, store); err != nil {
		return fmt.Errorf("clear label scope: %w", err)
	}
	query := `
		INSERT INTO extracted_labels (kind, store, name, frequency, sources, confidence, examples, last_extracted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
	`
	for _, label := range labels {
		sources, err := json.Marshal(label.Sources)
		if err != nil {
			return fmt.Errorf("marshal label sources: %w", err)
		}
		examples, err := json.Marshal(label.Examples)
		if err != nil {
			return fmt.Errorf("marshal label examples: %w", err)
		}
		_, err = s.pool.Exec(ctx, query,
			kind,
			store,
			label.Name,
			label.Frequency,
			sources,
			label.Confidence,
			examples,
			label.LastExtracted,
		)
		if err != nil {
			return fmt.Errorf("insert label %q: %w", label.Name, err)
		}
	}
	return nil
}

// ListLabels returns the labels for (kind, store) ordered by frequency
// descending.
func (s *MappingStore) ListLabels(ctx context.Context, kind scraper.LabelKind, store string) ([]scraper.ExtractedLabel, error) {
	query := `
		SELECT name, frequency, sources, confidence, examples, last_extracted
		FROM extracted_labels
		WHERE kind = $1 AND store = $2
		ORDER BY frequency DESC, name;
	`
	rows, err := s.pool.Query(ctx, query, kind, store)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	defer rows.Close()

	var labels []scraper.ExtractedLabel
	for rows.Next() {
		var (
			label    scraper.ExtractedLabel
			sources  []byte
			examples []byte
		)
		err := rows.Scan(&label.Name, &label.Frequency, &sources, &label.Confidence, &examples, &label.LastExtracted)
		if err != nil {
			return nil, fmt.Errorf("scan label row: %w", err)
		}
		label.Kind = kind
		if err := json.Unmarshal(sources, &label.Sources); err != nil {
			return nil, fmt.Errorf("decode label sources: %w", err)
		}
		if err := json.Unmarshal(examples, &label.Examples); err != nil {
			return nil, fmt.Errorf("decode label examples: %w", err)
		}
		labels = append(labels, label)
	}
	return labels, rows.Err()
}

// AddMapping inserts a mapping. With overwrite false a live mapping for the
// same (kind, store, label) yields scraper.ErrConflict; with overwrite true
// the old row is removed first.
func (s *MappingStore) AddMapping(ctx context.Context, m scraper.Mapping, overwrite bool) error {
	if m.ID == "" {
		return fmt.Errorf("%w: mapping id is required", scraper.ErrValidation)
	}
	if overwrite {
		query := `DELETE FROM mappings WHERE kind = $1 AND store = $2 AND extracted_label = $3;`
		if _, err := s.pool.Exec(ctx, query, m.Kind, m.Store, m.ExtractedLabel); err != nil {
			return fmt.Errorf("remove previous mapping: %w", err)
		}
	} else {
		var exists bool
		query := `SELECT EXISTS (SELECT 1 FROM mappings WHERE kind = $1 AND store = $2 AND extracted_label = $3);`
		if err := s.pool.QueryRow(ctx, query, m.Kind, m.Store, m.ExtractedLabel).Scan(&exists); err != nil {
			return fmt.Errorf("check existing mapping: %w", err)
		}
		if exists {
			return fmt.Errorf("%w: mapping for %q already exists in store %q", scraper.ErrConflict, m.ExtractedLabel, m.Store)
		}
	}
	query := `
		INSERT INTO mappings (id, kind, store, extracted_label, mapped_entity_id, confidence, method, mapped_at, validated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
	`
	_, err := s.pool.Exec(ctx, query,
		m.ID,
		m.Kind,
		m.Store,
		m.ExtractedLabel,
		m.MappedEntityID,
		m.Confidence,
		m.Method,
		m.MappedAt,
		m.Validated,
	)
	if err != nil {
		return fmt.Errorf("insert mapping: %w", err)
	}
	return nil
}

// RemoveMapping deletes a mapping by id. Missing ids are ignored.
func (s *MappingStore) RemoveMapping(ctx context.Context, mappingID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM mappings WHERE id = $1;`, mappingID); err != nil {
		return fmt.Errorf("remove mapping: %w", err)
	}
	return nil
}

// GetMapping returns the active mapping for (kind, store, label).
func (s *MappingStore) GetMapping(ctx context.Context, kind scraper.LabelKind, store, label string) (scraper.Mapping, error) {
	query := `
		SELECT id, kind, store, extracted_label, mapped_entity_id, confidence, method, mapped_at, validated
		FROM mappings
		WHERE kind = $1 AND store = $2 AND extracted_label = $3;
	`
	var m scraper.Mapping
	err := s.pool.QueryRow(ctx, query, kind, store, label).Scan(
		&m.ID,
		&m.Kind,
		&m.Store,
		&m.ExtractedLabel,
		&m.MappedEntityID,
		&m.Confidence,
		&m.Method,
		&m.MappedAt,
		&m.Validated,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scraper.Mapping{}, fmt.Errorf("%w: mapping for %q in store %q", scraper.ErrNotFound, label, store)
		}
		return scraper.Mapping{}, fmt.Errorf("get mapping: %w", err)
	}
	return m, nil
}

// ListMappings returns all mappings for (kind, store).
func (s *MappingStore) ListMappings(ctx context.Context, kind scraper.LabelKind, store string) ([]scraper.Mapping, error) {
	query := `
		SELECT id, kind, store, extracted_label, mapped_entity_id, confidence, method, mapped_at, validated
		FROM mappings
		WHERE kind = $1 AND store = $2
		ORDER BY extracted_label;
	`
	rows, err := s.pool.Query(ctx, query, kind, store)
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	defer rows.Close()

	var mappings []scraper.Mapping
	for rows.Next() {
		var m scraper.Mapping
		err := rows.Scan(
			&m.ID,
			&m.Kind,
			&m.Store,
			&m.ExtractedLabel,
			&m.MappedEntityID,
			&m.Confidence,
			&m.Method,
			&m.MappedAt,
			&m.Validated,
		)
		if err != nil {
			return nil, fmt.Errorf("scan mapping row: %w", err)
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

// ValidateMapping flags a mapping as human-confirmed.
func (s *MappingStore) ValidateMapping(ctx context.Context, mappingID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE mappings SET validated = TRUE WHERE id = $1;`, mappingID)
	if err != nil {
		return fmt.Errorf("validate mapping: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: mapping %q", scraper.ErrNotFound, mappingID)
	}
	return nil
}

// AddEntity inserts a canonical catalog entity.
func (s *MappingStore) AddEntity(ctx context.Context, e scraper.Entity) error {
	if e.ID == "" || e.Name == "" {
		return fmt.Errorf("%w: entity id and name are required", scraper.ErrValidation)
	}
	query := `INSERT INTO entities (id, kind, name) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING;`
	if _, err := s.pool.Exec(ctx, query, e.ID, e.Kind, e.Name); err != nil {
		return fmt.Errorf("insert entity: %w", err)
	}
	return nil
}

// ListEntities returns all canonical entities of one kind.
func (s *MappingStore) ListEntities(ctx context.Context, kind scraper.LabelKind) ([]scraper.Entity, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, kind, name FROM entities WHERE kind = $1 ORDER BY name;`, kind)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var entities []scraper.Entity
	for rows.Next() {
		var e scraper.Entity
		if err := rows.Scan(&e.ID, &e.Kind, &e.Name); err != nil {
			return nil, fmt.Errorf("scan entity row: %w", err)
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}
