package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mercadime/scraperd/internal/scraper"
)

// SecurityStore keeps the append-only security event log in Postgres.
type SecurityStore struct {
	pool querier
}

// NewSecurityStore constructs a SecurityStore from an existing pool.
func NewSecurityStore(pool querier) (*SecurityStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &SecurityStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *SecurityStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// AppendEvent inserts one security event.
func (s *SecurityStore) AppendEvent(ctx context.Context, evt scraper.SecurityEvent) error {
	if evt.ID == "" {
		return fmt.Errorf("%w: event id is required", scraper.ErrValidation)
	}
	metadata, err := json.Marshal(evt.Metadata)
	if err != nil {
		return fmt.Errorf("marshal event metadata: %w", err)
	}
	query := `
		INSERT INTO security_events (id, ip, visitor_state, event_type, risk_score, user_id, created_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
	`
	_, err = s.pool.Exec(ctx, query,
		evt.ID,
		evt.IP,
		evt.VisitorState,
		evt.EventType,
		evt.RiskScore,
		evt.UserID,
		evt.CreatedAt,
		metadata,
	)
	if err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}
	return nil
}

// ListEvents returns events newest first, up to limit (0 means no limit).
func (s *SecurityStore) ListEvents(ctx context.Context, limit int) ([]scraper.SecurityEvent, error) {
	query := `
		SELECT id, ip, visitor_state, event_type, risk_score, user_id, created_at, metadata
		FROM security_events
		ORDER BY created_at DESC
		LIMIT $1;
	`
	if limit <= 0 {
		limit = 10000
	}
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list security events: %w", err)
	}
	defer rows.Close()

	var events []scraper.SecurityEvent
	for rows.Next() {
		var (
			evt      scraper.SecurityEvent
			metadata []byte
		)
		err := rows.Scan(
			&evt.ID,
			&evt.IP,
			&evt.VisitorState,
			&evt.EventType,
			&evt.RiskScore,
			&evt.UserID,
			&evt.CreatedAt,
			&metadata,
		)
		if err != nil {
			return nil, fmt.Errorf("scan security event row: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &evt.Metadata); err != nil {
				return nil, fmt.Errorf("decode event metadata: %w", err)
			}
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// PruneEvents deletes events created before the cutoff and reports how many
// rows went away.
func (s *SecurityStore) PruneEvents(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM security_events WHERE created_at < $1;`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("prune security events: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
