package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/mercadime/scraperd/internal/scraper"
)

// CatalogStore persists products and taxonomy nodes. It implements
// scraper.ProductStore and scraper.CategoryStore.
type CatalogStore struct {
	pool querier
}

// NewCatalogStore constructs a CatalogStore from an existing pool.
func NewCatalogStore(pool querier) (*CatalogStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &CatalogStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *CatalogStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpsertProduct inserts or refreshes a product row keyed by (store,
// external_id).
func (s *CatalogStore) UpsertProduct(ctx context.Context, p scraper.Product) error {
	if p.Store == "" || p.ExternalID == "" {
		return fmt.Errorf("%w: product store and external id are required", scraper.ErrValidation)
	}
	query := `
		INSERT INTO products (store, external_id, title, brand, category, price_cents, currency, url, content_hash, scraped_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (store, external_id) DO UPDATE
		SET title = EXCLUDED.title,
			brand = EXCLUDED.brand,
			category = EXCLUDED.category,
			price_cents = EXCLUDED.price_cents,
			currency = EXCLUDED.currency,
			url = EXCLUDED.url,
			content_hash = EXCLUDED.content_hash,
			scraped_at = EXCLUDED.scraped_at;
	`
	_, err := s.pool.Exec(ctx, query,
		p.Store,
		p.ExternalID,
		p.Title,
		p.Brand,
		p.Category,
		p.PriceCents,
		p.Currency,
		p.URL,
		p.ContentHash,
		p.ScrapedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

// SampleTitles returns up to limit product titles for a store, newest first.
func (s *CatalogStore) SampleTitles(ctx context.Context, store string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := `
		SELECT title FROM products
		WHERE store = $1
		ORDER BY scraped_at DESC
		LIMIT $2;
	`
	rows, err := s.pool.Query(ctx, query, store, limit)
	if err != nil {
		return nil, fmt.Errorf("sample titles: %w", err)
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, fmt.Errorf("scan title row: %w", err)
		}
		titles = append(titles, title)
	}
	return titles, rows.Err()
}

// LastScraped returns the most recent scraped_at for a store. A store with no
// products yields the zero time.
func (s *CatalogStore) LastScraped(ctx context.Context, store string) (time.Time, error) {
	query := `SELECT COALESCE(MAX(scraped_at), 'epoch'::timestamptz) FROM products WHERE store = $1;`
	var last time.Time
	if err := s.pool.QueryRow(ctx, query, store).Scan(&last); err != nil {
		return time.Time{}, fmt.Errorf("last scraped: %w", err)
	}
	if last.Unix() <= 0 {
		return time.Time{}, nil
	}
	return last, nil
}

// UpsertCategory inserts or refreshes a taxonomy node keyed by (store, path).
func (s *CatalogStore) UpsertCategory(ctx context.Context, node scraper.CategoryNode) error {
	if node.Store == "" || node.Path == "" {
		return fmt.Errorf("%w: category store and path are required", scraper.ErrValidation)
	}
	query := `
		INSERT INTO categories (store, path, name, parent_path, url, discovered_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (store, path) DO UPDATE
		SET name = EXCLUDED.name,
			parent_path = EXCLUDED.parent_path,
			url = EXCLUDED.url,
			discovered_at = EXCLUDED.discovered_at;
	`
	_, err := s.pool.Exec(ctx, query,
		node.Store,
		node.Path,
		node.Name,
		node.Parent,
		node.URL,
		node.DiscoveredAt,
	)
	if err != nil {
		return fmt.Errorf("upsert category: %w", err)
	}
	return nil
}

// ListCategories returns a store's taxonomy ordered by path.
func (s *CatalogStore) ListCategories(ctx context.Context, store string) ([]scraper.CategoryNode, error) {
	query := `
		SELECT store, path, name, parent_path, url, discovered_at
		FROM categories
		WHERE store = $1
		ORDER BY path;
	`
	rows, err := s.pool.Query(ctx, query, store)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var nodes []scraper.CategoryNode
	for rows.Next() {
		var node scraper.CategoryNode
		err := rows.Scan(
			&node.Store,
			&node.Path,
			&node.Name,
			&node.Parent,
			&node.URL,
			&node.DiscoveredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan category row: %w", err)
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}
