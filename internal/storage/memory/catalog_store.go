package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mercadime/scraperd/internal/scraper"
)

// ProductStore keeps scraped catalog rows in memory.
type ProductStore struct {
	mu       sync.RWMutex
	products map[string]map[string]scraper.Product
}

// NewProductStore constructs a ProductStore.
func NewProductStore() *ProductStore {
	return &ProductStore{products: make(map[string]map[string]scraper.Product)}
}

// UpsertProduct inserts or replaces a product keyed by (store, external id).
func (s *ProductStore) UpsertProduct(_ context.Context, p scraper.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.products[p.Store]
	if !ok {
		byID = make(map[string]scraper.Product)
		s.products[p.Store] = byID
	}
	byID[p.ExternalID] = p
	return nil
}

// SampleTitles returns up to limit product titles for a store.
func (s *ProductStore) SampleTitles(_ context.Context, store string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var titles []string
	for _, p := range s.products[store] {
		if limit > 0 && len(titles) >= limit {
			break
		}
		titles = append(titles, p.Title)
	}
	return titles, nil
}

// LastScraped returns the newest scrape timestamp for a store, zero when the
// store has no products.
func (s *ProductStore) LastScraped(_ context.Context, store string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last time.Time
	for _, p := range s.products[store] {
		if p.ScrapedAt.After(last) {
			last = p.ScrapedAt
		}
	}
	return last, nil
}

// CategoryStore keeps discovered taxonomy nodes in memory.
type CategoryStore struct {
	mu         sync.RWMutex
	categories map[string]map[string]scraper.CategoryNode
}

// NewCategoryStore constructs a CategoryStore.
func NewCategoryStore() *CategoryStore {
	return &CategoryStore{categories: make(map[string]map[string]scraper.CategoryNode)}
}

// UpsertCategory inserts or replaces a node keyed by (store, path).
func (s *CategoryStore) UpsertCategory(_ context.Context, node scraper.CategoryNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byPath, ok := s.categories[node.Store]
	if !ok {
		byPath = make(map[string]scraper.CategoryNode)
		s.categories[node.Store] = byPath
	}
	byPath[node.Path] = node
	return nil
}

// ListCategories returns every node discovered for a store.
func (s *CategoryStore) ListCategories(_ context.Context, store string) ([]scraper.CategoryNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]scraper.CategoryNode, 0, len(s.categories[store]))
	for _, node := range s.categories[store] {
		out = append(out, node)
	}
	return out, nil
}
