package screenshot

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// MemoryStore keeps screenshots in memory for tests and local development.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// Put stores a store's latest screenshot and returns a mem:// URI.
func (s *MemoryStore) Put(_ context.Context, store string, data io.Reader) (string, error) {
	if strings.TrimSpace(store) == "" {
		return "", fmt.Errorf("store is required")
	}
	content, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read screenshot data: %w", err)
	}
	s.mu.Lock()
	s.objects[store] = content
	s.mu.Unlock()
	return fmt.Sprintf("mem://%s/%s", store, objectName), nil
}

// Delete drops a store's screenshot.
func (s *MemoryStore) Delete(_ context.Context, store string) error {
	s.mu.Lock()
	delete(s.objects, store)
	s.mu.Unlock()
	return nil
}

// Get returns the stored bytes, for tests.
func (s *MemoryStore) Get(store string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.objects[store]
	return content, ok
}
