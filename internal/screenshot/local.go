// Package screenshot provides stores for the latest per-store worker
// screenshot. The key layout is fixed: <store>/latest.jpg, so a new capture
// always replaces the previous one.
package screenshot

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const objectName = "latest.jpg"

// LocalConfig captures the parameters for the filesystem store.
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// LocalStore writes screenshots to the local filesystem.
type LocalStore struct {
	baseDir string
}

// NewLocal creates a filesystem-backed screenshot store, verifying the base
// directory exists and is writable.
func NewLocal(cfg LocalConfig) (*LocalStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	info, err := os.Stat(cfg.BaseDir)
	switch {
	case err != nil && os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("clean up test file: %w", err)
	}
	return &LocalStore{baseDir: cfg.BaseDir}, nil
}

// BaseDir returns the store's root, so the API can serve files from it.
func (s *LocalStore) BaseDir() string { return s.baseDir }

// Put writes a store's latest screenshot and returns a file:// URI.
func (s *LocalStore) Put(_ context.Context, store string, data io.Reader) (string, error) {
	fullPath, err := s.storePath(store)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("create screenshot directory: %w", err)
	}
	content, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read screenshot data: %w", err)
	}
	if err := os.WriteFile(fullPath, content, 0o600); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return fmt.Sprintf("file://%s", fullPath), nil
}

// Delete removes a store's screenshot. A missing file is not an error.
func (s *LocalStore) Delete(_ context.Context, store string) error {
	fullPath, err := s.storePath(store)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove screenshot: %w", err)
	}
	return nil
}

func (s *LocalStore) storePath(store string) (string, error) {
	if strings.TrimSpace(store) == "" {
		return "", fmt.Errorf("store is required")
	}
	fullPath := filepath.Join(s.baseDir, store, objectName)
	cleanBase := filepath.Clean(s.baseDir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return fullPath, nil
}
