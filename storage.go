package carexpert

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ============================================================================
// Storage Backends
// ============================================================================

// Storage is a flat string key/value store. MemoryStorage is session-scoped
// (lives for the process); FileStorage is durable and shared by every process
// of the same user, which also makes it the cross-process signalling medium.
type Storage interface {
	GetItem(key string) (value string, ok bool, err error)
	SetItem(key, value string) error
	RemoveItem(key string) error
	Clear() error
	Keys() ([]string, error)
}

// ----------------------------------------------------------------------------
// MemoryStorage
// ----------------------------------------------------------------------------

// MemoryStorage is a goroutine-safe in-memory storage backend.
type MemoryStorage struct {
	mu    sync.RWMutex
	items map[string]string
}

// NewMemoryStorage creates a new in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{items: make(map[string]string)}
}

func (s *MemoryStorage) GetItem(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok, nil
}

func (s *MemoryStorage) SetItem(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
	return nil
}

func (s *MemoryStorage) RemoveItem(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

func (s *MemoryStorage) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]string)
	return nil
}

func (s *MemoryStorage) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	return keys, nil
}

// ----------------------------------------------------------------------------
// FileStorage
// ----------------------------------------------------------------------------

const storageFileExt = ".json"

// FileStorage is a durable storage backend keeping one file per key under a
// directory (typically ~/.carexpert/storage). Keys are query-escaped so any
// key string maps to a valid file name and back.
type FileStorage struct {
	dir string
	mu  sync.Mutex
}

// NewFileStorage creates the backing directory if needed.
func NewFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cannot create storage directory: %w", err)
	}
	return &FileStorage{dir: dir}, nil
}

// DefaultStorageDir returns ~/.carexpert/storage.
func DefaultStorageDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".carexpert", "storage"), nil
}

func (s *FileStorage) path(key string) string {
	return filepath.Join(s.dir, url.QueryEscape(key)+storageFileExt)
}

func (s *FileStorage) GetItem(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("cannot read %q: %w", key, err)
	}
	return string(data), true, nil
}

func (s *FileStorage) SetItem(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.WriteFile(s.path(key), []byte(value), 0o600); err != nil {
		return fmt.Errorf("cannot write %q: %w", key, err)
	}
	return nil
}

func (s *FileStorage) RemoveItem(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cannot remove %q: %w", key, err)
	}
	return nil
}

func (s *FileStorage) Clear() error {
	keys, err := s.Keys()
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := s.RemoveItem(k); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStorage) Keys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("cannot list storage: %w", err)
	}
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, storageFileExt) {
			continue
		}
		key, err := url.QueryUnescape(strings.TrimSuffix(name, storageFileExt))
		if err != nil {
			continue // foreign file, not one of ours
		}
		keys = append(keys, key)
	}
	return keys, nil
}
