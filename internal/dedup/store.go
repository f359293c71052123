// Package dedup persists the set of keys of already published items.
package dedup

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/newsrelay/newsrelay/internal/logging"
	"github.com/newsrelay/newsrelay/internal/news"
)

// Store is the set of published dedup keys, backed by a JSON list on disk.
// Reads may interleave with writes; every mutation is append-only.
type Store struct {
	path   string
	logger *logging.Logger

	mu    sync.RWMutex
	keys  map[string]struct{}
	order []string
	dirty bool
}

// Load reads the store at path. A missing or unreadable file yields an empty
// store and a logged warning; it never fails.
func Load(path string, logger *logging.Logger) *Store {
	s := &Store{
		path:   path,
		logger: logger,
		keys:   make(map[string]struct{}),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Info("[dedup] no store at %s, starting empty", path)
		} else {
			logger.Warning("[dedup] %v", news.Errorf(news.KindStorage, "load", err))
		}
		return s
	}

	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		logger.Warning("[dedup] %v", news.Errorf(news.KindStorage, "load",
			fmt.Errorf("corrupt store %s: %w", path, err)))
		return s
	}

	for _, k := range keys {
		s.insert(k)
	}
	logger.Info("[dedup] loaded %d keys from %s", len(s.order), path)
	return s
}

// Contains reports whether key was published before.
func (s *Store) Contains(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[key]
	return ok
}

// Add records key. Adding a known key is a no-op.
func (s *Store) Add(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insert(key) {
		s.dirty = true
	}
}

func (s *Store) insert(key string) bool {
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	s.order = append(s.order, key)
	return true
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Persist rewrites the backing file with the full key list. On failure the
// in-memory set stays authoritative and the store stays dirty, so the next
// Persist retries the write.
func (s *Store) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(s.order, "", "  ")
	if err != nil {
		return news.Errorf(news.KindStorage, "persist", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return news.Errorf(news.KindStorage, "persist", err)
		}
	}

	// Write to a temporary file first, then rename over the real one
	tempFile := s.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return news.Errorf(news.KindStorage, "persist", err)
	}
	if err := os.Rename(tempFile, s.path); err != nil {
		return news.Errorf(news.KindStorage, "persist", err)
	}

	s.dirty = false
	return nil
}

// Flush persists only if there are unsaved keys. It is the shutdown hook.
func (s *Store) Flush() error {
	s.mu.RLock()
	dirty := s.dirty
	s.mu.RUnlock()
	if !dirty {
		return nil
	}
	return s.Persist()
}
