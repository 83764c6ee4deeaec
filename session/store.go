// Package session manages the ambient cookie state shared with workers.
// Cookies come from two sources that are merged at startup: a JSON file
// of name->value pairs and "name=value" overrides from the environment.
// The merged state is written back on shutdown so a login session
// survives restarts.
package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Store loads and persists the cookie file. All methods are safe for
// concurrent use.
type Store struct {
	mu      sync.Mutex
	path    string
	cookies map[string]string
}

// NewStore creates a store backed by path. An empty path disables
// persistence; the store then only holds in-memory state.
func NewStore(path string) *Store {
	return &Store{
		path:    path,
		cookies: make(map[string]string),
	}
}

// Load reads the cookie file into the store. A missing file is not an
// error, it just yields an empty state.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("cookie file not found, starting with empty session", "path", s.path)
			return nil
		}
		return fmt.Errorf("read cookie file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var cookies map[string]string
	if err := json.Unmarshal(data, &cookies); err != nil {
		return fmt.Errorf("parse cookie file %s: %w", s.path, err)
	}
	for name, value := range cookies {
		s.cookies[name] = value
	}
	slog.Info("session cookies loaded", "path", s.path, "count", len(cookies))
	return nil
}

// Merge applies name->value pairs on top of the current state.
// Later sources win, so environment overrides should be merged after Load.
func (s *Store) Merge(cookies map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, value := range cookies {
		if name == "" {
			continue
		}
		s.cookies[name] = value
	}
}

// Cookies returns a copy of the current state.
func (s *Store) Cookies() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.cookies))
	for name, value := range s.cookies {
		out[name] = value
	}
	return out
}

// Update replaces the stored state with cookies captured from a live
// worker, typically right before Save on shutdown.
func (s *Store) Update(cookies map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(cookies) == 0 {
		return
	}
	s.cookies = make(map[string]string, len(cookies))
	for name, value := range cookies {
		s.cookies[name] = value
	}
}

// Save writes the current state back to the cookie file. The write goes
// through a temp file and rename so a crash mid-write cannot truncate
// the previous state.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(s.cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cookies: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".cookies-*.json")
	if err != nil {
		return fmt.Errorf("create temp cookie file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write cookie file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close cookie file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace cookie file: %w", err)
	}
	slog.Info("session cookies saved", "path", s.path, "count", len(s.cookies))
	return nil
}

// ParsePairs turns "name=value" strings into a cookie map. Entries
// without a "=" or with an empty name are skipped. Values may contain
// "=" themselves, only the first one splits.
func ParsePairs(pairs []string) map[string]string {
	cookies := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || name == "" {
			continue
		}
		cookies[name] = value
	}
	return cookies
}

// Names returns the stored cookie names in sorted order, for logging.
func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.cookies))
	for name := range s.cookies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
