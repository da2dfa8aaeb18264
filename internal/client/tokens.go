package client

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// Keys under which tokens are persisted.
const (
	AccessTokenKey  = "timeEgg_accessToken"
	RefreshTokenKey = "timeEgg_refreshToken"
)

// TokenStore holds the session tokens of one user.
type TokenStore interface {
	Access() string
	Refresh() string
	Set(access, refresh string) error
	Clear() error
}

// MemoryTokenStore keeps tokens for the life of the process.
type MemoryTokenStore struct {
	mu      sync.RWMutex
	access  string
	refresh string
}

func NewMemoryTokenStore() *MemoryTokenStore { return &MemoryTokenStore{} }

func (m *MemoryTokenStore) Access() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.access
}

func (m *MemoryTokenStore) Refresh() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.refresh
}

func (m *MemoryTokenStore) Set(access, refresh string) error {
	m.mu.Lock()
	m.access, m.refresh = access, refresh
	m.mu.Unlock()
	return nil
}

func (m *MemoryTokenStore) Clear() error { return m.Set("", "") }

// FileTokenStore persists tokens as a small JSON object readable across
// CLI invocations. The file is written with 0600 permissions.
type FileTokenStore struct {
	path string
	mem  MemoryTokenStore
}

// NewFileTokenStore loads path if it exists.
func NewFileTokenStore(path string) (*FileTokenStore, error) {
	s := &FileTokenStore{path: path}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	_ = s.mem.Set(m[AccessTokenKey], m[RefreshTokenKey])
	return s, nil
}

func (s *FileTokenStore) Access() string  { return s.mem.Access() }
func (s *FileTokenStore) Refresh() string { return s.mem.Refresh() }

func (s *FileTokenStore) Set(access, refresh string) error {
	_ = s.mem.Set(access, refresh)
	raw, err := json.MarshalIndent(map[string]string{
		AccessTokenKey:  access,
		RefreshTokenKey: refresh,
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *FileTokenStore) Clear() error {
	_ = s.mem.Clear()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
