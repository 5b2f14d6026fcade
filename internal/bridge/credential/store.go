// Package credential persists the bridge's pairing credential to a
// single JSON file, the one piece of durable state the bridge owns
// (spec.md §3, §5 "Shared resources").
package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Credential is the persisted pairing secret. A credential is either
// absent or complete — BridgeID, BridgeCredential and TenantID are
// all present together (spec.md §3 Invariant 3).
type Credential struct {
	BridgeID         string `json:"bridgeId"`
	BridgeCredential string `json:"bridgeCredential"`
	TenantID         string `json:"tenantId"`
	PairedAt         string `json:"pairedAt,omitempty"`
	CloudURL         string `json:"cloudUrl,omitempty"`
}

// complete reports whether all three identifying fields are present.
func (c *Credential) complete() bool {
	return c != nil && c.BridgeID != "" && c.BridgeCredential != "" && c.TenantID != ""
}

// Store loads, saves and clears the credential file at Path. It is
// process-wide state shared by the pairing coordinator, the cloud
// session manager, and the orchestrator (spec.md §5); all writes are
// serialized by mu and treated as a full-file replace.
type Store struct {
	mu   sync.Mutex
	path string
	cur  *Credential
}

// New creates a Store backed by the file at path. It does not load
// the file; call Load for that.
func New(path string) *Store {
	return &Store{path: path}
}

// Load reads the credential file, if any, and caches it in memory.
// A missing or unreadable file is non-fatal — the bridge degrades to
// "unpaired" mode (spec.md §4.2); Load returns (nil, nil) in that case
// rather than an error, except when the file exists but is not valid
// JSON, which is reported so the caller can log it.
func (s *Store) Load() (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.cur = nil
			return nil, nil
		}
		s.cur = nil
		return nil, nil
	}

	var c Credential
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("credential: parse %s: %w", s.path, err)
	}
	if !c.complete() {
		s.cur = nil
		return nil, nil
	}

	s.cur = &c
	return &c, nil
}

// Save persists c, creating missing parent directories and replacing
// the file atomically (write-temp-then-rename). c must be complete.
func (s *Store) Save(c Credential) error {
	if !c.complete() {
		return fmt.Errorf("credential: refusing to save incomplete credential")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("credential: create dir %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("credential: marshal: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("credential: write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("credential: rename temp file: %w", err)
	}

	cc := c
	s.cur = &cc
	return nil
}

// Clear removes the credential file and the in-memory copy. Removing
// an already-absent file is not an error.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cur = nil
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("credential: remove %s: %w", s.path, err)
	}
	return nil
}

// IsPaired reports whether a complete credential is resident in memory.
func (s *Store) IsPaired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur.complete()
}

// Current returns the in-memory credential, or nil if unpaired.
func (s *Store) Current() *Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return nil
	}
	cc := *s.cur
	return &cc
}
