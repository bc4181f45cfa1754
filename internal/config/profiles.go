package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ConnectionType distinguishes the two profile flavors.
type ConnectionType string

const (
	TypePostgres ConnectionType = "postgres"
	TypeSupabase ConnectionType = "supabase"
)

// Profile is a saved connection the UI can pick from. Config is either
// a PgConfig or a SupabaseConfig depending on Type.
type Profile struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Type       ConnectionType  `json:"type"`
	Config     json.RawMessage `json:"config"`
	Color      string          `json:"color,omitempty"`
	IsDefault  bool            `json:"is_default"`
	CreatedAt  string          `json:"created_at"`
	LastUsedAt string          `json:"last_used_at,omitempty"`
}

// ProfileStore persists profiles as a JSON file. All access goes
// through one mutex; the file is small and rewritten whole on save.
type ProfileStore struct {
	mu   sync.Mutex
	path string
}

func NewProfileStore(path string) *ProfileStore {
	return &ProfileStore{path: path}
}

// List returns every saved profile. A missing file yields an empty list.
func (s *ProfileStore) List() ([]Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Save adds or replaces a profile by id, assigning an id and creation
// timestamp to new entries.
func (s *ProfileStore) Save(p Profile) (Profile, error) {
	if p.Type != TypePostgres && p.Type != TypeSupabase {
		return Profile{}, fmt.Errorf("unknown connection type %q", p.Type)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	profiles, err := s.load()
	if err != nil {
		return Profile{}, err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
		p.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	replaced := false
	for i := range profiles {
		if profiles[i].ID == p.ID {
			profiles[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		profiles = append(profiles, p)
	}
	if err := s.store(profiles); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Delete removes a profile by id; deleting an unknown id is a no-op.
func (s *ProfileStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	profiles, err := s.load()
	if err != nil {
		return err
	}
	kept := profiles[:0]
	for _, p := range profiles {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	return s.store(kept)
}

func (s *ProfileStore) load() ([]Profile, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []Profile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	var profiles []Profile
	if err := json.Unmarshal(b, &profiles); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}
	return profiles, nil
}

func (s *ProfileStore) store(profiles []Profile) error {
	b, err := json.MarshalIndent(profiles, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write profiles: %w", err)
	}
	return os.Rename(tmp, s.path)
}
