package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ProfileStore keeps one JSON document per user: durable preferences and
// context the session_start hook injects into the prompt.
type ProfileStore struct {
	dir string
	mu  sync.Mutex
}

func NewProfileStore(dir string) (*ProfileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	return &ProfileStore{dir: dir}, nil
}

func (p *ProfileStore) path(userID string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(userID)
	return filepath.Join(p.dir, safe+".json")
}

// Load returns the user's profile, or nil when none exists.
func (p *ProfileStore) Load(userID string) map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := os.ReadFile(p.path(userID))
	if err != nil {
		return nil
	}
	var profile map[string]any
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil
	}
	return profile
}

// Save replaces the user's profile atomically (write-then-rename).
func (p *ProfileStore) Save(userID string, profile map[string]any) error {
	data, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	tmp := p.path(userID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	if err := os.Rename(tmp, p.path(userID)); err != nil {
		return fmt.Errorf("replace profile: %w", err)
	}
	return nil
}
