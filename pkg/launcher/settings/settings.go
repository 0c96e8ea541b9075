// Package settings persists the launcher's user state as a compact binary
// blob in the game directory.
package settings

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// fileName is the blob's name inside the game directory.
const fileName = "settings.bin"

// Settings is the persisted launcher state. Both the per-profile optional
// selections and the free-form properties map are carried; unknown fields in
// stored blobs are ignored on load.
type Settings struct {
	GameDir       string
	Ram           int64
	SaveData      bool
	LastName      string
	SavedPassword string
	Optionals     map[string][]string
	Properties    map[string]string
}

// OptionalsFor returns the selected optional names for a profile.
func (s *Settings) OptionalsFor(profile string) []string {
	return s.Optionals[profile]
}

// Store guards the settings; the mutex is held only while copying in or out.
type Store struct {
	mu sync.Mutex
	s  Settings
}

// NewStore wraps initial settings.
func NewStore(initial Settings) *Store {
	return &Store{s: initial}
}

// Get copies the current settings out.
func (st *Store) Get() Settings {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s
}

// Update replaces the settings under the lock and returns the new value.
func (st *Store) Update(fn func(*Settings)) Settings {
	st.mu.Lock()
	defer st.mu.Unlock()
	fn(&st.s)
	return st.s
}

// Save writes the settings blob into its game directory.
func (st *Store) Save() error {
	s := st.Get()
	return Save(s)
}

// Save writes s to <gameDir>/settings.bin.
func Save(s Settings) error {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := gob.NewEncoder(zw).Encode(s); err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	path := filepath.Join(s.GameDir, fileName)
	if err := os.MkdirAll(s.GameDir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", s.GameDir, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Load reads the settings blob from gameDir.
func Load(gameDir string) (Settings, error) {
	path := filepath.Join(gameDir, fileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return Settings{}, fmt.Errorf("read %s: %w", path, err)
	}
	var s Settings
	if err := gob.NewDecoder(zr).Decode(&s); err != nil {
		return Settings{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return s, nil
}
