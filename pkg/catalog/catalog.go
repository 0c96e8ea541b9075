// Package catalog owns the profile definitions read from the static tree.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/team-ns/launcher/pkg/api"
	"github.com/team-ns/launcher/pkg/hashtree"
)

// ErrNotFound is returned when a profile name has no definition.
var ErrNotFound = errors.New("profile not found")

// Service holds the loaded profiles behind a read lock; Reload replaces the
// whole set at once.
type Service struct {
	log  zerolog.Logger
	root string

	mu       sync.RWMutex
	profiles map[string]api.ProfileData
}

// New creates a service over the given static root. Call Reload before use.
func New(log zerolog.Logger, root string) *Service {
	return &Service{
		log:      log,
		root:     root,
		profiles: make(map[string]api.ProfileData),
	}
}

// Reload re-reads every profile definition from disk and swaps the set in.
func (s *Service) Reload() error {
	dir := filepath.Join(s.root, "profiles")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			entries = nil
		} else {
			return fmt.Errorf("read %s: %w", dir, err)
		}
	}

	profiles := make(map[string]api.ProfileData)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		data, err := s.loadProfile(filepath.Join(dir, e.Name()))
		if err != nil {
			s.log.Error().Err(err).Msgf("failed to read profile %q", e.Name())
			continue
		}
		profiles[data.Profile.Name] = *data
	}

	s.mu.Lock()
	s.profiles = profiles
	s.mu.Unlock()
	return nil
}

func (s *Service) loadProfile(dir string) (*api.ProfileData, error) {
	buf, err := os.ReadFile(filepath.Join(dir, "profile.json"))
	if err != nil {
		return nil, err
	}
	var profile api.Profile
	if err := json.Unmarshal(buf, &profile); err != nil {
		return nil, fmt.Errorf("parse profile.json: %w", err)
	}
	if profile.Jre == "" {
		profile.Jre = hashtree.DefaultJre
	}

	description := ""
	if buf, err := os.ReadFile(filepath.Join(dir, "description.txt")); err == nil {
		description = string(buf)
	} else {
		description = fmt.Sprintf("Minecraft server\nVersion: %s\nName: %s", profile.Version, profile.Name)
	}

	optionals, err := s.loadOptionals(dir, profile.Name)
	if err != nil {
		return nil, err
	}

	return &api.ProfileData{
		Profile: profile,
		Info: api.ProfileInfo{
			Name:        profile.Name,
			Version:     profile.Version,
			Description: description,
			Optionals:   optionals,
		},
	}, nil
}

func (s *Service) loadOptionals(dir, profile string) ([]api.Optional, error) {
	buf, err := os.ReadFile(filepath.Join(dir, "optionals.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var optionals []api.Optional
	if err := json.Unmarshal(buf, &optionals); err != nil {
		return nil, fmt.Errorf("parse optionals.json: %w", err)
	}

	seen := make(map[string]bool)
	kept := optionals[:0]
	for _, opt := range optionals {
		if opt.Visible && opt.Name == "" {
			s.log.Error().Msgf("found visible optional without name in profile %q", profile)
			continue
		}
		if opt.Name != "" && seen[opt.Name] {
			s.log.Error().Msgf("found duplicate name for optional %q in profile %q", opt.Name, profile)
			continue
		}
		if opt.Enabled && !opt.Visible && (opt.Name != "" || opt.Description != "") {
			s.log.Warn().Msgf("found useless name or description for invisible optional %q in profile %q", opt.Name, profile)
		}
		if opt.Name != "" {
			seen[opt.Name] = true
		}
		kept = append(kept, opt)
	}
	return kept, nil
}

// Get returns the profile data for name.
func (s *Service) Get(name string) (api.ProfileData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.profiles[name]
	if !ok {
		return api.ProfileData{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return data, nil
}

// List returns every profile's info with optionals filtered to what the
// client platform should see, sorted by name.
func (s *Service) List(info api.ClientInfo) []api.ProfileInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]api.ProfileInfo, 0, len(s.profiles))
	for name := range s.profiles {
		data := s.profiles[name]
		out = append(out, data.Info.VisibleInfo(info))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Data returns a snapshot of every loaded profile, for the hasher.
func (s *Service) Data() []api.ProfileData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]api.ProfileData, 0, len(s.profiles))
	for name := range s.profiles {
		out = append(out, s.profiles[name])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Profile.Name < out[j].Profile.Name })
	return out
}
