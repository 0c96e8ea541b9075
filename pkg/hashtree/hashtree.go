// Package hashtree walks the static content tree and publishes the per-profile
// manifests that clients reconcile against.
package hashtree

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/team-ns/launcher/pkg/api"
)

// defaultParallelism bounds the number of concurrent file reads during a
// rehash unless the service is configured otherwise.
const defaultParallelism = 50

// profileBlacklist names files under a profile dir that are never part of the
// manifest.
var profileBlacklist = []string{"profile.json", "description.txt"}

// DefaultJre is the runtime name used by profiles that don't pick one.
const DefaultJre = "default"

// Service owns the manifest map. Readers take the read lock for the duration
// of a lookup; a rehash builds its replacement off to the side and swaps it in
// with a single write, so readers observe either the old map or the new one,
// never a mixture. Published RemoteDirectory values are never mutated.
type Service struct {
	log  zerolog.Logger
	root string

	// Parallelism bounds concurrent file reads; 0 means the default.
	Parallelism int

	mu    sync.RWMutex
	files map[Location]api.RemoteDirectory
}

// New creates a service over the given static root (usually "static").
func New(log zerolog.Logger, root string) *Service {
	return &Service{
		log:   log,
		root:  root,
		files: make(map[Location]api.RemoteDirectory),
	}
}

// EnsureLayout creates the fixed static subtrees that a fresh install lacks.
func (s *Service) EnsureLayout() error {
	for _, dir := range []Kind{KindProfile, KindLibraries, KindAssets, KindNatives, KindJre} {
		p := filepath.Join(s.root, string(dir))
		if _, err := os.Stat(p); err == nil {
			continue
		}
		if err := os.MkdirAll(p, 0755); err != nil {
			return fmt.Errorf("create %s: %w", p, err)
		}
		s.log.Info().Msgf("created empty directory for %s", dir)
	}
	return nil
}

// Lookup returns the published manifest for loc. The returned map is shared
// and must be treated as read-only.
func (s *Service) Lookup(loc Location) (api.RemoteDirectory, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.files[loc]
	return d, ok
}

// Rehash refreshes the manifests of the sub-passes named by args (all of them
// when args is empty). A pass that fails keeps its previous manifests; the
// others still switch.
func (s *Service) Rehash(ctx context.Context, args []string, baseURL string, profiles []api.ProfileData) error {
	if err := s.EnsureLayout(); err != nil {
		return err
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	next := make(map[Location]api.RemoteDirectory)
	s.mu.RLock()
	for k, v := range s.files {
		next[k] = v
	}
	s.mu.RUnlock()

	passes := []struct {
		kind Kind
		fn   func(context.Context, map[Location]api.RemoteDirectory, string, []api.ProfileData) error
	}{
		{KindProfile, s.hashProfiles},
		{KindLibraries, s.hashLibraries},
		{KindAssets, s.hashAssets},
		{KindNatives, s.hashNatives},
		{KindJre, s.hashJres},
	}

	selected := make(map[Kind]bool, len(args))
	for _, a := range args {
		selected[Kind(a)] = true
	}

	for _, p := range passes {
		if len(selected) != 0 && !selected[p.kind] {
			continue
		}
		old := make(map[Location]api.RemoteDirectory)
		for k, v := range next {
			if k.Kind == p.kind {
				old[k] = v
				delete(next, k)
			}
		}
		if err := p.fn(ctx, next, baseURL, profiles); err != nil {
			s.log.Error().Err(err).Msgf("error while hashing %s", p.kind)
			for k := range next {
				if k.Kind == p.kind {
					delete(next, k)
				}
			}
			for k, v := range old {
				next[k] = v
			}
			continue
		}
		s.log.Info().Msgf("successfully rehashed %s", p.kind)
	}

	s.mu.Lock()
	s.files = next
	s.mu.Unlock()
	s.log.Info().Msg("rehash finished")
	return nil
}

func (s *Service) hashProfiles(ctx context.Context, next map[Location]api.RemoteDirectory, baseURL string, profiles []api.ProfileData) error {
	for i := range profiles {
		name := profiles[i].Profile.Name
		dir, err := s.hashDir(ctx, filepath.Join(s.root, "profiles", name), baseURL, profileBlacklist)
		if err != nil {
			return fmt.Errorf("profile %s: %w", name, err)
		}
		next[ProfileLocation(name)] = dir
	}
	return nil
}

func (s *Service) hashLibraries(ctx context.Context, next map[Location]api.RemoteDirectory, baseURL string, profiles []api.ProfileData) error {
	all, err := s.hashDir(ctx, filepath.Join(s.root, "libraries"), baseURL, nil)
	if err != nil {
		return err
	}
	for i := range profiles {
		profile := &profiles[i].Profile
		renames := make(map[string]string)
		for j := range profiles[i].Info.Optionals {
			for src, dst := range profiles[i].Info.Optionals[j].LibraryRenames() {
				renames[src] = dst
			}
		}

		libs := make(api.RemoteDirectory)
		for _, lib := range profile.Libraries {
			key := "libraries/" + api.NormalizePath(lib)
			if f, ok := all[key]; ok {
				libs[key] = f
				continue
			}
			var resolved bool
			for src, dst := range renames {
				if dst != lib {
					continue
				}
				skey := "libraries/" + api.NormalizePath(src)
				if f, ok := all[skey]; ok {
					libs[skey] = f
					resolved = true
				} else {
					s.log.Error().Msgf("profile %q optional renames lib %q from %q, which doesn't exist in files", profile.Name, lib, src)
				}
			}
			if !resolved {
				s.log.Error().Msgf("profile %q uses lib %q that doesn't exist in files", profile.Name, lib)
			}
		}
		next[LibrariesLocation(profile.Name)] = libs
	}
	return nil
}

func (s *Service) hashAssets(ctx context.Context, next map[Location]api.RemoteDirectory, baseURL string, _ []api.ProfileData) error {
	sets, err := firstLevelDirs(filepath.Join(s.root, "assets"))
	if err != nil {
		return err
	}
	for _, set := range sets {
		dir, err := s.hashDir(ctx, filepath.Join(s.root, "assets", set), baseURL, nil)
		if err != nil {
			return fmt.Errorf("asset set %s: %w", set, err)
		}
		next[AssetsLocation(set)] = dir
	}
	return nil
}

func (s *Service) hashNatives(ctx context.Context, next map[Location]api.RemoteDirectory, baseURL string, _ []api.ProfileData) error {
	versions, err := firstLevelDirs(filepath.Join(s.root, "natives"))
	if err != nil {
		return err
	}
	for _, version := range versions {
		groups := make(map[api.OsType][]string)
		for _, t := range api.OsTypes {
			groups[t] = nil
		}
		files, err := walkFiles(filepath.Join(s.root, "natives", version))
		if err != nil {
			return fmt.Errorf("natives %s: %w", version, err)
		}
		for _, path := range files {
			osType, err := NativeOsType(path)
			if err != nil {
				s.log.Error().Err(err).Msg("error while hashing natives")
				continue
			}
			groups[osType] = append(groups[osType], path)
		}
		for osType, paths := range groups {
			dir, err := s.hashFiles(ctx, paths, baseURL, nil)
			if err != nil {
				return fmt.Errorf("natives %s (%s): %w", version, osType, err)
			}
			next[NativesLocation(version, osType)] = dir
		}
	}
	return nil
}

func (s *Service) hashJres(ctx context.Context, next map[Location]api.RemoteDirectory, baseURL string, _ []api.ProfileData) error {
	names, err := firstLevelDirs(filepath.Join(s.root, "jre"))
	if err != nil {
		return err
	}
	for _, name := range names {
		for _, osType := range api.OsTypes {
			jreDir := filepath.Join(s.root, "jre", name, string(osType))
			if _, err := os.Stat(jreDir); err != nil {
				s.log.Warn().Msgf("no JRE %q for os type %s", name, osType)
				continue
			}
			files, err := walkFiles(jreDir)
			if err != nil {
				return fmt.Errorf("jre %s (%s): %w", name, osType, err)
			}
			// Clients get a uniform layout: the per-platform path component is
			// stripped, so jre/<name>/<os>/bin/java is delivered at
			// jre/<name>/bin/java.
			strip := func(rel string) string {
				parts := strings.SplitN(rel, "/", 4)
				if len(parts) < 4 {
					return rel
				}
				return parts[0] + "/" + parts[1] + "/" + parts[3]
			}
			dir, err := s.hashFiles(ctx, files, baseURL, strip)
			if err != nil {
				return fmt.Errorf("jre %s (%s): %w", name, osType, err)
			}
			next[JreLocation(name, osType)] = dir
		}
	}
	return nil
}

// hashDir hashes every non-hidden file under dir, excluding the given base
// names.
func (s *Service) hashDir(ctx context.Context, dir, baseURL string, exclude []string) (api.RemoteDirectory, error) {
	files, err := walkFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(exclude) != 0 {
		kept := files[:0]
	next:
		for _, f := range files {
			for _, x := range exclude {
				if filepath.Base(f) == x {
					continue next
				}
			}
			kept = append(kept, f)
		}
		files = kept
	}
	return s.hashFiles(ctx, files, baseURL, nil)
}

// hashFiles reads and hashes the given paths with bounded parallelism and
// returns them keyed by their slash-normalized path relative to the static
// root, optionally transformed by strip.
func (s *Service) hashFiles(ctx context.Context, paths []string, baseURL string, strip func(string) string) (api.RemoteDirectory, error) {
	out := make(api.RemoteDirectory, len(paths))
	var mu sync.Mutex

	limit := s.Parallelism
	if limit <= 0 {
		limit = defaultParallelism
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, path := range paths {
		path := path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rel, err := filepath.Rel(s.root, path)
			if err != nil {
				return fmt.Errorf("relativize %s: %w", path, err)
			}
			rel = api.NormalizePath(rel)
			if strip != nil {
				rel = strip(rel)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			f := api.NewRemoteFile(baseURL+"/"+rel, data)
			mu.Lock()
			out[rel] = f
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Resources resolves the filtered manifests a client should reconcile
// against, per the spec's relevance rules.
func (s *Service) Resources(data *api.ProfileData, osType api.OsType, selected []string) (*api.ProfileResourcesReply, error) {
	info := api.ClientInfo{OsType: osType}
	files := api.MergeOptionalFiles(data.Info.IrrelevantOptionals(info, selected))

	profile, ok := s.Lookup(ProfileLocation(data.Profile.Name))
	if !ok {
		return nil, fmt.Errorf("profile %q resources don't exist or are not synchronized", data.Profile.Name)
	}
	libraries, ok := s.Lookup(LibrariesLocation(data.Profile.Name))
	if !ok {
		return nil, fmt.Errorf("libraries for profile %q don't exist or are not synchronized", data.Profile.Name)
	}
	assets, ok := s.Lookup(AssetsLocation(data.Profile.Assets))
	if !ok {
		return nil, fmt.Errorf("assets %q don't exist or are not synchronized", data.Profile.Assets)
	}
	natives, ok := s.Lookup(NativesLocation(data.Profile.Version, osType))
	if !ok {
		return nil, fmt.Errorf("no natives for version %q on %s", data.Profile.Version, osType)
	}
	jreName := data.Profile.Jre
	if jreName == "" {
		jreName = DefaultJre
	}
	jre, ok := s.Lookup(JreLocation(jreName, osType))
	if !ok {
		return nil, fmt.Errorf("no JRE %q for %s", jreName, osType)
	}

	return &api.ProfileResourcesReply{
		Profile:   profile.Filter(files[api.LocationProfile]),
		Libraries: libraries.Filter(files[api.LocationLibraries]),
		Assets:    assets,
		Natives:   natives,
		Jre:       jre,
	}, nil
}

// walkFiles lists every regular file under dir, skipping hidden entries. A
// missing dir yields an empty list.
func walkFiles(dir string) ([]string, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	return files, nil
}

// firstLevelDirs lists the immediate subdirectories of dir.
func firstLevelDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
