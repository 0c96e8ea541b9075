package validate

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/team-ns/launcher/pkg/api"
)

// pollInterval is the fallback re-scan period when native watches can't be
// registered.
const pollInterval = 2 * time.Second

// Violation is the error a Watcher returns when the game directory is
// tampered with during play.
type Violation struct {
	Path   string
	Reason string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("forbidden modification of %s: %s", v.Path, v.Reason)
}

// Watch monitors the verify dirs until ctx is canceled, returning a
// *Violation as soon as a monitored file stops matching the manifest. It
// prefers native OS notifications and falls back to polling if registration
// fails.
//
// This is a detector, not a sandbox: a determined local user can race it.
func Watch(ctx context.Context, log zerolog.Logger, gameDir string, remote api.RemoteDirectory, verifyDirs, excludePrefixes []string) error {
	w, err := newNativeWatcher(gameDir, verifyDirs, excludePrefixes)
	if err != nil {
		log.Warn().Err(err).Msg("native watch registration failed, falling back to polling")
		return pollWatch(ctx, gameDir, remote, verifyDirs, excludePrefixes)
	}
	defer w.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-w.Errors:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			log.Warn().Err(err).Msg("watcher error")
		case ev, ok := <-w.Events:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			fi, err := os.Stat(ev.Name)
			if err != nil {
				continue
			}
			if fi.IsDir() {
				// New directories must be watched too; native watches are
				// not recursive by themselves.
				if err := addRecursive(w, ev.Name, gameDir, excludePrefixes); err != nil {
					log.Warn().Err(err).Msgf("can't watch new directory %s", ev.Name)
				}
				continue
			}
			if err := checkPath(gameDir, ev.Name, remote, excludePrefixes); err != nil {
				return err
			}
		}
	}
}

func newNativeWatcher(gameDir string, verifyDirs, excludePrefixes []string) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, dir := range verifyDirs {
		root := filepath.Join(gameDir, filepath.FromSlash(dir))
		if fi, err := os.Stat(root); err != nil || !fi.IsDir() {
			continue
		}
		if err := addRecursive(w, root, gameDir, excludePrefixes); err != nil {
			w.Close()
			return nil, err
		}
	}
	return w, nil
}

func addRecursive(w *fsnotify.Watcher, root, gameDir string, excludePrefixes []string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(gameDir, path)
		if err != nil {
			return err
		}
		if rel != "." && excluded(api.NormalizePath(rel), excludePrefixes) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

// checkPath verifies one touched file against the manifest.
func checkPath(gameDir, path string, remote api.RemoteDirectory, excludePrefixes []string) error {
	rel, err := filepath.Rel(gameDir, path)
	if err != nil {
		return nil
	}
	rel = api.NormalizePath(rel)
	if excluded(rel, excludePrefixes) {
		return nil
	}
	rf, ok := remote[rel]
	if !ok {
		return &Violation{Path: rel, Reason: "unknown file"}
	}
	hashed, err := HashLocalFile(path)
	if err != nil {
		return &Violation{Path: rel, Reason: fmt.Sprintf("can't hash: %v", err)}
	}
	if !hashed.EqualsRemote(rf) {
		return &Violation{Path: rel, Reason: "checksum mismatch"}
	}
	return nil
}

type pollEntry struct {
	size    int64
	modTime time.Time
}

// pollWatch re-walks the verify dirs on an interval, comparing size and
// mtime snapshots and re-hashing anything that moved.
func pollWatch(ctx context.Context, gameDir string, remote api.RemoteDirectory, verifyDirs, excludePrefixes []string) error {
	snapshot, err := pollScan(gameDir, verifyDirs, excludePrefixes)
	if err != nil {
		return err
	}

	tk := time.NewTicker(pollInterval)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tk.C:
			next, err := pollScan(gameDir, verifyDirs, excludePrefixes)
			if err != nil {
				return err
			}
			for rel, e := range next {
				if prev, ok := snapshot[rel]; ok && prev == e {
					continue
				}
				if err := checkPath(gameDir, filepath.Join(gameDir, filepath.FromSlash(rel)), remote, excludePrefixes); err != nil {
					return err
				}
			}
			snapshot = next
		}
	}
}

func pollScan(gameDir string, verifyDirs, excludePrefixes []string) (map[string]pollEntry, error) {
	out := make(map[string]pollEntry)
	for _, dir := range verifyDirs {
		root := filepath.Join(gameDir, filepath.FromSlash(dir))
		if fi, err := os.Stat(root); err != nil || !fi.IsDir() {
			continue
		}
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(gameDir, path)
			if err != nil {
				return err
			}
			rel = api.NormalizePath(rel)
			if excluded(rel, excludePrefixes) {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return nil
			}
			out[rel] = pollEntry{size: fi.Size(), modTime: fi.ModTime()}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}
	}
	return out, nil
}
