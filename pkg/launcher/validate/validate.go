// Package validate reconciles a local game directory against a remote
// manifest and keeps watch over it while the game runs.
package validate

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/team-ns/launcher/pkg/api"
	"github.com/team-ns/launcher/pkg/launcher/downloader"
	"github.com/team-ns/launcher/pkg/launcher/host"
)

// Result is the outcome of one validation pass.
type Result struct {
	// Download lists the manifest entries that are missing or mismatched.
	Download []downloader.Task
	// Remove lists game-dir-relative paths of foreign files.
	Remove []string
}

// Ok reports whether the directory matches the manifest.
func (r Result) Ok() bool {
	return len(r.Download) == 0 && len(r.Remove) == 0
}

// HashLocalFile measures the file at path.
func HashLocalFile(path string) (api.HashedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return api.HashedFile{}, err
	}
	return api.NewHashedFile(data), nil
}

// Validate diffs gameDir against remote. Files under the verify dirs that
// the manifest doesn't know are scheduled for removal; manifest entries that
// are missing or mismatched on disk are scheduled for download. The exclude
// prefixes are skipped on both sides.
func Validate(gameDir string, remote api.RemoteDirectory, verifyDirs, excludePrefixes []string) (Result, error) {
	var res Result

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
			if _, ok := remote[rel]; !ok {
				res.Remove = append(res.Remove, rel)
			}
			return nil
		})
		if err != nil {
			return Result{}, fmt.Errorf("walk %s: %w", root, err)
		}
	}

	paths := make([]string, 0, len(remote))
	for p := range remote {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if excluded(p, excludePrefixes) {
			continue
		}
		rf := remote[p]
		hashed, err := HashLocalFile(filepath.Join(gameDir, filepath.FromSlash(p)))
		if err != nil || !hashed.EqualsRemote(rf) {
			res.Download = append(res.Download, downloader.Task{
				Path: filepath.Join(gameDir, filepath.FromSlash(p)),
				File: rf,
			})
		}
	}
	sort.Strings(res.Remove)
	return res, nil
}

func excluded(rel string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(rel, p) {
			return true
		}
	}
	return false
}

// Reconcile brings gameDir in sync with remote: download what's missing,
// delete what's foreign, then validate once more. A second mismatch is
// fatal.
func Reconcile(ctx context.Context, log zerolog.Logger, httpc *http.Client, events host.Events, gameDir string, remote api.RemoteDirectory, verifyDirs, excludePrefixes []string) error {
	res, err := Validate(gameDir, remote, verifyDirs, excludePrefixes)
	if err != nil {
		return err
	}
	if !res.Ok() {
		log.Debug().Int("download", len(res.Download)).Int("remove", len(res.Remove)).Msg("directory needs update")
		if err := downloader.Download(ctx, httpc, res.Download, events); err != nil {
			return err
		}
		for _, rel := range res.Remove {
			if err := os.Remove(filepath.Join(gameDir, filepath.FromSlash(rel))); err != nil {
				return fmt.Errorf("remove %s: %w", rel, err)
			}
		}
	}

	res, err = Validate(gameDir, remote, verifyDirs, excludePrefixes)
	if err != nil {
		return err
	}
	if !res.Ok() {
		var offenders []string
		for _, t := range res.Download {
			offenders = append(offenders, t.Path)
		}
		offenders = append(offenders, res.Remove...)
		if len(offenders) > 5 {
			offenders = offenders[:5]
		}
		return fmt.Errorf("sync error: %v", offenders)
	}
	return nil
}
