package validate

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/team-ns/launcher/pkg/api"
	"github.com/team-ns/launcher/pkg/launcher/host"
)

func writeLocal(t *testing.T, gameDir, rel string, data []byte) {
	t.Helper()
	path := filepath.Join(gameDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

// remoteFixture serves three files and returns the matching manifest.
func remoteFixture(t *testing.T) (api.RemoteDirectory, map[string][]byte, *httptest.Server) {
	t.Helper()
	files := map[string][]byte{
		"mods/ok.jar":     []byte("fine"),
		"mods/big.bin":    bytes.Repeat([]byte{0xAB}, 2_000_000),
		"config/game.cfg": []byte("cfg"),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := files[strings.TrimPrefix(r.URL.Path, "/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, r.URL.Path, time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(srv.Close)

	remote := api.RemoteDirectory{}
	for rel, data := range files {
		remote[rel] = api.NewRemoteFile(srv.URL+"/"+rel, data)
	}
	return remote, files, srv
}

func TestValidateFreshInstall(t *testing.T) {
	remote, _, _ := remoteFixture(t)
	gameDir := t.TempDir()

	res, err := Validate(gameDir, remote, []string{"mods", "config"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Download) != 3 || len(res.Remove) != 0 {
		t.Fatalf("fresh install: download=%d remove=%d", len(res.Download), len(res.Remove))
	}
}

func TestValidateTamperedFile(t *testing.T) {
	remote, files, _ := remoteFixture(t)
	gameDir := t.TempDir()
	for rel, data := range files {
		writeLocal(t, gameDir, rel, data)
	}
	writeLocal(t, gameDir, "mods/ok.jar", bytes.Repeat([]byte{0xFF}, 100))

	res, err := Validate(gameDir, remote, []string{"mods", "config"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Download) != 1 || len(res.Remove) != 0 {
		t.Fatalf("tamper: download=%v remove=%v", res.Download, res.Remove)
	}
	if !strings.HasSuffix(api.NormalizePath(res.Download[0].Path), "mods/ok.jar") {
		t.Fatalf("wrong file scheduled: %s", res.Download[0].Path)
	}
}

func TestValidateForeignFile(t *testing.T) {
	remote, files, _ := remoteFixture(t)
	gameDir := t.TempDir()
	for rel, data := range files {
		writeLocal(t, gameDir, rel, data)
	}
	writeLocal(t, gameDir, "mods/evil.jar", []byte("evil"))

	res, err := Validate(gameDir, remote, []string{"mods"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Download) != 0 || len(res.Remove) != 1 || res.Remove[0] != "mods/evil.jar" {
		t.Fatalf("foreign: download=%v remove=%v", res.Download, res.Remove)
	}

	// An excluded prefix protects the foreign file.
	res, err = Validate(gameDir, remote, []string{"mods"}, []string{"mods/evil"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Remove) != 0 {
		t.Fatalf("excluded foreign file still scheduled: %v", res.Remove)
	}
}

func TestValidateEmptyVerifyDirsAndManifest(t *testing.T) {
	gameDir := t.TempDir()
	res, err := Validate(gameDir, api.RemoteDirectory{}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Ok() {
		t.Fatalf("empty everything should validate trivially: %+v", res)
	}
}

func TestReconcile(t *testing.T) {
	remote, files, _ := remoteFixture(t)
	gameDir := t.TempDir()

	// Partial install with one tampered file and one foreign file.
	writeLocal(t, gameDir, "mods/ok.jar", []byte("wrong content"))
	writeLocal(t, gameDir, "mods/evil.jar", []byte("evil"))

	err := Reconcile(context.Background(), zerolog.Nop(), nil, host.NopEvents{}, gameDir, remote, []string{"mods", "config"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	for rel, want := range files {
		got, err := os.ReadFile(filepath.Join(gameDir, filepath.FromSlash(rel)))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("%s not reconciled", rel)
		}
	}
	if _, err := os.Stat(filepath.Join(gameDir, "mods", "evil.jar")); !os.IsNotExist(err) {
		t.Errorf("foreign file not removed")
	}

	res, err := Validate(gameDir, remote, []string{"mods", "config"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Ok() {
		t.Errorf("post-reconcile validation failed: %+v", res)
	}
}

func TestWatcherDetectsTamper(t *testing.T) {
	remote, files, _ := remoteFixture(t)
	gameDir := t.TempDir()
	for rel, data := range files {
		writeLocal(t, gameDir, rel, data)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		errc <- Watch(ctx, zerolog.Nop(), gameDir, remote, []string{"mods"}, nil)
	}()

	// Give the watcher a moment to register, then append one byte to a
	// monitored file.
	time.Sleep(500 * time.Millisecond)
	f, err := os.OpenFile(filepath.Join(gameDir, "mods", "ok.jar"), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte{0x00}); err != nil {
		t.Fatal(err)
	}
	f.Close()

	select {
	case err := <-errc:
		var v *Violation
		if !errors.As(err, &v) {
			t.Fatalf("want a violation, got %v", err)
		}
		if v.Path != "mods/ok.jar" {
			t.Errorf("violation path: %s", v.Path)
		}
	case <-ctx.Done():
		t.Fatalf("watcher missed the modification")
	}
}

func TestWatcherDetectsForeignFile(t *testing.T) {
	remote, files, _ := remoteFixture(t)
	gameDir := t.TempDir()
	for rel, data := range files {
		writeLocal(t, gameDir, rel, data)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		errc <- Watch(ctx, zerolog.Nop(), gameDir, remote, []string{"mods"}, nil)
	}()

	time.Sleep(500 * time.Millisecond)
	writeLocal(t, gameDir, "mods/injected.jar", []byte("nope"))

	select {
	case err := <-errc:
		var v *Violation
		if !errors.As(err, &v) {
			t.Fatalf("want a violation, got %v", err)
		}
	case <-ctx.Done():
		t.Fatalf("watcher missed the foreign file")
	}
}

