// Package game launches the game runtime as a child process and brokers its
// join handshakes back to the session.
package game

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog"

	"github.com/team-ns/launcher/pkg/api"
)

// AuthInfo is the authenticated identity substituted into client arguments.
type AuthInfo struct {
	Username    string
	UUID        string
	AccessToken string
}

// Runner builds and runs the JVM invocation for a resolved profile.
type Runner struct {
	Log     zerolog.Logger
	GameDir string
	RamMB   int64
	Profile api.Profile
	Auth    AuthInfo
}

// javaBinary locates the delivered runtime's java executable.
func (r *Runner) javaBinary() string {
	jre := r.Profile.Jre
	if jre == "" {
		jre = "default"
	}
	bin := filepath.Join(r.GameDir, "jre", jre, "bin", "java")
	if runtime.GOOS == "windows" {
		bin += ".exe"
	}
	return bin
}

// Args assembles the full JVM argument list: memory, natives path,
// classpath, profile JVM args, main class, then client args with the auth
// substitutions applied.
func (r *Runner) Args() []string {
	var args []string
	if r.RamMB > 0 {
		args = append(args, fmt.Sprintf("-Xmx%dM", r.RamMB))
	}
	args = append(args, "-Djava.library.path="+filepath.Join(r.GameDir, "natives", r.Profile.Version))

	var cp []string
	for _, p := range r.Profile.ClassPath {
		cp = append(cp, filepath.Join(r.GameDir, filepath.FromSlash(p)))
	}
	for _, lib := range r.Profile.Libraries {
		cp = append(cp, filepath.Join(r.GameDir, "libraries", filepath.FromSlash(lib)))
	}
	if len(cp) != 0 {
		args = append(args, "-cp", strings.Join(cp, string(os.PathListSeparator)))
	}

	args = append(args, r.Profile.JvmArgs...)
	args = append(args, r.Profile.MainClass)

	sub := strings.NewReplacer(
		"{username}", r.Auth.Username,
		"{uuid}", r.Auth.UUID,
		"{accessToken}", r.Auth.AccessToken,
		"{assetsDir}", filepath.Join(r.GameDir, r.Profile.AssetsDir),
		"{gameDir}", r.GameDir,
	)
	for _, a := range r.Profile.ClientArgs {
		args = append(args, sub.Replace(a))
	}
	return args
}

// Run starts the game and waits for it, returning the JVM's exit code.
func (r *Runner) Run(ctx context.Context) (int, error) {
	cmd := exec.CommandContext(ctx, r.javaBinary(), r.Args()...)
	cmd.Dir = r.GameDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	r.Log.Info().Str("java", cmd.Path).Msgf("starting game %s", r.Profile.Name)
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	if ee, ok := err.(*exec.ExitError); ok {
		return ee.ExitCode(), nil
	}
	return -1, fmt.Errorf("run game: %w", err)
}
