// Package launcher is the launcher core: it authenticates, reconciles the
// game directory, launches the game, and exposes the command surface an
// embedding UI shell drives.
package launcher

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/team-ns/launcher/pkg/api"
)

// Config is the bundle configuration baked into a launcher distribution.
type Config struct {
	GameDir     string `json:"gameDir"`
	Websocket   string `json:"websocket"`
	Ram         int64  `json:"ram"`
	ProjectName string `json:"projectName"`
	// PublicKey is the base64 of the server's 32-byte public key.
	PublicKey string `json:"publicKey"`
	// Version is reported to the server's version gate.
	Version string `json:"version,omitempty"`
	// Window is the UI shell's geometry; the core carries it through.
	Window Window `json:"window"`
}

// Window is the embedded UI's window configuration.
type Window struct {
	Frameless   bool `json:"frameless"`
	Resizable   bool `json:"resizable"`
	Transparent bool `json:"transparent"`
	Width       int  `json:"width"`
	Height      int  `json:"height"`
}

// LoadConfig reads a bundle config, expanding %homeDir% in the game dir.
func LoadConfig(path string) (Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := json.Unmarshal(buf, &c); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if strings.Contains(c.GameDir, "%homeDir%") {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve home dir: %w", err)
		}
		c.GameDir = strings.ReplaceAll(c.GameDir, "%homeDir%", api.NormalizePath(home))
	}
	return c, nil
}

// PublicKeyBytes decodes the embedded server public key.
func (c Config) PublicKeyBytes() ([32]byte, error) {
	var key [32]byte
	raw, err := base64.StdEncoding.DecodeString(c.PublicKey)
	if err != nil {
		return key, fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != 32 {
		return key, fmt.Errorf("public key must be 32 bytes, got %d", len(raw))
	}
	copy(key[:], raw)
	return key, nil
}
