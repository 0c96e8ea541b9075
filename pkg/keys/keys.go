// Package keys provisions the server keypair and seals passwords for the
// wire. Passwords travel as base64 of an anonymous sealed box (ephemeral
// X25519 plus an AEAD) addressed to the server public key.
package keys

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/nacl/box"
)

const (
	publicKeyFile = "public_key"
	secretKeyFile = "secret_key"
)

// ServerKeys is the server-side keypair.
type ServerKeys struct {
	pub  *[32]byte
	priv *[32]byte
}

// LoadServer reads the keypair from dir, generating and persisting a fresh
// one if either half is missing.
func LoadServer(dir string) (*ServerKeys, error) {
	pubPath := filepath.Join(dir, publicKeyFile)
	privPath := filepath.Join(dir, secretKeyFile)

	pub, err1 := readKey(pubPath)
	priv, err2 := readKey(privPath)
	if err1 == nil && err2 == nil {
		return &ServerKeys{pub: pub, priv: priv}, nil
	}
	if !errors.Is(err1, os.ErrNotExist) && err1 != nil {
		return nil, fmt.Errorf("read %s: %w", pubPath, err1)
	}
	if !errors.Is(err2, os.ErrNotExist) && err2 != nil {
		return nil, fmt.Errorf("read %s: %w", privPath, err2)
	}

	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	if err := os.WriteFile(pubPath, pub[:], 0644); err != nil {
		return nil, fmt.Errorf("write %s: %w", pubPath, err)
	}
	if err := os.WriteFile(privPath, priv[:], 0600); err != nil {
		return nil, fmt.Errorf("write %s: %w", privPath, err)
	}
	return &ServerKeys{pub: pub, priv: priv}, nil
}

func readKey(path string) (*[32]byte, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(buf) != 32 {
		return nil, fmt.Errorf("key %s: want 32 bytes, got %d", path, len(buf))
	}
	var k [32]byte
	copy(k[:], buf)
	return &k, nil
}

// Public returns the public half, the value embedded into launcher builds.
func (k *ServerKeys) Public() [32]byte {
	return *k.pub
}

// Decrypt opens a sealed base64 password from the wire.
func (k *ServerKeys) Decrypt(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("decode password: %w", err)
	}
	msg, ok := box.OpenAnonymous(nil, raw, k.pub, k.priv)
	if !ok {
		return "", errors.New("invalid encrypted password")
	}
	return string(msg), nil
}

// Encrypt seals password to the given public key, producing the base64 wire
// form. This is the launcher side of the envelope.
func Encrypt(pub [32]byte, password string) (string, error) {
	sealed, err := box.SealAnonymous(nil, []byte(password), &pub, rand.Reader)
	if err != nil {
		return "", fmt.Errorf("seal password: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}
