package keys

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	k, err := LoadServer(dir)
	if err != nil {
		t.Fatal(err)
	}

	sealed, err := Encrypt(k.Public(), "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if sealed == "hunter2" {
		t.Fatalf("password left in the clear")
	}

	got, err := k.Decrypt(sealed)
	if err != nil {
		t.Fatal(err)
	}
	if got != "hunter2" {
		t.Fatalf("want hunter2, got %q", got)
	}
}

func TestKeysPersist(t *testing.T) {
	dir := t.TempDir()
	k1, err := LoadServer(dir)
	if err != nil {
		t.Fatal(err)
	}
	k2, err := LoadServer(dir)
	if err != nil {
		t.Fatal(err)
	}
	if k1.Public() != k2.Public() {
		t.Fatalf("keypair should be provisioned once and reused")
	}

	for _, name := range []string{"public_key", "secret_key"} {
		buf, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatal(err)
		}
		if len(buf) != 32 {
			t.Errorf("%s: want 32 bytes, got %d", name, len(buf))
		}
	}
}

func TestDecryptGarbage(t *testing.T) {
	k, err := LoadServer(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := k.Decrypt("not base64!!"); err == nil {
		t.Errorf("expected base64 error")
	}
	if _, err := k.Decrypt("AAAA"); err == nil {
		t.Errorf("expected open error")
	}
}
