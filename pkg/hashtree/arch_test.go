package hashtree

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/team-ns/launcher/pkg/api"
)

// fakeDLL builds a minimal PE stub with the given machine type.
func fakeDLL(machine uint16) []byte {
	buf := make([]byte, 0x80)
	copy(buf, "MZ")
	binary.LittleEndian.PutUint32(buf[0x3C:], 0x40) // PE header offset
	copy(buf[0x40:], "PE\x00\x00")
	binary.LittleEndian.PutUint16(buf[0x44:], machine)
	return buf
}

// fakeELF builds a minimal ELF stub with the given class byte.
func fakeELF(class byte) []byte {
	buf := make([]byte, 16)
	copy(buf, "\x7fELF")
	buf[4] = class
	return buf
}

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNativeOsType(t *testing.T) {
	for _, tc := range []struct {
		name string
		data []byte
		want api.OsType
	}{
		{"w32.dll", fakeDLL(0x014C), api.WindowsX32},
		{"w64.dll", fakeDLL(0x8664), api.WindowsX64},
		{"l32.so", fakeELF(1), api.LinuxX32},
		{"l64.so", fakeELF(2), api.LinuxX64},
		{"mac.dylib", nil, api.MacOsX64},
		{"mac.jnilib", nil, api.MacOsX64},
	} {
		path := writeTemp(t, tc.name, tc.data)
		got, err := NativeOsType(path)
		if err != nil {
			t.Errorf("%s: %v", tc.name, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s: want %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestNativeOsTypeErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		data []byte
	}{
		{"unknown-machine.dll", fakeDLL(0x0123)},
		{"short.dll", []byte("MZ")}, // shorter than 0x40
		{"short.so", []byte("\x7fELF")[:4]},
		{"unknown-class.so", fakeELF(9)},
		{"excess.txt", []byte("hello")},
		{"noext", []byte("hello")},
	} {
		path := writeTemp(t, tc.name, tc.data)
		if _, err := NativeOsType(path); err == nil {
			t.Errorf("%s: expected classification error", tc.name)
		}
	}
}
