package hashtree

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/team-ns/launcher/pkg/api"
)

// NativeOsType classifies a native library by extension and binary header.
//
// Rules:
//   - .dll: the PE header offset is the little-endian u32 at 0x3C; the
//     machine field is the little-endian u16 at offset+4 (0x014C = x86,
//     0x8664 = x64).
//   - .so: the ELF class byte at offset 4 (1 = 32-bit, 2 = 64-bit).
//   - .dylib / .jnilib: always MacOsX64.
func NativeOsType(path string) (api.OsType, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".dll":
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		var b [4]byte
		if _, err := f.ReadAt(b[:4], 0x3C); err != nil {
			return "", fmt.Errorf("read PE header offset of %s: %w", path, err)
		}
		peOffset := binary.LittleEndian.Uint32(b[:4])
		if _, err := f.ReadAt(b[:2], int64(peOffset)+4); err != nil {
			return "", fmt.Errorf("read PE machine field of %s: %w", path, err)
		}
		switch binary.LittleEndian.Uint16(b[:2]) {
		case 0x014C:
			return api.WindowsX32, nil
		case 0x8664:
			return api.WindowsX64, nil
		default:
			return "", fmt.Errorf("unknown PE machine type in %s", path)
		}
	case ".so":
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		var b [1]byte
		if _, err := f.ReadAt(b[:], 4); err != nil {
			return "", fmt.Errorf("read ELF class of %s: %w", path, err)
		}
		switch b[0] {
		case 1:
			return api.LinuxX32, nil
		case 2:
			return api.LinuxX64, nil
		default:
			return "", fmt.Errorf("unknown ELF class %d in %s", b[0], path)
		}
	case ".dylib", ".jnilib":
		return api.MacOsX64, nil
	default:
		return "", fmt.Errorf("unexpected file %s in natives dir", path)
	}
}
