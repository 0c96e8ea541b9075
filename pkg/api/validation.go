// Package api contains the data model and wire messages shared between the
// launch server and the launcher.
package api

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/team-ns/launcher/pkg/t1ha"
)

// checksumSeed is the fixed t1ha2 seed used for every manifest checksum.
const checksumSeed = 1

// OsType identifies a platform a client can run on.
type OsType string

const (
	LinuxX32   OsType = "LinuxX32"
	LinuxX64   OsType = "LinuxX64"
	MacOsX64   OsType = "MacOsX64"
	WindowsX32 OsType = "WindowsX32"
	WindowsX64 OsType = "WindowsX64"
)

// OsTypes lists every supported platform.
var OsTypes = []OsType{LinuxX32, LinuxX64, MacOsX64, WindowsX32, WindowsX64}

// Valid reports whether t is a known platform.
func (t OsType) Valid() bool {
	switch t {
	case LinuxX32, LinuxX64, MacOsX64, WindowsX32, WindowsX64:
		return true
	}
	return false
}

// CurrentOs resolves the platform of the running process.
func CurrentOs() (OsType, error) {
	switch runtime.GOOS {
	case "linux":
		switch runtime.GOARCH {
		case "386":
			return LinuxX32, nil
		case "amd64":
			return LinuxX64, nil
		}
	case "darwin":
		if runtime.GOARCH == "amd64" {
			return MacOsX64, nil
		}
	case "windows":
		switch runtime.GOARCH {
		case "386":
			return WindowsX32, nil
		case "amd64":
			return WindowsX64, nil
		}
	}
	return "", fmt.Errorf("unsupported platform %s/%s", runtime.GOOS, runtime.GOARCH)
}

// ClientInfo is the platform info a client negotiates after connecting.
type ClientInfo struct {
	OsType OsType `json:"osType"`
}

// RemoteFile describes a downloadable file: where to get it, how big it is,
// and what it must hash to.
type RemoteFile struct {
	Uri      string      `json:"uri"`
	Size     int64       `json:"size"`
	Checksum t1ha.Sum128 `json:"checksum"`
}

// HashedFile is the local measurement of a file, comparable to a RemoteFile.
type HashedFile struct {
	Size     int64       `json:"size"`
	Checksum t1ha.Sum128 `json:"checksum"`
}

// EqualsRemote reports whether the local file matches the remote descriptor.
func (h HashedFile) EqualsRemote(r RemoteFile) bool {
	return h.Size == r.Size && h.Checksum == r.Checksum
}

// NewHashedFile measures data.
func NewHashedFile(data []byte) HashedFile {
	return HashedFile{
		Size:     int64(len(data)),
		Checksum: t1ha.Hash128(data, checksumSeed),
	}
}

// NewRemoteFile measures data and binds it to uri.
func NewRemoteFile(uri string, data []byte) RemoteFile {
	return RemoteFile{
		Uri:      uri,
		Size:     int64(len(data)),
		Checksum: t1ha.Hash128(data, checksumSeed),
	}
}

// RemoteDirectory maps slash-normalized relative paths to the files expected
// at them. A published RemoteDirectory is never mutated; filtering always
// copies.
type RemoteDirectory map[string]RemoteFile

// Filter returns a copy of d without the paths named by files. A nil files
// set returns a plain copy.
func (d RemoteDirectory) Filter(files *OptionalFiles) RemoteDirectory {
	out := make(RemoteDirectory, len(d))
	for p, f := range d {
		if files != nil && files.Contains(p) {
			continue
		}
		out[p] = f
	}
	return out
}

// Merge copies every entry of the others into d.
func (d RemoteDirectory) Merge(others ...RemoteDirectory) {
	for _, o := range others {
		for p, f := range o {
			d[p] = f
		}
	}
}

// NormalizePath converts an OS path to the forward-slash form used as
// RemoteDirectory keys and inside URIs.
func NormalizePath(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}
