package hashtree

import "github.com/team-ns/launcher/pkg/api"

// Kind names a manifest sub-pass.
type Kind string

const (
	KindProfile   Kind = "profiles"
	KindLibraries Kind = "libraries"
	KindAssets    Kind = "assets"
	KindNatives   Kind = "natives"
	KindJre       Kind = "jre"
)

// Location is the comparable key a manifest is published under.
type Location struct {
	Kind    Kind
	Name    string // profile name, asset set, or JRE name
	Version string // natives only
	Os      api.OsType
}

// ProfileLocation keys the per-profile file manifest.
func ProfileLocation(name string) Location {
	return Location{Kind: KindProfile, Name: name}
}

// LibrariesLocation keys the resolved library manifest of a profile.
func LibrariesLocation(profile string) Location {
	return Location{Kind: KindLibraries, Name: profile}
}

// AssetsLocation keys the manifest of an asset set.
func AssetsLocation(assetSet string) Location {
	return Location{Kind: KindAssets, Name: assetSet}
}

// NativesLocation keys the natives of one version on one platform.
func NativesLocation(version string, os api.OsType) Location {
	return Location{Kind: KindNatives, Version: version, Os: os}
}

// JreLocation keys the runtime of one name on one platform.
func JreLocation(name string, os api.OsType) Location {
	return Location{Kind: KindJre, Name: name, Os: os}
}
