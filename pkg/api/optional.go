package api

import "encoding/json"

// Location names the manifest a file action applies to.
type Location string

const (
	LocationProfile   Location = "profile"
	LocationLibraries Location = "libraries"
	LocationAssets    Location = "assets"
)

// CompareMode controls how an OS rule matches.
type CompareMode string

const (
	CompareEqual   CompareMode = "equal"
	CompareUnequal CompareMode = "unequal"
)

// OsRule matches (or excludes) a platform.
type OsRule struct {
	OsType      OsType      `json:"osType"`
	CompareMode CompareMode `json:"compareMode,omitempty"`
}

// Matches reports whether info satisfies the rule. An absent compare mode
// means equal.
func (r OsRule) Matches(info ClientInfo) bool {
	if r.CompareMode == CompareUnequal {
		return r.OsType != info.OsType
	}
	return r.OsType == info.OsType
}

// Rule is a tagged union of rule kinds. OS matching is the only kind today.
type Rule struct {
	OsType *OsRule `json:"osType,omitempty"`
}

// Matches reports whether info satisfies the rule.
func (r Rule) Matches(info ClientInfo) bool {
	if r.OsType != nil {
		return r.OsType.Matches(info)
	}
	return false
}

// OptionalFiles is the file set of one or more file actions at a single
// location: files included as-is plus source-to-destination remappings.
type OptionalFiles struct {
	OriginalPaths []string          `json:"originalPaths,omitempty"`
	RenamePaths   map[string]string `json:"renamePaths,omitempty"`
}

// Contains reports whether path is part of the set, either directly or as a
// rename source.
func (f *OptionalFiles) Contains(path string) bool {
	for _, p := range f.OriginalPaths {
		if p == path {
			return true
		}
	}
	_, ok := f.RenamePaths[path]
	return ok
}

func (f *OptionalFiles) merge(other OptionalFiles) {
	f.OriginalPaths = append(f.OriginalPaths, other.OriginalPaths...)
	if len(other.RenamePaths) != 0 && f.RenamePaths == nil {
		f.RenamePaths = make(map[string]string, len(other.RenamePaths))
	}
	for src, dst := range other.RenamePaths {
		f.RenamePaths[src] = dst
	}
}

// FileAction binds a file set to a location.
type FileAction struct {
	Location Location      `json:"location"`
	Files    OptionalFiles `json:"files"`
}

// Action is a tagged union: either a file substitution or extra JVM
// arguments.
type Action struct {
	Files *FileAction `json:"files,omitempty"`
	Args  []string    `json:"args,omitempty"`
}

// Optional is a conditional feature modifier attached to a profile.
type Optional struct {
	Actions     []Action `json:"actions"`
	Rules       []Rule   `json:"rules"`
	Enabled     bool     `json:"enabled"`
	Visible     bool     `json:"visible"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
}

// UnmarshalJSON applies the defaults: enabled unless said otherwise, and
// invisible unless said otherwise.
func (o *Optional) UnmarshalJSON(b []byte) error {
	type optional Optional
	v := optional{Enabled: true}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*o = Optional(v)
	return nil
}

// AppliesTo reports whether any rule accepts info.
func (o *Optional) AppliesTo(info ClientInfo) bool {
	for _, r := range o.Rules {
		if r.Matches(info) {
			return true
		}
	}
	return false
}

// VisibleTo reports whether the optional should be shown to a client.
func (o *Optional) VisibleTo(info ClientInfo) bool {
	return o.Visible && o.AppliesTo(info)
}

// RelevantTo reports whether the optional's actions should be applied for a
// client: its rules accept the platform, and it is either auto-applied
// (invisible) or was selected by name.
func (o *Optional) RelevantTo(info ClientInfo, selected []string) bool {
	if !o.AppliesTo(info) {
		return false
	}
	if !o.Visible {
		return true
	}
	for _, name := range selected {
		if name == o.Name {
			return true
		}
	}
	return false
}

// HasFiles reports whether the optional carries any file action.
func (o *Optional) HasFiles() bool {
	for _, a := range o.Actions {
		if a.Files != nil {
			return true
		}
	}
	return false
}

// ArgList returns the extra JVM arguments of the optional in declaration
// order.
func (o *Optional) ArgList() []string {
	var args []string
	for _, a := range o.Actions {
		args = append(args, a.Args...)
	}
	return args
}

// FilesByLocation merges the optional's file actions per location.
func (o *Optional) FilesByLocation() map[Location]*OptionalFiles {
	m := make(map[Location]*OptionalFiles)
	for _, a := range o.Actions {
		if a.Files == nil {
			continue
		}
		set, ok := m[a.Files.Location]
		if !ok {
			set = &OptionalFiles{}
			m[a.Files.Location] = set
		}
		set.merge(a.Files.Files)
	}
	return m
}

// LibraryRenames returns the source-to-destination pairs of the optional's
// library file actions.
func (o *Optional) LibraryRenames() map[string]string {
	m := make(map[string]string)
	for _, a := range o.Actions {
		if a.Files == nil || a.Files.Location != LocationLibraries {
			continue
		}
		for src, dst := range a.Files.Files.RenamePaths {
			m[src] = dst
		}
	}
	return m
}

// MergeOptionalFiles merges the per-location file sets of every given
// optional into a single map.
func MergeOptionalFiles(optionals []Optional) map[Location]*OptionalFiles {
	m := make(map[Location]*OptionalFiles)
	for i := range optionals {
		for loc, set := range optionals[i].FilesByLocation() {
			dst, ok := m[loc]
			if !ok {
				dst = &OptionalFiles{}
				m[loc] = dst
			}
			dst.merge(*set)
		}
	}
	return m
}
