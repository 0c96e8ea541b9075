package api

// Profile is the immutable launch descriptor of one game version.
type Profile struct {
	Name            string   `json:"name"`
	Version         string   `json:"version"`
	Libraries       []string `json:"libraries"`
	ClassPath       []string `json:"classPath"`
	MainClass       string   `json:"mainClass"`
	JvmArgs         []string `json:"jvmArgs"`
	ClientArgs      []string `json:"clientArgs"`
	Assets          string   `json:"assets"`
	AssetsDir       string   `json:"assetsDir"`
	Jre             string   `json:"jre,omitempty"`
	UpdateVerify    []string `json:"updateVerify,omitempty"`
	UpdateExclusion []string `json:"updateExclusion,omitempty"`
}

// ProfileInfo is the user-visible projection of a profile.
type ProfileInfo struct {
	Name        string     `json:"name"`
	Version     string     `json:"version"`
	Description string     `json:"description"`
	Optionals   []Optional `json:"optionals,omitempty"`
}

// ProfileData pairs a profile with its projection.
type ProfileData struct {
	Profile Profile     `json:"profile"`
	Info    ProfileInfo `json:"profileInfo"`
}

// RelevantOptionals returns the optionals whose actions apply for the client.
func (p *ProfileInfo) RelevantOptionals(info ClientInfo, selected []string) []Optional {
	var out []Optional
	for i := range p.Optionals {
		if p.Optionals[i].RelevantTo(info, selected) {
			out = append(out, p.Optionals[i])
		}
	}
	return out
}

// IrrelevantOptionals returns the complement of RelevantOptionals, restricted
// to optionals carrying file actions (the ones whose files must be subtracted
// from the manifests).
func (p *ProfileInfo) IrrelevantOptionals(info ClientInfo, selected []string) []Optional {
	var out []Optional
	for i := range p.Optionals {
		if !p.Optionals[i].RelevantTo(info, selected) && p.Optionals[i].HasFiles() {
			out = append(out, p.Optionals[i])
		}
	}
	return out
}

// VisibleInfo returns a copy of the info with the optional list filtered to
// what the client should see.
func (p *ProfileInfo) VisibleInfo(info ClientInfo) ProfileInfo {
	out := *p
	out.Optionals = nil
	for i := range p.Optionals {
		if p.Optionals[i].VisibleTo(info) {
			out.Optionals = append(out.Optionals, p.Optionals[i])
		}
	}
	return out
}
