package api

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestOptionalDefaults(t *testing.T) {
	var opt Optional
	if err := json.Unmarshal([]byte(`{"actions":[],"rules":[]}`), &opt); err != nil {
		t.Fatal(err)
	}
	if !opt.Enabled {
		t.Errorf("enabled should default to true")
	}
	if opt.Visible {
		t.Errorf("visible should default to false")
	}
}

func TestOsRuleCompareModes(t *testing.T) {
	linux := ClientInfo{OsType: LinuxX64}
	windows := ClientInfo{OsType: WindowsX64}

	eq := OsRule{OsType: LinuxX64}
	if !eq.Matches(linux) || eq.Matches(windows) {
		t.Errorf("equal rule misbehaves")
	}

	ne := OsRule{OsType: LinuxX64, CompareMode: CompareUnequal}
	if ne.Matches(linux) || !ne.Matches(windows) {
		t.Errorf("unequal rule misbehaves")
	}
}

func TestOptionalRelevance(t *testing.T) {
	linux := ClientInfo{OsType: LinuxX64}
	windows := ClientInfo{OsType: WindowsX64}

	invisible := Optional{
		Rules:   []Rule{{OsType: &OsRule{OsType: LinuxX64}}},
		Enabled: true,
	}
	if !invisible.RelevantTo(linux, nil) {
		t.Errorf("invisible optional with a matching rule should be relevant")
	}
	if invisible.RelevantTo(windows, nil) {
		t.Errorf("invisible optional should not be relevant on a non-matching platform")
	}

	visible := Optional{
		Rules:   []Rule{{OsType: &OsRule{OsType: LinuxX64}}},
		Enabled: true,
		Visible: true,
		Name:    "shaders",
	}
	if visible.RelevantTo(linux, nil) {
		t.Errorf("visible optional should need selection")
	}
	if !visible.RelevantTo(linux, []string{"shaders"}) {
		t.Errorf("selected visible optional should be relevant")
	}
	if !visible.VisibleTo(linux) || visible.VisibleTo(windows) {
		t.Errorf("visibility should follow the rules")
	}

	// An optional without rules never applies.
	bare := Optional{Enabled: true}
	if bare.AppliesTo(linux) || bare.RelevantTo(linux, nil) {
		t.Errorf("optional without rules should never apply")
	}
}

func TestFilesByLocationMerges(t *testing.T) {
	opt := Optional{
		Actions: []Action{
			{Files: &FileAction{
				Location: LocationLibraries,
				Files: OptionalFiles{
					OriginalPaths: []string{"a.jar"},
					RenamePaths:   map[string]string{"x.jar": "y.jar"},
				},
			}},
			{Files: &FileAction{
				Location: LocationLibraries,
				Files:    OptionalFiles{OriginalPaths: []string{"b.jar"}},
			}},
			{Args: []string{"-Dfoo=bar"}},
		},
	}

	files := opt.FilesByLocation()
	libs := files[LocationLibraries]
	if libs == nil {
		t.Fatalf("missing libraries set")
	}
	if !reflect.DeepEqual(libs.OriginalPaths, []string{"a.jar", "b.jar"}) {
		t.Errorf("original paths: %v", libs.OriginalPaths)
	}
	if libs.RenamePaths["x.jar"] != "y.jar" {
		t.Errorf("rename paths: %v", libs.RenamePaths)
	}
	if !reflect.DeepEqual(opt.ArgList(), []string{"-Dfoo=bar"}) {
		t.Errorf("args: %v", opt.ArgList())
	}
	if !reflect.DeepEqual(opt.LibraryRenames(), map[string]string{"x.jar": "y.jar"}) {
		t.Errorf("renames: %v", opt.LibraryRenames())
	}
}

func TestIrrelevantOptionalsNeedFiles(t *testing.T) {
	linux := ClientInfo{OsType: LinuxX64}
	info := ProfileInfo{
		Optionals: []Optional{
			{
				// Relevant: matching rule, invisible.
				Rules:   []Rule{{OsType: &OsRule{OsType: LinuxX64}}},
				Enabled: true,
				Actions: []Action{{Files: &FileAction{Location: LocationProfile}}},
			},
			{
				// Irrelevant with files: counted.
				Rules:   []Rule{{OsType: &OsRule{OsType: WindowsX64}}},
				Enabled: true,
				Actions: []Action{{Files: &FileAction{Location: LocationProfile}}},
			},
			{
				// Irrelevant without files: not counted.
				Rules:   []Rule{{OsType: &OsRule{OsType: WindowsX64}}},
				Enabled: true,
				Actions: []Action{{Args: []string{"-Dx"}}},
			},
		},
	}
	if n := len(info.RelevantOptionals(linux, nil)); n != 1 {
		t.Errorf("relevant: want 1, got %d", n)
	}
	if n := len(info.IrrelevantOptionals(linux, nil)); n != 1 {
		t.Errorf("irrelevant: want 1, got %d", n)
	}
}

func TestRemoteDirectoryFilterIdempotent(t *testing.T) {
	d := RemoteDirectory{
		"profiles/p/a": {Uri: "u/a", Size: 1},
		"profiles/p/b": {Uri: "u/b", Size: 2},
		"profiles/p/c": {Uri: "u/c", Size: 3},
	}
	files := &OptionalFiles{
		OriginalPaths: []string{"profiles/p/a"},
		RenamePaths:   map[string]string{"profiles/p/b": "whatever"},
	}

	once := d.Filter(files)
	if len(once) != 1 {
		t.Fatalf("want 1 entry, got %v", once)
	}
	if _, ok := once["profiles/p/c"]; !ok {
		t.Fatalf("kept the wrong entry: %v", once)
	}

	twice := once.Filter(files)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("filter is not idempotent: %v != %v", once, twice)
	}

	// A nil file set copies.
	copied := d.Filter(nil)
	if !reflect.DeepEqual(map[string]RemoteFile(copied), map[string]RemoteFile(d)) {
		t.Errorf("nil filter should copy: %v", copied)
	}
}

func TestHashedFileEqualsRemote(t *testing.T) {
	data := []byte("content")
	rf := NewRemoteFile("http://files/x", data)
	hf := NewHashedFile(data)
	if !hf.EqualsRemote(rf) {
		t.Errorf("same content should match")
	}
	if NewHashedFile([]byte("other!!")).EqualsRemote(rf) {
		t.Errorf("different content should not match")
	}
	if NewHashedFile([]byte("conten")).EqualsRemote(rf) {
		t.Errorf("different size should not match")
	}
}
