package version

import (
	"runtime/debug"
	"testing"
	"time"
)

func TestOverridePrefersBuildVersion(t *testing.T) {
	got := infoFrom(&debug.BuildInfo{Main: debug.Module{Path: "example.com/kiosk", Version: "v0.9.0"}}, "v1.2.3+dirty")
	if got.Version != "v1.2.3" {
		t.Fatalf("expected build version, got %q", got.Version)
	}
	if got.Module != "example.com/kiosk" {
		t.Fatalf("expected module from build info, got %q", got.Module)
	}
}

func TestPseudoVersionFromVCS(t *testing.T) {
	ts := time.Date(2025, time.January, 2, 3, 4, 5, 0, time.UTC)
	info := &debug.BuildInfo{
		Main: debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "1234567890abcdef"},
			{Key: "vcs.time", Value: ts.Format(time.RFC3339)},
			{Key: "vcs.modified", Value: "true"},
		},
	}
	got := infoFrom(info, "")
	if got.Version != "v0.0.0-20250102030405-1234567890ab" {
		t.Fatalf("unexpected pseudo version: %q", got.Version)
	}
	if !got.Dirty || got.Revision != "1234567890abcdef" {
		t.Fatalf("expected vcs fields, got %+v", got)
	}
	if got.Module != defaultModule {
		t.Fatalf("expected default module, got %q", got.Module)
	}
}

func TestNilBuildInfo(t *testing.T) {
	got := infoFrom(nil, "")
	if got.Version != "v0.0.0-unknown" || got.String() != defaultModule+" v0.0.0-unknown" {
		t.Fatalf("unexpected info: %+v", got)
	}
}
