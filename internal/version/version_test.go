package version

import "testing"

func TestGet(t *testing.T) {
	oldV, oldSHA, oldBuilt := Version, GitSHA, BuildTime
	defer func() { Version, GitSHA, BuildTime = oldV, oldSHA, oldBuilt }()

	Version, GitSHA, BuildTime = "1.2.3", "abc123", "2026-01-02"
	info := Get()
	if info.Version != "1.2.3" || info.GitSHA != "abc123" || info.BuildTime != "2026-01-02" {
		t.Fatalf("Get() = %+v", info)
	}
	if want := "neuroframes version 1.2.3 (commit: abc123, built: 2026-01-02)"; info.String() != want {
		t.Errorf("String() = %q, want %q", info.String(), want)
	}
}
