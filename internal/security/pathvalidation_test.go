package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	root := filepath.Join(tmpDir, "run")
	elsewhere := filepath.Join(tmpDir, "elsewhere")
	for _, d := range []string{root, elsewhere} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatalf("Failed to create directory: %v", err)
		}
	}
	link := filepath.Join(root, "files")
	if err := os.Symlink(elsewhere, link); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}

	tests := []struct {
		name      string
		path      string
		dir       string
		wantError bool
	}{
		{"existing child", root, tmpDir, false},
		{"new nested file", filepath.Join(root, "report", "summary.json"), root, false},
		{"dot dot", filepath.Join(root, "..", "x"), root, true},
		{"relative escape", "../../../etc/passwd", root, true},
		{"absolute outside", "/etc/passwd", root, true},
		{"symlinked directory", link, root, true},
		{"file below symlink", filepath.Join(link, "frame_0000000000.vtk"), root, true},
		{"missing directory", filepath.Join(root, "x"), filepath.Join(tmpDir, "nope"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, tt.dir)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidatePathWithinDirectory() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestCheckOutputDirs(t *testing.T) {
	root := t.TempDir()
	if err := CheckOutputDirs(root, filepath.Join(root, "files"), filepath.Join(root, "report")); err != nil {
		t.Fatalf("CheckOutputDirs() = %v", err)
	}

	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(root, "report")); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}
	if err := CheckOutputDirs(root, filepath.Join(root, "files"), filepath.Join(root, "report")); err == nil {
		t.Fatal("expected symlinked report directory to be rejected")
	}
}
