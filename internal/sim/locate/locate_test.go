package locate

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/neuroframes/internal/fsutil"
	"github.com/banshee-data/neuroframes/internal/sim"
)

func writeAll(t *testing.T, fsys fsutil.FileSystem, files ...string) {
	t.Helper()
	for _, f := range files {
		if err := fsys.WriteFile(f, []byte("0,1\n"), 0644); err != nil {
			t.Fatalf("write %s: %v", f, err)
		}
	}
}

func TestLocate_IndexesMonitors(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	root := "/run"
	writeAll(t, fsys,
		"/run/monitors/0_10.csv",
		"/run/monitors/0_2.csv",
		"/run/monitors/1_2.csv",
		"/run/monitors/README.md",
		"/run/positions/rank_0_positions.txt",
	)

	l, err := Locate(fsys, root, Options{})
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}

	want := []MonitorFile{
		{Rank: 0, Neuron: 2, Path: "/run/monitors/0_2.csv"},
		{Rank: 1, Neuron: 2, Path: "/run/monitors/1_2.csv"},
		{Rank: 0, Neuron: 10, Path: "/run/monitors/0_10.csv"},
	}
	if diff := cmp.Diff(want, l.Monitors); diff != "" {
		t.Errorf("Monitors mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]sim.NeuronID{2, 10}, l.Neurons()); diff != "" {
		t.Errorf("Neurons mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"README.md"}, l.IgnoredFiles); diff != "" {
		t.Errorf("IgnoredFiles mismatch (-want +got):\n%s", diff)
	}
	if l.Positions != filepath.Join(root, PositionsFile) {
		t.Errorf("Positions = %q", l.Positions)
	}
	if l.Targets != filepath.Join(root, CalciumTargetFile) {
		t.Errorf("Targets = %q", l.Targets)
	}
	if l.FilesDir != "/run/files" || l.ExtractedDir != "/run/monitors_extracted" {
		t.Errorf("output dirs = %q, %q", l.FilesDir, l.ExtractedDir)
	}
	if l.Connectivity != "" {
		t.Errorf("Connectivity = %q, want empty", l.Connectivity)
	}
}

func TestLocate_IDBase(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	writeAll(t, fsys, "/run/monitors/0_1.csv", "/run/monitors/0_3.csv")

	l, err := Locate(fsys, "/run", Options{IDBase: 1})
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if diff := cmp.Diff([]sim.NeuronID{0, 2}, l.Neurons()); diff != "" {
		t.Errorf("Neurons mismatch (-want +got):\n%s", diff)
	}
}

func TestLocate_NoMonitorsDir(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	writeAll(t, fsys, "/run/calcium_targets.txt")

	l, err := Locate(fsys, "/run", Options{})
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if len(l.Monitors) != 0 {
		t.Errorf("Monitors = %v, want none", l.Monitors)
	}
}

func TestLocate_MissingRoot(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	if _, err := Locate(fsys, "/nowhere", Options{}); err == nil {
		t.Error("expected error for missing root")
	}

	writeAll(t, fsys, "/file")
	if _, err := Locate(fsys, "/file", Options{}); err == nil {
		t.Error("expected error for non-directory root")
	}
}

func TestLocate_Connectivity(t *testing.T) {
	t.Run("latest network dump wins", func(t *testing.T) {
		fsys := fsutil.NewMemoryFileSystem()
		writeAll(t, fsys,
			"/run/network/rank_0_step_100000_out_network.txt",
			"/run/network/rank_0_step_1000000_out_network.txt",
			"/run/network/notes.txt",
			"/run/connections.txt",
		)
		l, err := Locate(fsys, "/run", Options{})
		if err != nil {
			t.Fatalf("Locate() error = %v", err)
		}
		if l.Connectivity != "/run/network/rank_0_step_1000000_out_network.txt" {
			t.Errorf("Connectivity = %q", l.Connectivity)
		}
	})

	t.Run("static network dump", func(t *testing.T) {
		tests := []struct {
			name  string
			files []string
			want  string
		}{
			{
				name:  "in network dir",
				files: []string{"/run/network/rank_0_step_1000000_out_no_network.txt", "/run/connections.txt"},
				want:  "/run/network/rank_0_step_1000000_out_no_network.txt",
			},
			{
				name:  "in run root",
				files: []string{"/run/rank_0_step_1000000_out_no_network.txt"},
				want:  "/run/rank_0_step_1000000_out_no_network.txt",
			},
			{
				name: "plastic dump wins on equal step",
				files: []string{
					"/run/network/rank_0_step_500_out_no_network.txt",
					"/run/network/rank_0_step_500_out_network.txt",
				},
				want: "/run/network/rank_0_step_500_out_network.txt",
			},
			{
				name: "network dir wins on equal step",
				files: []string{
					"/run/rank_0_step_500_out_network.txt",
					"/run/network/rank_0_step_500_out_no_network.txt",
				},
				want: "/run/network/rank_0_step_500_out_no_network.txt",
			},
			{
				name: "later step in root wins",
				files: []string{
					"/run/network/rank_0_step_500_out_network.txt",
					"/run/rank_0_step_900_out_no_network.txt",
				},
				want: "/run/rank_0_step_900_out_no_network.txt",
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				fsys := fsutil.NewMemoryFileSystem()
				writeAll(t, fsys, tt.files...)
				l, err := Locate(fsys, "/run", Options{})
				if err != nil {
					t.Fatalf("Locate() error = %v", err)
				}
				if l.Connectivity != tt.want {
					t.Errorf("Connectivity = %q, want %q", l.Connectivity, tt.want)
				}
			})
		}
	})

	t.Run("connections.txt fallback", func(t *testing.T) {
		fsys := fsutil.NewMemoryFileSystem()
		writeAll(t, fsys, "/run/connections.txt")
		l, err := Locate(fsys, "/run", Options{})
		if err != nil {
			t.Fatalf("Locate() error = %v", err)
		}
		if l.Connectivity != "/run/connections.txt" {
			t.Errorf("Connectivity = %q", l.Connectivity)
		}
	})
}
