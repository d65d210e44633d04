// Package testutil provides shared test utilities and fixtures.
//
// Run builds a simulation run directory in any fsutil.FileSystem, so that
// stage and pipeline tests describe their inputs as a handful of rows.
package testutil

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/neuroframes/internal/fsutil"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// Run is a fixture builder for a run directory.
type Run struct {
	t    testing.TB
	fsys fsutil.FileSystem
	Root string
}

// NewRun starts a fixture rooted at root.
func NewRun(t testing.TB, fsys fsutil.FileSystem, root string) *Run {
	t.Helper()
	AssertNoError(t, fsys.MkdirAll(root, 0o755))
	return &Run{t: t, fsys: fsys, Root: root}
}

// File writes rel with the given lines.
func (r *Run) File(rel string, lines ...string) *Run {
	r.t.Helper()
	content := strings.Join(lines, "\n")
	if len(lines) > 0 {
		content += "\n"
	}
	name := filepath.Join(r.Root, rel)
	AssertNoError(r.t, r.fsys.MkdirAll(filepath.Dir(name), 0o755))
	AssertNoError(r.t, r.fsys.WriteFile(name, []byte(content), 0o644))
	return r
}

// Positions writes positions/rank_0_positions.txt.
func (r *Run) Positions(rows ...string) *Run {
	r.t.Helper()
	return r.File("positions/rank_0_positions.txt", rows...)
}

// Targets writes calcium_targets.txt.
func (r *Run) Targets(rows ...string) *Run {
	r.t.Helper()
	return r.File("calcium_targets.txt", rows...)
}

// Monitor writes monitors/<rank>_<neuron>.csv.
func (r *Run) Monitor(rank int, neuron int64, rows ...string) *Run {
	r.t.Helper()
	return r.File(fmt.Sprintf("monitors/%d_%d.csv", rank, neuron), rows...)
}

// Connections writes connections.txt.
func (r *Run) Connections(rows ...string) *Run {
	r.t.Helper()
	return r.File("connections.txt", rows...)
}

// Path joins rel onto the run root.
func (r *Run) Path(rel string) string { return filepath.Join(r.Root, rel) }

// Snapshot reads every file under dir into a map keyed by path relative
// to dir.
func Snapshot(t testing.TB, fsys *fsutil.MemoryFileSystem, dir string) map[string][]byte {
	t.Helper()
	out := make(map[string][]byte)
	for _, name := range fsys.Files(dir) {
		data, err := fsys.ReadFile(name)
		AssertNoError(t, err)
		rel, err := filepath.Rel(dir, name)
		AssertNoError(t, err)
		out[rel] = data
	}
	return out
}
