// Package locate discovers the raw artifacts of one simulation run.
package locate

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/banshee-data/neuroframes/internal/fsutil"
	"github.com/banshee-data/neuroframes/internal/sim"
)

// Relative locations inside a run root.
const (
	MonitorsDir       = "monitors"
	ExtractedDir      = "monitors_extracted"
	FilesDir          = "files"
	ReportDir         = "report"
	PositionsFile     = "positions/rank_0_positions.txt"
	CalciumTargetFile = "calcium_targets.txt"
	NetworkDir        = "network"
	ConnectionsFile   = "connections.txt"
)

var (
	monitorName = regexp.MustCompile(`^(\d+)_(\d+)\.csv$`)
	networkName = regexp.MustCompile(`^rank_0_step_(\d+)_out_(no_)?network\.txt$`)
)

// MonitorFile is one per-neuron monitor shard.
type MonitorFile struct {
	Rank   int
	Neuron sim.NeuronID
	Path   string
}

// Layout is the indexed view of a run directory.
type Layout struct {
	Root         string
	Monitors     []MonitorFile
	Positions    string
	Targets      string
	Connectivity string // empty when no explicit connectivity file exists
	ExtractedDir string
	FilesDir     string
	ReportDir    string
	IgnoredFiles []string
}

// Options tunes discovery.
type Options struct {
	// IDBase is subtracted from the neuron id encoded in monitor file names.
	IDBase int
}

// Locate indexes the run rooted at root. It never fails for a missing
// static file; the loaders report those, so that the error names the
// file kind. A missing monitors directory yields no monitor files.
func Locate(fsys fsutil.FileSystem, root string, opts Options) (*Layout, error) {
	info, err := fsys.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat run root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("run root %s is not a directory", root)
	}

	l := &Layout{
		Root:         root,
		Positions:    filepath.Join(root, PositionsFile),
		Targets:      filepath.Join(root, CalciumTargetFile),
		ExtractedDir: filepath.Join(root, ExtractedDir),
		FilesDir:     filepath.Join(root, FilesDir),
		ReportDir:    filepath.Join(root, ReportDir),
	}

	if err := l.indexMonitors(fsys, opts); err != nil {
		return nil, err
	}
	l.Connectivity = findConnectivity(fsys, root)

	sim.Diagf("located run %s: %d monitor files, connectivity=%q", root, len(l.Monitors), l.Connectivity)
	return l, nil
}

func (l *Layout) indexMonitors(fsys fsutil.FileSystem, opts Options) error {
	dir := filepath.Join(l.Root, MonitorsDir)
	entries, err := fsys.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		sim.Opsf("no %s directory under %s; every neuron will have missing activity", MonitorsDir, l.Root)
		return nil
	}
	if err != nil {
		return fmt.Errorf("list monitors: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := monitorName.FindStringSubmatch(e.Name())
		if m == nil {
			l.IgnoredFiles = append(l.IgnoredFiles, e.Name())
			sim.Diagf("ignoring %s: not a monitor file name", e.Name())
			continue
		}
		rank, _ := strconv.Atoi(m[1])
		id, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			l.IgnoredFiles = append(l.IgnoredFiles, e.Name())
			continue
		}
		l.Monitors = append(l.Monitors, MonitorFile{
			Rank:   rank,
			Neuron: sim.NeuronID(id - int64(opts.IDBase)),
			Path:   filepath.Join(dir, e.Name()),
		})
	}

	sort.Slice(l.Monitors, func(i, j int) bool {
		if l.Monitors[i].Neuron != l.Monitors[j].Neuron {
			return l.Monitors[i].Neuron < l.Monitors[j].Neuron
		}
		return l.Monitors[i].Rank < l.Monitors[j].Rank
	})
	return nil
}

// findConnectivity prefers the simulator's latest network dump and falls
// back to a plain connections.txt. Dumps are looked up in network/ and
// then in the run root; both the plastic (out_network) and static
// (out_no_network) variants are accepted. On equal steps network/ beats
// the root and out_network beats out_no_network.
func findConnectivity(fsys fsutil.FileSystem, root string) string {
	best, bestStep, bestStatic := "", int64(-1), true
	for _, dir := range []string{filepath.Join(root, NetworkDir), root} {
		entries, err := fsys.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			m := networkName.FindStringSubmatch(e.Name())
			if m == nil || e.IsDir() {
				continue
			}
			step, err := strconv.ParseInt(m[1], 10, 64)
			if err != nil {
				continue
			}
			static := m[2] != ""
			if step > bestStep || (step == bestStep && bestStatic && !static && filepath.Dir(best) == dir) {
				best, bestStep, bestStatic = filepath.Join(dir, e.Name()), step, static
			}
		}
	}
	if best != "" {
		return best
	}
	if p := filepath.Join(root, ConnectionsFile); fsys.Exists(p) {
		return p
	}
	return ""
}

// Neurons returns the distinct neuron ids that have monitor files.
func (l *Layout) Neurons() []sim.NeuronID {
	var out []sim.NeuronID
	for i, m := range l.Monitors {
		if i == 0 || l.Monitors[i-1].Neuron != m.Neuron {
			out = append(out, m.Neuron)
		}
	}
	return out
}
