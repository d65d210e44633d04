package connectivity

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/banshee-data/neuroframes/internal/fsutil"
	"github.com/banshee-data/neuroframes/internal/sim"
	"github.com/banshee-data/neuroframes/internal/sim/tables"
)

// Resolver produces the static edge set of a run.
type Resolver interface {
	Resolve(pos *tables.PositionTable, warn *sim.Collector) (*EdgeSet, error)
}

// Options selects and tunes a resolver.
type Options struct {
	// Path is an explicit connectivity file; empty when the run has none.
	Path string
	// IDBase is subtracted from ids read from Path.
	IDBase int
	// Threshold enables the proximity fallback when > 0.
	Threshold float64
	// MaxNeighbours caps proximity edges per neuron; 0 is unlimited.
	MaxNeighbours int
}

// New picks the explicit file when present, otherwise proximity when a
// threshold is configured, otherwise a resolver yielding no edges.
func New(fsys fsutil.FileSystem, opts Options) Resolver {
	switch {
	case opts.Path != "":
		return &FileResolver{FS: fsys, Path: opts.Path, IDBase: opts.IDBase}
	case opts.Threshold > 0:
		return &ProximityResolver{Threshold: opts.Threshold, MaxNeighbours: opts.MaxNeighbours}
	default:
		return emptyResolver{}
	}
}

type emptyResolver struct{}

func (emptyResolver) Resolve(*tables.PositionTable, *sim.Collector) (*EdgeSet, error) {
	sim.Diagf("no connectivity file and no proximity threshold; dataset has no edges")
	return &EdgeSet{}, nil
}

// FileResolver reads explicit connectivity. Two row layouts are accepted:
//
//	src tgt [weight]
//	target_rank target_id source_rank source_id weight ...
//
// the second being the simulator's network dump.
type FileResolver struct {
	FS     fsutil.FileSystem
	Path   string
	IDBase int
}

// Resolve implements Resolver.
func (r *FileResolver) Resolve(pos *tables.PositionTable, warn *sim.Collector) (*EdgeSet, error) {
	f, err := r.FS.Open(r.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &sim.MissingDataError{Kind: "connectivity", Path: r.Path, Err: err}
	}
	if err != nil {
		return nil, fmt.Errorf("open connectivity: %w", err)
	}
	defer f.Close()

	var candidates []Candidate
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if sim.IsComment(line) {
			continue
		}
		c, err := r.parseRow(sim.Fields(line))
		if err != nil {
			warn.Add(sim.Warning{Kind: sim.ParseWarning, Source: r.Path, Line: lineNo, Detail: err.Error()})
			continue
		}
		c.Line = lineNo
		candidates = append(candidates, c)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read connectivity: %w", err)
	}

	set := Build(candidates, pos, r.Path, warn)
	sim.Diagf("resolved %d edges from %d rows of %s", set.Len(), len(candidates), r.Path)
	return set, nil
}

func (r *FileResolver) parseRow(f []string) (Candidate, error) {
	var a, b string
	switch {
	case len(f) >= 4:
		a, b = f[1], f[3]
	case len(f) >= 2:
		a, b = f[0], f[1]
	default:
		return Candidate{}, fmt.Errorf("want 2 or at least 4 fields, got %d", len(f))
	}
	from, err := strconv.ParseInt(a, 10, 64)
	if err != nil {
		return Candidate{}, fmt.Errorf("neuron id %q: %w", a, err)
	}
	to, err := strconv.ParseInt(b, 10, 64)
	if err != nil {
		return Candidate{}, fmt.Errorf("neuron id %q: %w", b, err)
	}
	base := int64(r.IDBase)
	return Candidate{From: sim.NeuronID(from - base), To: sim.NeuronID(to - base)}, nil
}

// Resolve builds the edge set with the resolver New selects.
func Resolve(fsys fsutil.FileSystem, opts Options, pos *tables.PositionTable, warn *sim.Collector) (*EdgeSet, error) {
	return New(fsys, opts).Resolve(pos, warn)
}
