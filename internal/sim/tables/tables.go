// Package tables loads the static per-neuron reference tables of a run:
// soma positions (with brain area) and calcium targets. Tables are loaded
// once and only expose read accessors afterwards.
package tables

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/banshee-data/neuroframes/internal/fsutil"
	"github.com/banshee-data/neuroframes/internal/sim"
)

// Options tunes parsing shared by both loaders.
type Options struct {
	// IDBase is subtracted from every neuron id read from disk.
	IDBase int
}

// PositionEntry is one row of the position table.
type PositionEntry struct {
	Position sim.Position
	// Area is the brain area index parsed from "area_N"; -1 when absent.
	Area int
}

// PositionTable maps neurons to soma positions.
type PositionTable struct {
	entries map[sim.NeuronID]PositionEntry
	ids     []sim.NeuronID
}

// Lookup returns the position of id.
func (t *PositionTable) Lookup(id sim.NeuronID) (sim.Position, bool) {
	e, ok := t.entries[id]
	return e.Position, ok
}

// Entry returns the full row for id.
func (t *PositionTable) Entry(id sim.NeuronID) (PositionEntry, bool) {
	e, ok := t.entries[id]
	return e, ok
}

// Has reports whether id has a position.
func (t *PositionTable) Has(id sim.NeuronID) bool {
	_, ok := t.entries[id]
	return ok
}

// IDs returns the neuron ids in ascending order. The slice is shared;
// callers must not modify it.
func (t *PositionTable) IDs() []sim.NeuronID { return t.ids }

// Len returns the number of neurons with a position.
func (t *PositionTable) Len() int { return len(t.ids) }

// NewPositionTable builds a table from an in-memory map.
func NewPositionTable(entries map[sim.NeuronID]PositionEntry) *PositionTable {
	t := &PositionTable{entries: make(map[sim.NeuronID]PositionEntry, len(entries))}
	for id, e := range entries {
		t.entries[id] = e
	}
	t.ids = sortedIDs(t.entries)
	return t
}

// TargetTable maps neurons to their calcium targets.
type TargetTable struct {
	targets map[sim.NeuronID]float64
}

// Lookup returns the calcium target of id.
func (t *TargetTable) Lookup(id sim.NeuronID) (sim.Value, bool) {
	v, ok := t.targets[id]
	if !ok {
		return sim.Missing, false
	}
	return sim.Some(v), true
}

// Len returns the number of targets.
func (t *TargetTable) Len() int { return len(t.targets) }

// NewTargetTable builds a table from an in-memory map.
func NewTargetTable(targets map[sim.NeuronID]float64) *TargetTable {
	t := &TargetTable{targets: make(map[sim.NeuronID]float64, len(targets))}
	for id, v := range targets {
		t.targets[id] = v
	}
	return t
}

// LoadPositions parses "neuron_id x y z [area [type]]" rows.
func LoadPositions(fsys fsutil.FileSystem, path string, opts Options, warn *sim.Collector) (*PositionTable, error) {
	entries := make(map[sim.NeuronID]PositionEntry)
	err := scanTable(fsys, path, "positions", warn, func(lineNo int, f []string) error {
		if len(f) < 4 {
			return fmt.Errorf("want at least 4 fields, got %d", len(f))
		}
		id, err := parseID(f[0], opts.IDBase)
		if err != nil {
			return err
		}
		var xyz [3]float64
		for i := range xyz {
			if xyz[i], err = strconv.ParseFloat(f[i+1], 64); err != nil {
				return fmt.Errorf("coordinate %d: %w", i, err)
			}
		}
		e := PositionEntry{Position: sim.Position{X: xyz[0], Y: xyz[1], Z: xyz[2]}, Area: -1}
		if len(f) >= 5 {
			e.Area = parseArea(f[4])
		}
		if _, dup := entries[id]; dup {
			warn.Add(sim.Warning{Kind: sim.DuplicateWarning, Source: path, Line: lineNo, Neuron: sim.NeuronRef(id), Detail: "duplicate position, last row wins"})
		}
		entries[id] = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	t := &PositionTable{entries: entries, ids: sortedIDs(entries)}
	sim.Diagf("loaded %d positions from %s", t.Len(), path)
	return t, nil
}

// LoadTargets parses "neuron_id target" rows.
func LoadTargets(fsys fsutil.FileSystem, path string, opts Options, warn *sim.Collector) (*TargetTable, error) {
	targets := make(map[sim.NeuronID]float64)
	err := scanTable(fsys, path, "calcium_targets", warn, func(lineNo int, f []string) error {
		if len(f) < 2 {
			return fmt.Errorf("want 2 fields, got %d", len(f))
		}
		id, err := parseID(f[0], opts.IDBase)
		if err != nil {
			return err
		}
		v, err := strconv.ParseFloat(f[1], 64)
		if err != nil {
			return fmt.Errorf("target: %w", err)
		}
		if _, dup := targets[id]; dup {
			warn.Add(sim.Warning{Kind: sim.DuplicateWarning, Source: path, Line: lineNo, Neuron: sim.NeuronRef(id), Detail: "duplicate calcium target, last row wins"})
		}
		targets[id] = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	sim.Diagf("loaded %d calcium targets from %s", len(targets), path)
	return &TargetTable{targets: targets}, nil
}

// scanTable feeds every record line of path to row. Row errors become
// parse warnings; an absent file is a MissingDataError.
func scanTable(fsys fsutil.FileSystem, path, kind string, warn *sim.Collector, row func(lineNo int, f []string) error) error {
	f, err := fsys.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &sim.MissingDataError{Kind: kind, Path: path, Err: err}
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", kind, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if sim.IsComment(line) {
			continue
		}
		if err := row(lineNo, sim.Fields(line)); err != nil {
			warn.Add(sim.Warning{Kind: sim.ParseWarning, Source: path, Line: lineNo, Detail: err.Error()})
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read %s: %w", kind, err)
	}
	return nil
}

func parseID(s string, base int) (sim.NeuronID, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("neuron id %q: %w", s, err)
	}
	return sim.NeuronID(id - int64(base)), nil
}

// parseArea accepts "area_7" or "7"; anything else is -1.
func parseArea(s string) int {
	s = strings.TrimPrefix(s, "area_")
	n, err := strconv.Atoi(s)
	if err != nil {
		return -1
	}
	return n
}

func sortedIDs[V any](m map[sim.NeuronID]V) []sim.NeuronID {
	ids := make([]sim.NeuronID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
