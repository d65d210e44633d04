// Package frames builds per-step snapshots of the network from the static
// tables and the aligned activity.
package frames

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/neuroframes/internal/sim"
	"github.com/banshee-data/neuroframes/internal/sim/align"
	"github.com/banshee-data/neuroframes/internal/sim/connectivity"
	"github.com/banshee-data/neuroframes/internal/sim/tables"
)

// Point is one neuron in a frame.
type Point struct {
	Neuron   sim.NeuronID
	Position sim.Position
	Activity sim.Value
	// Deviation is Activity minus the neuron's calcium target; missing
	// when either is missing.
	Deviation sim.Value
	Area      int
}

// Stats summarises a frame. Means are NaN when no point has a value.
type Stats struct {
	Defined          int
	Missing          int
	MeanActivity     float64
	MinActivity      float64
	MaxActivity      float64
	MeanAbsDeviation float64
}

// Frame is the network state at one timeline step.
type Frame struct {
	Index  int
	Step   int64
	Points []Point
	// Edges is shared by every frame of a dataset.
	Edges *connectivity.EdgeSet
	Stats Stats
}

// Resolver resolves the activity of a neuron at a step.
type Resolver interface {
	Resolve(neuron sim.NeuronID, step int64) sim.Value
}

var _ Resolver = (*align.Aligner)(nil)

// Assembler yields frames in timeline order.
type Assembler struct {
	timeline align.Timeline
	values   Resolver
	pos      *tables.PositionTable
	targets  *tables.TargetTable
	edges    *connectivity.EdgeSet
	next     int

	// scratch buffers reused across frames for stats
	act, dev []float64
}

// NewAssembler prepares frame assembly. seriesIDs lists neurons that have
// activity logs; those without a position are reported once as
// unresolved references and never appear in a frame.
func NewAssembler(tl align.Timeline, values Resolver, pos *tables.PositionTable, targets *tables.TargetTable, edges *connectivity.EdgeSet, seriesIDs []sim.NeuronID, warn *sim.Collector) *Assembler {
	dropped := 0
	for _, id := range seriesIDs {
		if pos.Has(id) {
			continue
		}
		dropped++
		warn.Add(sim.Warning{
			Kind:   sim.UnresolvedReferenceWarning,
			Source: "monitors",
			Neuron: sim.NeuronRef(id),
			Detail: "activity log for neuron without position; dropped",
		})
	}
	if dropped > 0 {
		sim.Opsf("dropped %d neurons with activity but no position", dropped)
	}
	return &Assembler{
		timeline: tl,
		values:   values,
		pos:      pos,
		targets:  targets,
		edges:    edges,
		act:      make([]float64, 0, pos.Len()),
		dev:      make([]float64, 0, pos.Len()),
	}
}

// Len returns the total number of frames.
func (a *Assembler) Len() int { return len(a.timeline) }

// Next builds the next frame. It returns false once the timeline is
// exhausted.
func (a *Assembler) Next() (*Frame, bool) {
	if a.next >= len(a.timeline) {
		return nil, false
	}
	step := a.timeline[a.next]
	f := &Frame{
		Index:  a.next,
		Step:   step,
		Points: make([]Point, 0, a.pos.Len()),
		Edges:  a.edges,
	}
	a.next++

	for _, id := range a.pos.IDs() {
		entry, _ := a.pos.Entry(id)
		act := a.values.Resolve(id, step)
		dev := sim.Missing
		if target, ok := a.targets.Lookup(id); ok {
			dev = act.Sub(target)
		}
		f.Points = append(f.Points, Point{
			Neuron:    id,
			Position:  entry.Position,
			Activity:  act,
			Deviation: dev,
			Area:      entry.Area,
		})
	}
	f.Stats = a.stats(f.Points)
	sim.Tracef("frame %d step %d: %d points, %d missing", f.Index, f.Step, len(f.Points), f.Stats.Missing)
	return f, true
}

func (a *Assembler) stats(points []Point) Stats {
	a.act, a.dev = a.act[:0], a.dev[:0]
	for _, p := range points {
		if p.Activity.Valid {
			a.act = append(a.act, p.Activity.V)
		}
		if p.Deviation.Valid {
			a.dev = append(a.dev, math.Abs(p.Deviation.V))
		}
	}
	s := Stats{
		Defined:          len(a.act),
		Missing:          len(points) - len(a.act),
		MeanActivity:     math.NaN(),
		MinActivity:      math.NaN(),
		MaxActivity:      math.NaN(),
		MeanAbsDeviation: math.NaN(),
	}
	if len(a.act) > 0 {
		s.MeanActivity = stat.Mean(a.act, nil)
		s.MinActivity = floats.Min(a.act)
		s.MaxActivity = floats.Max(a.act)
	}
	if len(a.dev) > 0 {
		s.MeanAbsDeviation = stat.Mean(a.dev, nil)
	}
	return s
}
