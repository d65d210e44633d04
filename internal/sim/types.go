package sim

import (
	"fmt"
	"math"
)

// NeuronID identifies a neuron within one simulation run.
type NeuronID int64

// Position is a soma location in simulation space.
type Position struct {
	X, Y, Z float64
}

// Dist2 returns the squared Euclidean distance between p and q.
func (p Position) Dist2(q Position) float64 {
	dx, dy, dz := p.X-q.X, p.Y-q.Y, p.Z-q.Z
	return dx*dx + dy*dy + dz*dz
}

// ActivitySample is one logged (step, value) pair from a monitor file.
type ActivitySample struct {
	Step  int64
	Value float64
}

// TimeSeries is the ordered activity log of a single neuron.
// Samples are sorted by Step ascending with no duplicate steps.
type TimeSeries struct {
	Neuron  NeuronID
	Samples []ActivitySample

	// Corrupt counts lines that failed to parse.
	Corrupt int
	// Incomplete marks a series whose corruption exceeded the configured
	// threshold. It resolves to missing at every step.
	Incomplete bool
}

// FirstStep returns the first logged step, or false for an empty series.
func (ts *TimeSeries) FirstStep() (int64, bool) {
	if ts == nil || len(ts.Samples) == 0 {
		return 0, false
	}
	return ts.Samples[0].Step, true
}

// LastStep returns the last logged step, or false for an empty series.
func (ts *TimeSeries) LastStep() (int64, bool) {
	if ts == nil || len(ts.Samples) == 0 {
		return 0, false
	}
	return ts.Samples[len(ts.Samples)-1].Step, true
}

// Edge is an unordered connection between two neurons, stored with A < B.
type Edge struct {
	A, B NeuronID
}

// NewEdge returns the canonical form of the pair (a, b).
func NewEdge(a, b NeuronID) Edge {
	if b < a {
		a, b = b, a
	}
	return Edge{A: a, B: b}
}

// IsSelfLoop reports whether both endpoints are the same neuron.
func (e Edge) IsSelfLoop() bool { return e.A == e.B }

func (e Edge) String() string { return fmt.Sprintf("%d-%d", e.A, e.B) }

// Value is a scalar that may be missing. Missing values are never
// coerced to zero; consumers pick their own fill policy.
type Value struct {
	V     float64
	Valid bool
}

// Some returns a present value.
func Some(v float64) Value { return Value{V: v, Valid: true} }

// Missing is the absent value.
var Missing = Value{}

// Or returns the value, or fallback when missing.
func (v Value) Or(fallback float64) float64 {
	if !v.Valid {
		return fallback
	}
	return v.V
}

// Float64 returns the value, or NaN when missing.
func (v Value) Float64() float64 { return v.Or(math.NaN()) }

// Sub returns v - w, missing when either side is missing.
func (v Value) Sub(w Value) Value {
	if !v.Valid || !w.Valid {
		return Missing
	}
	return Some(v.V - w.V)
}
