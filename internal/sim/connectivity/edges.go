// Package connectivity resolves the static edge set drawn as line
// primitives. Edges come from an explicit connectivity file when the run
// has one, otherwise from spatial proximity. The set is computed once and
// shared read-only for the whole dataset.
package connectivity

import (
	"fmt"
	"sort"

	"github.com/banshee-data/neuroframes/internal/sim"
	"github.com/banshee-data/neuroframes/internal/sim/tables"
)

// EdgeSet is an immutable, sorted, duplicate-free set of edges whose
// endpoints all have positions.
type EdgeSet struct {
	edges []sim.Edge
}

// Edges returns the sorted edges. The slice is shared; callers must not
// modify it.
func (s *EdgeSet) Edges() []sim.Edge {
	if s == nil {
		return nil
	}
	return s.edges
}

// Len returns the number of edges.
func (s *EdgeSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.edges)
}

// Contains reports whether the unordered pair (a, b) is in the set.
func (s *EdgeSet) Contains(a, b sim.NeuronID) bool {
	e := sim.NewEdge(a, b)
	i := sort.Search(s.Len(), func(i int) bool { return !less(s.edges[i], e) })
	return i < s.Len() && s.edges[i] == e
}

func less(x, y sim.Edge) bool {
	if x.A != y.A {
		return x.A < y.A
	}
	return x.B < y.B
}

// Candidate is a raw pair read from a source before validation.
type Candidate struct {
	From, To sim.NeuronID
	Line     int
}

// Build validates candidates against the position table: self-loops are
// rejected, pairs with an unknown endpoint are dropped, and duplicates in
// either direction collapse to one edge.
func Build(candidates []Candidate, pos *tables.PositionTable, source string, warn *sim.Collector) *EdgeSet {
	seen := make(map[sim.Edge]struct{}, len(candidates))
	edges := make([]sim.Edge, 0, len(candidates))
	dups := 0
	for _, c := range candidates {
		if c.From == c.To {
			warn.Add(sim.Warning{Kind: sim.SelfLoopWarning, Source: source, Line: c.Line, Neuron: sim.NeuronRef(c.From), Detail: "self-loop rejected"})
			continue
		}
		if !pos.Has(c.From) || !pos.Has(c.To) {
			missing := c.From
			if pos.Has(c.From) {
				missing = c.To
			}
			warn.Add(sim.Warning{
				Kind:   sim.UnresolvedReferenceWarning,
				Source: source,
				Line:   c.Line,
				Neuron: sim.NeuronRef(missing),
				Detail: fmt.Sprintf("edge %d-%d references neuron without position", c.From, c.To),
			})
			continue
		}
		e := sim.NewEdge(c.From, c.To)
		if _, ok := seen[e]; ok {
			dups++
			continue
		}
		seen[e] = struct{}{}
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool { return less(edges[i], edges[j]) })
	if dups > 0 {
		sim.Diagf("%s: collapsed %d duplicate edges", source, dups)
	}
	return &EdgeSet{edges: edges}
}
