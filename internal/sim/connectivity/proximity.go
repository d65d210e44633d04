package connectivity

import (
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/banshee-data/neuroframes/internal/sim"
	"github.com/banshee-data/neuroframes/internal/sim/tables"
)

// ProximityResolver connects every pair of neurons whose Euclidean
// distance is at most Threshold. With MaxNeighbours > 0 each neuron keeps
// only its nearest MaxNeighbours partners; an edge survives when either
// endpoint keeps it.
type ProximityResolver struct {
	Threshold     float64
	MaxNeighbours int
}

// Resolve implements Resolver.
func (r *ProximityResolver) Resolve(pos *tables.PositionTable, warn *sim.Collector) (*EdgeSet, error) {
	ids := pos.IDs()
	if len(ids) < 2 || r.Threshold <= 0 {
		return &EdgeSet{}, nil
	}

	nodes := make(somas, len(ids))
	for i, id := range ids {
		p, _ := pos.Lookup(id)
		nodes[i] = soma{id: id, pos: [3]float64{p.X, p.Y, p.Z}}
	}
	// kdtree.New reorders its input; keep the id-ordered copy for queries.
	query := make(somas, len(nodes))
	copy(query, nodes)
	tree := kdtree.New(nodes, false)

	r2 := r.Threshold * r.Threshold
	var candidates []Candidate
	for _, q := range query {
		keep := kdtree.NewDistKeeper(r2)
		tree.NearestSet(keep, q)

		near := make([]kdtree.ComparableDist, 0, len(keep.Heap))
		for _, c := range keep.Heap {
			if c.Comparable == nil || c.Comparable.(soma).id == q.id {
				continue
			}
			near = append(near, c)
		}
		sort.Slice(near, func(i, j int) bool {
			if near[i].Dist != near[j].Dist {
				return near[i].Dist < near[j].Dist
			}
			return near[i].Comparable.(soma).id < near[j].Comparable.(soma).id
		})
		if r.MaxNeighbours > 0 && len(near) > r.MaxNeighbours {
			near = near[:r.MaxNeighbours]
		}
		for _, c := range near {
			candidates = append(candidates, Candidate{From: q.id, To: c.Comparable.(soma).id})
		}
	}

	set := Build(candidates, pos, "proximity", warn)
	sim.Diagf("proximity resolver: %d edges within %g over %d neurons", set.Len(), r.Threshold, len(ids))
	return set, nil
}

// soma is a neuron position in the k-d tree.
type soma struct {
	id  sim.NeuronID
	pos [3]float64
}

func (s soma) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return s.pos[d] - c.(soma).pos[d]
}

func (s soma) Dims() int { return 3 }

// Distance returns the squared Euclidean distance.
func (s soma) Distance(c kdtree.Comparable) float64 {
	o := c.(soma)
	var sum float64
	for i := range s.pos {
		d := s.pos[i] - o.pos[i]
		sum += d * d
	}
	return sum
}

type somas []soma

func (s somas) Index(i int) kdtree.Comparable         { return s[i] }
func (s somas) Len() int                              { return len(s) }
func (s somas) Pivot(d kdtree.Dim) int                { return plane{dim: d, somas: s}.Pivot() }
func (s somas) Slice(start, end int) kdtree.Interface { return s[start:end] }

// plane sorts somas along one dimension for median partitioning.
type plane struct {
	dim kdtree.Dim
	somas
}

func (p plane) Less(i, j int) bool { return p.somas[i].pos[p.dim] < p.somas[j].pos[p.dim] }
func (p plane) Swap(i, j int)      { p.somas[i], p.somas[j] = p.somas[j], p.somas[i] }
func (p plane) Pivot() int         { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p plane) Slice(start, end int) kdtree.SortSlicer {
	p.somas = p.somas[start:end]
	return p
}
