// Package align maps irregular per-neuron activity logs onto a common
// timeline.
package align

import (
	"fmt"
	"sort"

	"github.com/banshee-data/neuroframes/internal/sim"
)

// Timeline is a strictly increasing, duplicate-free list of steps.
type Timeline []int64

// BuildTimeline returns the union of all observed steps when stride is 0,
// or the grid first, first+stride, ... not exceeding the last observed step
// when stride > 0. Incomplete series contribute no steps.
func BuildTimeline(series []*sim.TimeSeries, stride int64) Timeline {
	if stride > 0 {
		first, last, ok := span(series)
		if !ok {
			return Timeline{}
		}
		tl := make(Timeline, 0, (last-first)/stride+1)
		for s := first; s <= last; s += stride {
			tl = append(tl, s)
		}
		return tl
	}

	seen := make(map[int64]struct{})
	for _, ts := range series {
		if ts == nil || ts.Incomplete {
			continue
		}
		for _, s := range ts.Samples {
			seen[s.Step] = struct{}{}
		}
	}
	tl := make(Timeline, 0, len(seen))
	for s := range seen {
		tl = append(tl, s)
	}
	sort.Slice(tl, func(i, j int) bool { return tl[i] < tl[j] })
	return tl
}

func span(series []*sim.TimeSeries) (first, last int64, ok bool) {
	for _, ts := range series {
		if ts == nil || ts.Incomplete {
			continue
		}
		f, okF := ts.FirstStep()
		l, _ := ts.LastStep()
		if !okF {
			continue
		}
		if !ok || f < first {
			first = f
		}
		if !ok || l > last {
			last = l
		}
		ok = true
	}
	return first, last, ok
}

// Options tunes value resolution.
type Options struct {
	// MaxGap is the largest distance, in steps, a value is held past its
	// sample. Negative means unlimited.
	MaxGap int64
}

// Stats counts how values were resolved.
type Stats struct {
	Exact   int `json:"exact"`
	Held    int `json:"held"`
	Missing int `json:"missing"`
	Gaps    int `json:"gaps"`
}

type cursor struct {
	samples []sim.ActivitySample
	// next is the index of the first sample with Step > the last query.
	next int
	last int64
}

type gap struct {
	count int
	first int64
}

// Aligner resolves the activity of any neuron at any timeline step. Queries
// for one neuron are expected in non-decreasing step order; each series is
// then walked once. Out-of-order queries fall back to a binary search.
type Aligner struct {
	opts    Options
	warn    *sim.Collector
	cursors map[sim.NeuronID]*cursor
	gaps    map[sim.NeuronID]*gap
	stats   Stats
}

// New indexes series for resolution. Incomplete series resolve to missing.
func New(series []*sim.TimeSeries, opts Options, warn *sim.Collector) *Aligner {
	a := &Aligner{
		opts:    opts,
		warn:    warn,
		cursors: make(map[sim.NeuronID]*cursor, len(series)),
		gaps:    make(map[sim.NeuronID]*gap),
	}
	for _, ts := range series {
		if ts == nil || ts.Incomplete || len(ts.Samples) == 0 {
			continue
		}
		a.cursors[ts.Neuron] = &cursor{samples: ts.Samples, last: ts.Samples[0].Step}
	}
	return a
}

// Resolve returns the value of neuron at step: the sample at exactly step,
// else the nearest preceding sample when it is within MaxGap, else missing.
func (a *Aligner) Resolve(neuron sim.NeuronID, step int64) sim.Value {
	c, ok := a.cursors[neuron]
	if !ok {
		a.stats.Missing++
		return sim.Missing
	}

	if step < c.last {
		c.next = sort.Search(len(c.samples), func(i int) bool { return c.samples[i].Step > step })
	} else {
		for c.next < len(c.samples) && c.samples[c.next].Step <= step {
			c.next++
		}
	}
	c.last = step

	if c.next == 0 {
		// Before the first sample.
		a.stats.Missing++
		return sim.Missing
	}
	prev := c.samples[c.next-1]
	if prev.Step == step {
		a.stats.Exact++
		return sim.Some(prev.Value)
	}
	if a.opts.MaxGap < 0 || step-prev.Step <= a.opts.MaxGap {
		a.stats.Held++
		return sim.Some(prev.Value)
	}

	a.stats.Missing++
	a.stats.Gaps++
	g, ok := a.gaps[neuron]
	if !ok {
		g = &gap{first: step}
		a.gaps[neuron] = g
	}
	g.count++
	return sim.Missing
}

// Stats returns resolution counters so far.
func (a *Aligner) Stats() Stats { return a.stats }

// Finish reports one aggregated GapExceededWarning per affected neuron and
// releases the series storage. The Aligner must not be used afterwards.
func (a *Aligner) Finish() {
	ids := make([]sim.NeuronID, 0, len(a.gaps))
	for id := range a.gaps {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		g := a.gaps[id]
		a.warn.Add(sim.Warning{
			Kind:   sim.GapExceededWarning,
			Source: "align",
			Neuron: sim.NeuronRef(id),
			Count:  g.count,
			Detail: fmt.Sprintf("%d steps beyond max gap %d, first at step %d", g.count, a.opts.MaxGap, g.first),
		})
	}
	if len(ids) > 0 {
		sim.Diagf("%d neurons exceeded the hold gap (%d steps total)", len(ids), a.stats.Gaps)
	}
	a.cursors = nil
	a.gaps = nil
}
