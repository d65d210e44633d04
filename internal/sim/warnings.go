package sim

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// WarningKind classifies a recoverable, per-record problem.
type WarningKind string

const (
	ParseWarning               WarningKind = "parse"
	UnresolvedReferenceWarning WarningKind = "unresolved_reference"
	GapExceededWarning         WarningKind = "gap_exceeded"
	DuplicateWarning           WarningKind = "duplicate"
	SelfLoopWarning            WarningKind = "self_loop"
	IncompleteSeriesWarning    WarningKind = "incomplete_series"
)

// Warning is a recoverable problem recorded against a source.
type Warning struct {
	Kind   WarningKind `json:"kind"`
	Source string      `json:"source"`
	Line   int         `json:"line,omitempty"`
	Neuron *NeuronID   `json:"neuron,omitempty"`
	Count  int         `json:"count,omitempty"`
	Detail string      `json:"detail"`
}

func (w Warning) String() string {
	var b strings.Builder
	b.WriteString(string(w.Kind))
	if w.Source != "" {
		b.WriteString(" ")
		b.WriteString(w.Source)
		if w.Line > 0 {
			fmt.Fprintf(&b, ":%d", w.Line)
		}
	}
	if w.Neuron != nil {
		fmt.Fprintf(&b, " neuron=%d", *w.Neuron)
	}
	if w.Count > 1 {
		fmt.Fprintf(&b, " x%d", w.Count)
	}
	if w.Detail != "" {
		b.WriteString(": ")
		b.WriteString(w.Detail)
	}
	return b.String()
}

// NeuronRef returns a pointer suitable for Warning.Neuron.
func NeuronRef(id NeuronID) *NeuronID { return &id }

// DefaultMaxSamples is the number of example warnings kept per kind.
const DefaultMaxSamples = 20

// Collector aggregates warnings from all stages. It is safe for
// concurrent use; a nil Collector discards everything.
type Collector struct {
	mu         sync.Mutex
	maxSamples int
	counts     map[WarningKind]int
	samples    map[WarningKind][]Warning
	sink       func(Warning)
}

// NewCollector creates a collector keeping up to maxSamples examples per
// kind. maxSamples <= 0 selects DefaultMaxSamples.
func NewCollector(maxSamples int) *Collector {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	return &Collector{
		maxSamples: maxSamples,
		counts:     make(map[WarningKind]int),
		samples:    make(map[WarningKind][]Warning),
	}
}

// OnWarning registers a callback invoked for every retained sample.
// The pipeline uses it to mirror samples onto the ops log.
func (c *Collector) OnWarning(f func(Warning)) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sink = f
	c.mu.Unlock()
}

// Add records w. Warning.Count > 1 adds that many occurrences.
func (c *Collector) Add(w Warning) {
	if c == nil {
		return
	}
	n := w.Count
	if n < 1 {
		n = 1
	}
	c.mu.Lock()
	c.counts[w.Kind] += n
	var sink func(Warning)
	if len(c.samples[w.Kind]) < c.maxSamples {
		c.samples[w.Kind] = append(c.samples[w.Kind], w)
		sink = c.sink
	}
	c.mu.Unlock()
	if sink != nil {
		sink(w)
	}
}

// Count returns the number of occurrences recorded for kind.
func (c *Collector) Count(kind WarningKind) int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[kind]
}

// Total returns the number of occurrences across all kinds.
func (c *Collector) Total() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.counts {
		total += n
	}
	return total
}

// WarningSummary is the aggregated view emitted at the end of a run.
type WarningSummary struct {
	Counts  map[WarningKind]int       `json:"counts"`
	Samples map[WarningKind][]Warning `json:"samples"`
}

// Summary snapshots the collector. Samples keep insertion order except
// for parse warnings, which are sorted by source and line because they
// arrive from concurrent workers.
func (c *Collector) Summary() WarningSummary {
	s := WarningSummary{
		Counts:  make(map[WarningKind]int),
		Samples: make(map[WarningKind][]Warning),
	}
	if c == nil {
		return s
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, n := range c.counts {
		s.Counts[k] = n
	}
	for k, ws := range c.samples {
		cp := append([]Warning(nil), ws...)
		if k == ParseWarning || k == IncompleteSeriesWarning {
			sort.SliceStable(cp, func(i, j int) bool {
				if cp[i].Source != cp[j].Source {
					return cp[i].Source < cp[j].Source
				}
				return cp[i].Line < cp[j].Line
			})
		}
		s.Samples[k] = cp
	}
	return s
}

// Kinds returns the recorded kinds in stable order.
func (s WarningSummary) Kinds() []WarningKind {
	kinds := make([]WarningKind, 0, len(s.Counts))
	for k := range s.Counts {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
