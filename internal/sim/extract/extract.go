// Package extract parses per-neuron monitor shards into activity time
// series. Extraction is embarrassingly parallel: each neuron is parsed by
// one worker with no shared state besides the warning collector, and the
// results are joined before alignment starts.
package extract

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/neuroframes/internal/fsutil"
	"github.com/banshee-data/neuroframes/internal/sim"
	"github.com/banshee-data/neuroframes/internal/sim/locate"
)

// Options tunes monitor parsing.
type Options struct {
	// ValueColumn is the zero-based column holding the activity value.
	ValueColumn int
	// MaxCorrupt is the number of malformed lines tolerated per neuron
	// before its series is marked incomplete.
	MaxCorrupt int
	// Workers bounds concurrent extraction; <= 0 means one.
	Workers int
}

// DefaultOptions matches the simulator's two-column monitor layout.
func DefaultOptions() Options {
	return Options{ValueColumn: 1, MaxCorrupt: 10, Workers: 1}
}

// ParseSeries reads monitor records from r. Malformed lines are skipped
// and counted. The first record line is a header, and skipped without
// counting, only when both its step and value fields are non-numeric. The returned samples are unsorted and may
// contain duplicate steps; Normalise fixes both.
func ParseSeries(r io.Reader, source string, opts Options, warn *sim.Collector) ([]sim.ActivitySample, int, error) {
	col := opts.ValueColumn
	if col < 1 {
		col = 1
	}

	var samples []sim.ActivitySample
	corrupt := 0
	first := true

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if sim.IsComment(line) {
			continue
		}
		f := sim.Fields(line)
		isFirst := first
		first = false
		if len(f) == 0 {
			corrupt++
			warn.Add(sim.Warning{Kind: sim.ParseWarning, Source: source, Line: lineNo, Detail: "no fields"})
			continue
		}

		step, err := parseStep(f[0])
		if err != nil && isFirst && isHeader(f, col) {
			sim.Diagf("%s:%d: skipping header %q", source, lineNo, line)
			continue
		}
		if err == nil && len(f) <= col {
			err = fmt.Errorf("want at least %d fields, got %d", col+1, len(f))
		}
		var v float64
		if err == nil {
			v, err = strconv.ParseFloat(f[col], 64)
			if err == nil && (math.IsNaN(v) || math.IsInf(v, 0)) {
				err = fmt.Errorf("non-finite value %q", f[col])
			}
		}
		if err != nil {
			corrupt++
			sim.Tracef("%s:%d: %v", source, lineNo, err)
			warn.Add(sim.Warning{Kind: sim.ParseWarning, Source: source, Line: lineNo, Detail: err.Error()})
			continue
		}
		samples = append(samples, sim.ActivitySample{Step: step, Value: v})
	}
	if err := sc.Err(); err != nil {
		return nil, corrupt, fmt.Errorf("read %s: %w", source, err)
	}
	return samples, corrupt, nil
}

// parseStep accepts integer steps and integral float timestamps.
// isHeader reports whether the value column of f is absent or not a number.
func isHeader(f []string, col int) bool {
	if len(f) <= col {
		return true
	}
	_, err := strconv.ParseFloat(f[col], 64)
	return err != nil
}

func parseStep(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("step %q: not a number", s)
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.Abs(f) > 1<<53 {
		return 0, fmt.Errorf("step %q: not an integral step", s)
	}
	return int64(f), nil
}

// Normalise sorts samples by step ascending and collapses duplicate steps
// to the last occurrence in input order.
func Normalise(samples []sim.ActivitySample) []sim.ActivitySample {
	sort.SliceStable(samples, func(i, j int) bool { return samples[i].Step < samples[j].Step })
	out := samples[:0]
	for i, s := range samples {
		if i+1 < len(samples) && samples[i+1].Step == s.Step {
			continue
		}
		out = append(out, s)
	}
	return out
}

// ExtractNeuron parses every shard of one neuron (in rank order) into a
// single series. I/O failures and excess corruption are recovered
// locally by marking the series incomplete.
func ExtractNeuron(fsys fsutil.FileSystem, neuron sim.NeuronID, shards []locate.MonitorFile, opts Options, warn *sim.Collector) *sim.TimeSeries {
	ts := &sim.TimeSeries{Neuron: neuron}
	var all []sim.ActivitySample
	for _, shard := range shards {
		samples, corrupt, err := parseFile(fsys, shard.Path, opts, warn)
		ts.Corrupt += corrupt
		if err != nil {
			sim.Opsf("neuron %d: %v", neuron, err)
			warn.Add(sim.Warning{Kind: sim.IncompleteSeriesWarning, Source: shard.Path, Neuron: sim.NeuronRef(neuron), Detail: err.Error()})
			ts.Incomplete = true
			continue
		}
		all = append(all, samples...)
	}

	if !ts.Incomplete && ts.Corrupt > opts.MaxCorrupt {
		ts.Incomplete = true
		warn.Add(sim.Warning{
			Kind:   sim.IncompleteSeriesWarning,
			Source: shardSource(shards),
			Neuron: sim.NeuronRef(neuron),
			Detail: fmt.Sprintf("%d corrupt lines exceeds limit %d", ts.Corrupt, opts.MaxCorrupt),
		})
	}
	if ts.Incomplete {
		return ts
	}
	ts.Samples = Normalise(all)
	return ts
}

func parseFile(fsys fsutil.FileSystem, path string, opts Options, warn *sim.Collector) ([]sim.ActivitySample, int, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open monitor: %w", err)
	}
	defer f.Close()
	return ParseSeries(f, path, opts, warn)
}

func shardSource(shards []locate.MonitorFile) string {
	if len(shards) == 0 {
		return ""
	}
	return shards[0].Path
}

// ExtractAll extracts every neuron in files using a bounded worker pool.
// files must be sorted by neuron (locate.Layout guarantees this); the
// result is ordered by neuron id regardless of completion order.
func ExtractAll(ctx context.Context, fsys fsutil.FileSystem, files []locate.MonitorFile, opts Options, warn *sim.Collector) ([]*sim.TimeSeries, error) {
	groups := groupByNeuron(files)
	out := make([]*sim.TimeSeries, len(groups))

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, grp := range groups {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = ExtractNeuron(fsys, grp[0].Neuron, grp, opts, warn)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	incomplete := 0
	for _, ts := range out {
		if ts.Incomplete {
			incomplete++
		}
	}
	sim.Diagf("extracted %d neurons with %d workers (%d incomplete)", len(out), workers, incomplete)
	return out, nil
}

func groupByNeuron(files []locate.MonitorFile) [][]locate.MonitorFile {
	var groups [][]locate.MonitorFile
	for i, f := range files {
		if i == 0 || files[i-1].Neuron != f.Neuron {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], f)
	}
	return groups
}
