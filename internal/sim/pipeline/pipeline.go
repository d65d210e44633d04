// Package pipeline runs the conversion of one simulation run directory
// into a frame dataset.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/banshee-data/neuroframes/internal/config"
	"github.com/banshee-data/neuroframes/internal/fsutil"
	"github.com/banshee-data/neuroframes/internal/sim"
	"github.com/banshee-data/neuroframes/internal/sim/align"
	"github.com/banshee-data/neuroframes/internal/sim/connectivity"
	"github.com/banshee-data/neuroframes/internal/sim/dataset"
	"github.com/banshee-data/neuroframes/internal/sim/extract"
	"github.com/banshee-data/neuroframes/internal/sim/frames"
	"github.com/banshee-data/neuroframes/internal/sim/locate"
	"github.com/banshee-data/neuroframes/internal/sim/tables"
	"github.com/banshee-data/neuroframes/internal/timeutil"
)

// Observer sees every frame after it has been written. Frames must not be
// retained.
type Observer interface {
	ObserveFrame(f *frames.Frame)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(f *frames.Frame)

// ObserveFrame implements Observer.
func (fn ObserverFunc) ObserveFrame(f *frames.Frame) { fn(f) }

// Options carries the non-config collaborators of a run.
type Options struct {
	Clock     timeutil.Clock
	Observers []Observer
	// OnWarning receives sampled warnings as they are recorded.
	OnWarning func(sim.Warning)
	// OnTransition is called after every state change.
	OnTransition func(from, to State)
}

// Summary describes a finished run.
type Summary struct {
	Root         string                   `json:"root"`
	State        string                   `json:"state"`
	Formats      []string                 `json:"formats"`
	Frames       int                      `json:"frames"`
	FirstStep    int64                    `json:"first_step"`
	LastStep     int64                    `json:"last_step"`
	Neurons      int                      `json:"neurons"`
	Targets      int                      `json:"targets"`
	Edges        int                      `json:"edges"`
	Series       int                      `json:"series"`
	Incomplete   int                      `json:"incomplete_series"`
	CorruptLines int                      `json:"corrupt_lines"`
	Alignment    align.Stats              `json:"alignment"`
	Warnings     sim.WarningSummary       `json:"warnings"`
	Durations    []timeutil.StageDuration `json:"-"`
}

// Pipeline converts the run rooted at Root. A Pipeline runs once.
type Pipeline struct {
	fsys fsutil.FileSystem
	root string
	cfg  *config.PipelineConfig
	opts Options

	warn  *sim.Collector
	timer *timeutil.StageTimer

	mu    sync.Mutex
	state State
}

// New prepares a pipeline. A nil cfg uses defaults.
func New(fsys fsutil.FileSystem, root string, cfg *config.PipelineConfig, opts Options) *Pipeline {
	if cfg == nil {
		cfg = config.DefaultPipelineConfig()
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	warn := sim.NewCollector(cfg.GetMaxWarningSamples())
	warn.OnWarning(opts.OnWarning)
	return &Pipeline{
		fsys:  fsys,
		root:  root,
		cfg:   cfg,
		opts:  opts,
		warn:  warn,
		timer: timeutil.NewStageTimer(opts.Clock),
	}
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Warnings exposes the run's warning collector.
func (p *Pipeline) Warnings() *sim.Collector { return p.warn }

func (p *Pipeline) transition(to State) {
	p.mu.Lock()
	from := p.state
	if !CanTransition(from, to) {
		p.mu.Unlock()
		opsf("%s: ignoring illegal transition %s -> %s", p.root, from, to)
		return
	}
	p.state = to
	p.mu.Unlock()

	opsf("%s: %s -> %s", p.root, from, to)
	if p.opts.OnTransition != nil {
		p.opts.OnTransition(from, to)
	}
}

func (p *Pipeline) fail(err error) error {
	p.timer.End()
	p.transition(StateFailed)
	opsf("%s: run failed: %v", p.root, err)
	return err
}

// static holds the shared read-only inputs of a run.
type static struct {
	layout  *locate.Layout
	pos     *tables.PositionTable
	targets *tables.TargetTable
	edges   *connectivity.EdgeSet
}

// Run executes the whole conversion. Fatal input problems surface before
// any output directory is created.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	if p.State() != StateInit {
		return nil, fmt.Errorf("pipeline for %s already ran", p.root)
	}
	sum := &Summary{Root: p.root, Formats: p.cfg.GetFormats()}

	p.transition(StateLoadingStatic)
	p.timer.Begin("load_static")
	st, err := p.loadStatic()
	if err != nil {
		return nil, p.fail(err)
	}
	sum.Neurons = st.pos.Len()
	sum.Targets = st.targets.Len()
	sum.Edges = st.edges.Len()

	p.transition(StateExtracting)
	p.timer.Begin("extract")
	series, err := p.extract(ctx, st.layout)
	if err != nil {
		return nil, p.fail(err)
	}
	seriesIDs := make([]sim.NeuronID, len(series))
	for i, ts := range series {
		seriesIDs[i] = ts.Neuron
		sum.CorruptLines += ts.Corrupt
		if ts.Incomplete {
			sum.Incomplete++
		}
	}
	sum.Series = len(series)

	p.transition(StateAligning)
	p.timer.Begin("align")
	tl := align.BuildTimeline(series, p.cfg.GetResampleStride())
	aligner := align.New(series, align.Options{MaxGap: p.cfg.GetMaxGap()}, p.warn)
	diagf("timeline of %d steps (stride %d)", len(tl), p.cfg.GetResampleStride())
	if len(tl) > 0 {
		sum.FirstStep, sum.LastStep = tl[0], tl[len(tl)-1]
	}

	p.transition(StateEmitting)
	p.timer.Begin("emit")
	asm := frames.NewAssembler(tl, aligner, st.pos, st.targets, st.edges, seriesIDs, p.warn)
	n, err := p.emit(ctx, st.layout.FilesDir, st.edges, asm)
	sum.Frames = n
	aligner.Finish()
	if err != nil {
		return nil, p.fail(err)
	}
	p.timer.End()

	sum.Alignment = aligner.Stats()
	sum.Warnings = p.warn.Summary()
	sum.Durations = p.timer.Durations()
	p.transition(StateDone)
	sum.State = StateDone.String()

	opsf("%s: wrote %d frames (%d neurons, %d edges, %d warnings)", p.root, sum.Frames, sum.Neurons, sum.Edges, p.warn.Total())
	for _, d := range sum.Durations {
		diagf("stage %s took %s", d.Stage, d.Duration)
	}
	return sum, nil
}

func (p *Pipeline) loadStatic() (*static, error) {
	idBase := p.cfg.GetIDBase()
	layout, err := locate.Locate(p.fsys, p.root, locate.Options{IDBase: idBase})
	if err != nil {
		return nil, err
	}
	pos, err := tables.LoadPositions(p.fsys, layout.Positions, tables.Options{IDBase: idBase}, p.warn)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	targets, err := tables.LoadTargets(p.fsys, layout.Targets, tables.Options{IDBase: idBase}, p.warn)
	if err != nil {
		return nil, fmt.Errorf("load calcium targets: %w", err)
	}
	edges, err := connectivity.Resolve(p.fsys, connectivity.Options{
		Path:          layout.Connectivity,
		IDBase:        idBase,
		Threshold:     p.cfg.GetProximityThreshold(),
		MaxNeighbours: p.cfg.GetMaxNeighbours(),
	}, pos, p.warn)
	if err != nil {
		return nil, fmt.Errorf("resolve connectivity: %w", err)
	}
	return &static{layout: layout, pos: pos, targets: targets, edges: edges}, nil
}

func (p *Pipeline) extract(ctx context.Context, layout *locate.Layout) ([]*sim.TimeSeries, error) {
	series, err := extract.ExtractAll(ctx, p.fsys, layout.Monitors, extract.Options{
		ValueColumn: p.cfg.GetValueColumn(),
		MaxCorrupt:  p.cfg.GetMaxCorruptLines(),
		Workers:     p.cfg.GetWorkers(),
	}, p.warn)
	if err != nil {
		return nil, err
	}
	if p.cfg.GetWriteExtracted() {
		for _, ts := range series {
			if err := extract.WriteExtracted(p.fsys, layout.ExtractedDir, ts); err != nil {
				return nil, err
			}
		}
		diagf("wrote %d extracted series to %s", len(series), layout.ExtractedDir)
	}
	return series, nil
}

func (p *Pipeline) emit(ctx context.Context, dir string, edges *connectivity.EdgeSet, asm *frames.Assembler) (int, error) {
	sink, err := dataset.Open(p.fsys, dir, dataset.Options{
		Formats:  p.cfg.GetFormats(),
		Compress: p.cfg.GetCompressFrames(),
		Edges:    edges.Edges(),
	})
	if err != nil {
		return 0, err
	}

	n := 0
	for f, ok := asm.Next(); ok; f, ok = asm.Next() {
		if err := ctx.Err(); err != nil {
			p.abort(sink, n)
			return n, err
		}
		if err := sink.WriteFrame(f); err != nil {
			p.abort(sink, n)
			return n, err
		}
		for _, o := range p.opts.Observers {
			o.ObserveFrame(f)
		}
		n++
		tracef("wrote frame %d/%d (step %d)", n, asm.Len(), f.Step)
	}
	if err := sink.Close(); err != nil {
		return n, fmt.Errorf("close dataset: %w", err)
	}
	return n, nil
}

// abort releases sink after n frames without marking the dataset complete.
func (p *Pipeline) abort(sink dataset.Sink, n int) {
	if err := sink.Abort(); err != nil {
		opsf("%s: abort dataset after %d frames: %v", p.root, n, err)
	}
}
