package dataset

import (
	"math"

	"github.com/banshee-data/neuroframes/internal/fsutil"
	"github.com/banshee-data/neuroframes/internal/sim"
	"github.com/banshee-data/neuroframes/internal/sim/dataset/framelog"
	"github.com/banshee-data/neuroframes/internal/sim/frames"
)

// FrameLogSink records frames into a framelog container.
type FrameLogSink struct {
	w *framelog.Writer
}

// NewFrameLogSink creates a framelog under dir and stores opts.Edges
// right away, so a log without frames still carries the edge list.
func NewFrameLogSink(fsys fsutil.FileSystem, dir string, opts Options) (*FrameLogSink, error) {
	w, err := framelog.NewWriter(fsys, dir, framelog.Options{
		Compress:       opts.Compress,
		FramesPerChunk: opts.FramesPerChunk,
	})
	if err != nil {
		return nil, err
	}
	if err := w.WriteEdges(opts.Edges); err != nil {
		_ = w.Abort()
		return nil, err
	}
	return &FrameLogSink{w: w}, nil
}

// WriteFrame implements Sink.
func (s *FrameLogSink) WriteFrame(f *frames.Frame) error {
	return s.w.Append(ToRecord(f))
}

// Close implements Sink.
func (s *FrameLogSink) Close() error { return s.w.Close() }

// Abort implements Sink. The log is left without an index, which readers
// treat as an interrupted run.
func (s *FrameLogSink) Abort() error { return s.w.Abort() }

// ToRecord converts a frame to its framelog form.
func ToRecord(f *frames.Frame) *framelog.Record {
	rec := &framelog.Record{
		Index:  f.Index,
		Step:   f.Step,
		Points: make([]framelog.Point, len(f.Points)),
		Stats: framelog.Stats{
			Defined:          f.Stats.Defined,
			Missing:          f.Stats.Missing,
			MeanActivity:     optional(f.Stats.MeanActivity),
			MeanAbsDeviation: optional(f.Stats.MeanAbsDeviation),
		},
	}
	for i, p := range f.Points {
		rec.Points[i] = framelog.Point{
			Neuron:    p.Neuron,
			X:         p.Position.X,
			Y:         p.Position.Y,
			Z:         p.Position.Z,
			Activity:  valuePtr(p.Activity),
			Deviation: valuePtr(p.Deviation),
			Area:      p.Area,
		}
	}
	return rec
}

func valuePtr(v sim.Value) *float64 {
	if !v.Valid {
		return nil
	}
	x := v.V
	return &x
}

func optional(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}
