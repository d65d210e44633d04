// Package dataset writes assembled frames to renderer-consumable
// containers. Every sink is append-only and holds at most one frame.
package dataset

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/banshee-data/neuroframes/internal/fsutil"
	"github.com/banshee-data/neuroframes/internal/sim"
	"github.com/banshee-data/neuroframes/internal/sim/frames"
)

// Format names accepted by Open.
const (
	FormatVTK      = "vtk"
	FormatFrameLog = "framelog"
	FormatArrow    = "arrow"
)

// Sink consumes frames in timeline order. Close finalises a finished
// dataset; Abort releases the sink after a failed or cancelled run and
// leaves the frames written so far without any completion marker.
type Sink interface {
	WriteFrame(f *frames.Frame) error
	Close() error
	Abort() error
}

// Options selects and tunes sinks.
type Options struct {
	Formats        []string
	Compress       bool
	FramesPerChunk int
	// Edges is the static edge list, stored by sinks that keep it apart
	// from the frames.
	Edges []sim.Edge
}

// Open creates one sink per format under dir, fanning frames out to all
// of them.
func Open(fsys fsutil.FileSystem, dir string, opts Options) (Sink, error) {
	formats := opts.Formats
	if len(formats) == 0 {
		formats = []string{FormatVTK}
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create dataset directory: %w", err)
	}

	var sinks multiSink
	for _, format := range formats {
		var (
			s   Sink
			err error
		)
		switch format {
		case FormatVTK:
			s = NewVTKSink(fsys, dir)
		case FormatFrameLog:
			s, err = NewFrameLogSink(fsys, filepath.Join(dir, "framelog"), opts)
		case FormatArrow:
			s, err = NewArrowSink(fsys, filepath.Join(dir, ArrowFile))
		default:
			err = fmt.Errorf("unknown dataset format %q", format)
		}
		if err != nil {
			_ = sinks.Abort()
			return nil, err
		}
		sinks = append(sinks, s)
	}
	sim.Diagf("dataset sinks %v under %s", formats, dir)
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return sinks, nil
}

type multiSink []Sink

func (m multiSink) WriteFrame(f *frames.Frame) error {
	for _, s := range m {
		if err := s.WriteFrame(f); err != nil {
			return err
		}
	}
	return nil
}

func (m multiSink) Close() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

func (m multiSink) Abort() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Abort())
	}
	return errors.Join(errs...)
}
