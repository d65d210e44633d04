package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"strconv"

	"github.com/banshee-data/neuroframes/internal/fsutil"
	"github.com/banshee-data/neuroframes/internal/sim"
	"github.com/banshee-data/neuroframes/internal/sim/frames"
)

// SeriesFile is the ParaView file-series index written by VTKSink.
const SeriesFile = "dataset.vtk.series"

// FrameFileName returns the VTK file name of the frame at step.
func FrameFileName(step int64) string {
	return fmt.Sprintf("frame_%010d.vtk", step)
}

type seriesEntry struct {
	Name string `json:"name"`
	Time int64  `json:"time"`
}

type seriesIndex struct {
	Version string        `json:"file-series-version"`
	Files   []seriesEntry `json:"files"`
}

// VTKSink writes one legacy ASCII polydata file per frame. Each file is
// renamed into place only once complete.
type VTKSink struct {
	fsys   fsutil.FileSystem
	dir    string
	series []seriesEntry
	buf    bytes.Buffer
	num    []byte
}

// NewVTKSink writes frames into dir.
func NewVTKSink(fsys fsutil.FileSystem, dir string) *VTKSink {
	return &VTKSink{fsys: fsys, dir: dir}
}

// WriteFrame implements Sink.
func (s *VTKSink) WriteFrame(f *frames.Frame) error {
	s.buf.Reset()
	s.encode(f)
	name := FrameFileName(f.Step)
	if err := fsutil.WriteFileAtomic(s.fsys, filepath.Join(s.dir, name), s.buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	s.series = append(s.series, seriesEntry{Name: name, Time: f.Step})
	return nil
}

// Close writes the series index.
func (s *VTKSink) Close() error {
	idx := seriesIndex{Version: "1.0", Files: s.series}
	if idx.Files == nil {
		idx.Files = []seriesEntry{}
	}
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(s.fsys, filepath.Join(s.dir, SeriesFile), data, 0o644)
}

// Abort implements Sink. Frame files already renamed into place stay; no
// series index is written.
func (s *VTKSink) Abort() error {
	sim.Opsf("vtk %s: aborted after %d frames, series index not written", s.dir, len(s.series))
	s.series = nil
	return nil
}

func (s *VTKSink) encode(f *frames.Frame) {
	b := &s.buf
	n := len(f.Points)

	fmt.Fprintf(b, "# vtk DataFile Version 3.0\nneuroframes frame %d step %d\nASCII\nDATASET POLYDATA\n", f.Index, f.Step)
	fmt.Fprintf(b, "POINTS %d double\n", n)
	for _, p := range f.Points {
		s.float(p.Position.X)
		b.WriteByte(' ')
		s.float(p.Position.Y)
		b.WriteByte(' ')
		s.float(p.Position.Z)
		b.WriteByte('\n')
	}
	if n == 0 {
		return
	}

	fmt.Fprintf(b, "VERTICES %d %d\n", n, 2*n)
	for i := 0; i < n; i++ {
		fmt.Fprintf(b, "1 %d\n", i)
	}

	edges := f.Edges.Edges()
	if len(edges) > 0 {
		at := make(map[sim.NeuronID]int, n)
		for i, p := range f.Points {
			at[p.Neuron] = i
		}
		lines := make([][2]int, 0, len(edges))
		for _, e := range edges {
			i, okA := at[e.A]
			j, okB := at[e.B]
			if okA && okB {
				lines = append(lines, [2]int{i, j})
			}
		}
		if len(lines) > 0 {
			fmt.Fprintf(b, "LINES %d %d\n", len(lines), 3*len(lines))
			for _, l := range lines {
				fmt.Fprintf(b, "2 %d %d\n", l[0], l[1])
			}
		}
	}

	fmt.Fprintf(b, "POINT_DATA %d\n", n)
	s.scalars("activity", "double", f.Points, func(p frames.Point) { s.float(p.Activity.Float64()) })
	s.scalars("deviation", "double", f.Points, func(p frames.Point) { s.float(p.Deviation.Float64()) })
	s.scalars("missing", "int", f.Points, func(p frames.Point) {
		if p.Activity.Valid {
			b.WriteByte('0')
		} else {
			b.WriteByte('1')
		}
	})
	s.scalars("area", "int", f.Points, func(p frames.Point) { b.WriteString(strconv.Itoa(p.Area)) })
}

func (s *VTKSink) scalars(name, typ string, points []frames.Point, value func(frames.Point)) {
	fmt.Fprintf(&s.buf, "SCALARS %s %s 1\nLOOKUP_TABLE default\n", name, typ)
	for _, p := range points {
		value(p)
		s.buf.WriteByte('\n')
	}
}

func (s *VTKSink) float(v float64) {
	if math.IsNaN(v) {
		s.buf.WriteString("nan")
		return
	}
	s.num = strconv.AppendFloat(s.num[:0], v, 'g', -1, 64)
	s.buf.Write(s.num)
}
