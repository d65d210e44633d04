package dataset

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/neuroframes/internal/fsutil"
	"github.com/banshee-data/neuroframes/internal/sim"
	"github.com/banshee-data/neuroframes/internal/sim/connectivity"
	"github.com/banshee-data/neuroframes/internal/sim/dataset/framelog"
	"github.com/banshee-data/neuroframes/internal/sim/frames"
	"github.com/banshee-data/neuroframes/internal/sim/tables"
)

func testFrames() []*frames.Frame {
	pos := tables.NewPositionTable(map[sim.NeuronID]tables.PositionEntry{
		0: {Position: sim.Position{X: 0, Y: 0, Z: 0}, Area: 1},
		1: {Position: sim.Position{X: 1.5, Y: 0, Z: 0}, Area: 1},
		2: {Position: sim.Position{X: 0, Y: 2, Z: -1}, Area: -1},
	})
	edges := connectivity.Build([]connectivity.Candidate{{From: 2, To: 0}}, pos, "test", nil)

	mk := func(idx int, step int64, act [3]sim.Value) *frames.Frame {
		f := &frames.Frame{Index: idx, Step: step, Edges: edges}
		for i, id := range pos.IDs() {
			e, _ := pos.Entry(id)
			f.Points = append(f.Points, frames.Point{
				Neuron:    id,
				Position:  e.Position,
				Activity:  act[i],
				Deviation: act[i].Sub(sim.Some(0.5)),
				Area:      e.Area,
			})
		}
		f.Stats.Defined = 2
		f.Stats.Missing = 1
		f.Stats.MeanActivity = 1
		return f
	}
	return []*frames.Frame{
		mk(0, 0, [3]sim.Value{sim.Some(0.5), sim.Some(1.5), sim.Missing}),
		mk(1, 100, [3]sim.Value{sim.Some(1), sim.Missing, sim.Some(0.25)}),
	}
}

func writeAll(t *testing.T, s Sink) {
	t.Helper()
	for _, f := range testFrames() {
		require.NoError(t, s.WriteFrame(f))
	}
	require.NoError(t, s.Close())
}

func TestVTKSink_Encoding(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	writeAll(t, NewVTKSink(fsys, "/run/files"))

	assert.Equal(t, []string{
		"/run/files/dataset.vtk.series",
		"/run/files/frame_0000000000.vtk",
		"/run/files/frame_0000000100.vtk",
	}, fsys.Files("/run/files"))

	got, err := fsys.ReadFile("/run/files/frame_0000000000.vtk")
	require.NoError(t, err)
	want := strings.Join([]string{
		"# vtk DataFile Version 3.0",
		"neuroframes frame 0 step 0",
		"ASCII",
		"DATASET POLYDATA",
		"POINTS 3 double",
		"0 0 0",
		"1.5 0 0",
		"0 2 -1",
		"VERTICES 3 6",
		"1 0",
		"1 1",
		"1 2",
		"LINES 1 3",
		"2 0 2",
		"POINT_DATA 3",
		"SCALARS activity double 1",
		"LOOKUP_TABLE default",
		"0.5",
		"1.5",
		"nan",
		"SCALARS deviation double 1",
		"LOOKUP_TABLE default",
		"0",
		"1",
		"nan",
		"SCALARS missing int 1",
		"LOOKUP_TABLE default",
		"0",
		"0",
		"1",
		"SCALARS area int 1",
		"LOOKUP_TABLE default",
		"1",
		"1",
		"-1",
		"",
	}, "\n")
	assert.Equal(t, want, string(got))

	data, err := fsys.ReadFile("/run/files/" + SeriesFile)
	require.NoError(t, err)
	var idx seriesIndex
	require.NoError(t, json.Unmarshal(data, &idx))
	assert.Equal(t, "1.0", idx.Version)
	assert.Equal(t, []seriesEntry{{Name: "frame_0000000000.vtk", Time: 0}, {Name: "frame_0000000100.vtk", Time: 100}}, idx.Files)
}

func TestVTKSink_EmptyFrame(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	s := NewVTKSink(fsys, "/out")
	require.NoError(t, s.WriteFrame(&frames.Frame{Step: 3}))
	require.NoError(t, s.Close())

	got, err := fsys.ReadFile("/out/frame_0000000003.vtk")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(got), "POINTS 0 double\n"))
}

func TestFrameLogSink(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	s, err := Open(fsys, "/run/files", Options{
		Formats:  []string{FormatFrameLog},
		Compress: true,
		Edges:    testFrames()[0].Edges.Edges(),
	})
	require.NoError(t, err)
	writeAll(t, s)

	r, err := framelog.Open(fsys, "/run/files/framelog")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), r.Header().TotalFrames)

	edges, err := r.Edges()
	require.NoError(t, err)
	assert.Equal(t, []sim.Edge{{A: 0, B: 2}}, edges)

	rec, err := r.Next()
	require.NoError(t, err)
	require.Len(t, rec.Points, 3)
	require.NotNil(t, rec.Points[1].Activity)
	assert.Equal(t, 1.5, *rec.Points[1].Activity)
	assert.Nil(t, rec.Points[2].Activity)
	assert.Nil(t, rec.Stats.MeanAbsDeviation, "NaN stats are stored as null")

	_, err = r.Next()
	require.NoError(t, err)
	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestFrameLogSink_EdgesWithoutFrames(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	s, err := Open(fsys, "/run/files", Options{
		Formats: []string{FormatFrameLog},
		Edges:   []sim.Edge{{A: 0, B: 2}, {A: 1, B: 2}},
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	r, err := framelog.Open(fsys, "/run/files/framelog")
	require.NoError(t, err)
	assert.Zero(t, r.Len())
	assert.Equal(t, 2, r.Header().Edges)

	edges, err := r.Edges()
	require.NoError(t, err)
	assert.Equal(t, []sim.Edge{{A: 0, B: 2}, {A: 1, B: 2}}, edges)
}

// countingFS counts Write calls on every file it creates.
type countingFS struct {
	*fsutil.MemoryFileSystem
	writes int
}

func (c *countingFS) Create(name string) (io.WriteCloser, error) {
	w, err := c.MemoryFileSystem.Create(name)
	if err != nil {
		return nil, err
	}
	return &countingWriter{WriteCloser: w, fs: c}, nil
}

type countingWriter struct {
	io.WriteCloser
	fs *countingFS
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.fs.writes++
	return w.WriteCloser.Write(p)
}

func TestArrowSink_OneWritePerFrame(t *testing.T) {
	fsys := &countingFS{MemoryFileSystem: fsutil.NewMemoryFileSystem()}
	s, err := NewArrowSink(fsys, "/out/"+ArrowFile)
	require.NoError(t, err)
	assert.Zero(t, fsys.writes, "nothing is written before the first frame")

	for i, f := range testFrames() {
		require.NoError(t, s.WriteFrame(f))
		assert.Equal(t, i+1, fsys.writes, "frame %d", i)
	}
	require.NoError(t, s.Close())
	assert.Equal(t, 3, fsys.writes, "end of stream is one more write")

	data, err := fsys.ReadFile("/out/" + ArrowFile)
	require.NoError(t, err)
	rdr, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(memory.NewGoAllocator()))
	require.NoError(t, err)
	defer rdr.Release()
	batches := 0
	for rdr.Next() {
		batches++
	}
	require.NoError(t, rdr.Err())
	assert.Equal(t, 2, batches)
}

func TestSinks_Abort(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	first := testFrames()[0]
	s, err := Open(fsys, "/run/files", Options{
		Formats: []string{FormatVTK, FormatFrameLog, FormatArrow},
		Edges:   first.Edges.Edges(),
	})
	require.NoError(t, err)
	require.NoError(t, s.WriteFrame(first))
	require.NoError(t, s.Abort())

	assert.True(t, fsys.Exists("/run/files/frame_0000000000.vtk"))
	assert.False(t, fsys.Exists("/run/files/"+SeriesFile))
	assert.False(t, fsys.Exists("/run/files/framelog/index.bin"))

	r, err := framelog.Open(fsys, "/run/files/framelog")
	require.NoError(t, err)
	assert.True(t, r.Recovered())
	assert.False(t, r.Header().Complete)
	assert.Equal(t, 1, r.Len())

	data, err := fsys.ReadFile("/run/files/" + ArrowFile)
	require.NoError(t, err)
	rdr, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(memory.NewGoAllocator()))
	require.NoError(t, err)
	defer rdr.Release()
	batches := 0
	for rdr.Next() {
		batches++
	}
	assert.Equal(t, 1, batches, "the aborted stream keeps the complete batch")
}

func TestArrowSink(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(fsutil.OSFileSystem{}, dir, Options{Formats: []string{FormatArrow}})
	require.NoError(t, err)
	writeAll(t, s)

	data, err := fsutil.OSFileSystem{}.ReadFile(filepath.Join(dir, ArrowFile))
	require.NoError(t, err)
	rdr, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(memory.NewGoAllocator()))
	require.NoError(t, err)
	defer rdr.Release()

	assert.True(t, rdr.Schema().Equal(ArrowSchema))

	var steps []int64
	batches := 0
	for rdr.Next() {
		rec := rdr.Record()
		batches++
		require.Equal(t, int64(3), rec.NumRows())
		steps = append(steps, rec.Column(0).(*array.Int64).Value(0))

		act := rec.Column(5).(*array.Float64)
		nulls := 0
		for i := 0; i < act.Len(); i++ {
			if act.IsNull(i) {
				nulls++
			}
		}
		assert.Equal(t, 1, nulls)
	}
	require.NoError(t, rdr.Err())
	assert.Equal(t, 2, batches)
	assert.Equal(t, []int64{0, 100}, steps)
}

func TestOpen_MultipleAndUnknown(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	s, err := Open(fsys, "/run/files", Options{Formats: []string{FormatVTK, FormatFrameLog}})
	require.NoError(t, err)
	writeAll(t, s)
	assert.True(t, fsys.Exists("/run/files/frame_0000000100.vtk"))
	assert.True(t, fsys.Exists("/run/files/framelog/index.bin"))

	_, err = Open(fsys, "/other", Options{Formats: []string{"ply"}})
	assert.ErrorContains(t, err, "unknown dataset format")
}
