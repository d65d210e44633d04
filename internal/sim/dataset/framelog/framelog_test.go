package framelog

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/neuroframes/internal/fsutil"
	"github.com/banshee-data/neuroframes/internal/sim"
)

func f64(v float64) *float64 { return &v }

func testRecord(i int) *Record {
	return &Record{
		Index: i,
		Step:  int64(i * 100),
		Points: []Point{
			{Neuron: 0, X: 1, Y: 2, Z: 3, Activity: f64(float64(i)), Deviation: f64(float64(i) - 0.5), Area: 2},
			{Neuron: 4, X: -1, Area: -1},
		},
		Stats: Stats{Defined: 1, Missing: 1, MeanActivity: f64(float64(i))},
	}
}

func writeLog(t *testing.T, fsys fsutil.FileSystem, dir string, n int, opts Options) *Writer {
	t.Helper()
	w, err := NewWriter(fsys, dir, opts)
	require.NoError(t, err)
	require.NoError(t, w.WriteEdges([]sim.Edge{{A: 0, B: 4}}))
	for i := 0; i < n; i++ {
		require.NoError(t, w.Append(testRecord(i)))
	}
	return w
}

func readAll(t *testing.T, r *Reader) []*Record {
	t.Helper()
	var out []*Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, rec)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		fsys := fsutil.NewMemoryFileSystem()
		w := writeLog(t, fsys, "/run/files/framelog", 7, Options{Compress: compress, FramesPerChunk: 3})
		require.NoError(t, w.Close())
		require.NoError(t, w.Close(), "second close is a no-op")
		assert.Error(t, w.Append(testRecord(8)))

		assert.Len(t, fsys.Files("/run/files/framelog/frames"), 3)

		r, err := Open(fsys, "/run/files/framelog")
		require.NoError(t, err)
		assert.False(t, r.Recovered())

		h := r.Header()
		assert.Equal(t, uint64(7), h.TotalFrames)
		assert.Equal(t, int64(0), h.FirstStep)
		assert.Equal(t, int64(600), h.LastStep)
		assert.Equal(t, 2, h.Neurons)
		assert.Equal(t, 1, h.Edges)
		assert.True(t, h.Complete)
		if compress {
			assert.Equal(t, CompressionSnappy, h.Compression)
		}

		got := readAll(t, r)
		require.Len(t, got, 7)
		for i, rec := range got {
			if diff := cmp.Diff(testRecord(i), rec); diff != "" {
				t.Errorf("record %d mismatch (-want +got):\n%s", i, diff)
			}
		}

		edges, err := r.Edges()
		require.NoError(t, err)
		assert.Equal(t, []sim.Edge{{A: 0, B: 4}}, edges)
	}
}

func TestSeek(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, writeLog(t, fsys, "/log", 5, Options{FramesPerChunk: 2}).Close())
	r, err := Open(fsys, "/log")
	require.NoError(t, err)

	require.NoError(t, r.SeekToStep(250))
	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(300), rec.Step)

	require.NoError(t, r.SeekToStep(10_000))
	rec, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, 4, rec.Index)

	require.NoError(t, r.Seek(1))
	rec, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Index)

	assert.Error(t, r.Seek(5))
}

func TestRecover_InterruptedRun(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "framelog")
	fsys := fsutil.OSFileSystem{}
	// The writer is never closed: no index, header without totals.
	writeLog(t, fsys, dir, 5, Options{Compress: true, FramesPerChunk: 2})

	r, err := Open(fsys, dir)
	require.NoError(t, err)
	assert.True(t, r.Recovered())
	assert.False(t, r.Header().Complete)
	assert.Equal(t, uint64(5), r.Header().TotalFrames)
	assert.Len(t, readAll(t, r), 5)
}

func TestAbort_LeavesLogIncomplete(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	w := writeLog(t, fsys, "/run/framelog", 3, Options{FramesPerChunk: 2})
	require.NoError(t, w.Abort())
	require.NoError(t, w.Abort(), "second abort is a no-op")
	require.NoError(t, w.Close(), "close after abort is a no-op")
	assert.Error(t, w.Append(testRecord(3)))

	_, err := fsys.ReadFile("/run/framelog/" + indexFile)
	assert.Error(t, err)

	r, err := Open(fsys, "/run/framelog")
	require.NoError(t, err)
	assert.True(t, r.Recovered())
	assert.False(t, r.Header().Complete)
	assert.Len(t, readAll(t, r), 3)
}

func TestRecover_TruncatedTail(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "framelog")
	fsys := fsutil.OSFileSystem{}
	require.NoError(t, writeLog(t, fsys, dir, 5, Options{Compress: true, FramesPerChunk: 2}).Close())

	require.NoError(t, os.Remove(filepath.Join(dir, indexFile)))
	last := chunkPath(dir, 2)
	info, err := os.Stat(last)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(last, info.Size()-3))

	r, err := Open(fsys, dir)
	require.NoError(t, err)
	assert.True(t, r.Recovered())

	got := readAll(t, r)
	require.Len(t, got, 4, "the truncated record is dropped")
	for i, rec := range got {
		assert.Equal(t, i, rec.Index)
	}
	assert.Equal(t, int64(300), r.Header().LastStep)
}

func TestOpen_Errors(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	_, err := Open(fsys, "/missing")
	assert.Error(t, err)

	require.NoError(t, fsys.WriteFile("/bad/header.json", []byte("{"), 0o644))
	_, err = Open(fsys, "/bad")
	assert.Error(t, err)

	require.NoError(t, fsys.WriteFile("/short/header.json", []byte(`{"version":"1.0"}`), 0o644))
	require.NoError(t, fsys.WriteFile("/short/index.bin", []byte{1, 2, 3}, 0o644))
	_, err = Open(fsys, "/short")
	assert.Error(t, err)
}
