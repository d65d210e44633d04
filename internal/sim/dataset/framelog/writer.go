package framelog

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/banshee-data/neuroframes/internal/fsutil"
	"github.com/banshee-data/neuroframes/internal/sim"
)

// Options tunes a Writer.
type Options struct {
	Compress       bool
	FramesPerChunk int
}

// Writer appends records to a log.
type Writer struct {
	fsys fsutil.FileSystem
	dir  string
	opts Options

	header       Header
	index        []IndexEntry
	currentChunk int
	chunk        io.WriteCloser
	chunkOffset  uint32
	frameCount   uint64

	mu     sync.Mutex
	closed bool
}

// NewWriter creates the log directory and an initial header.
func NewWriter(fsys fsutil.FileSystem, dir string, opts Options) (*Writer, error) {
	if opts.FramesPerChunk <= 0 {
		opts.FramesPerChunk = DefaultFramesPerChunk
	}
	if err := fsys.MkdirAll(filepath.Join(dir, framesDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &Writer{
		fsys:         fsys,
		dir:          dir,
		opts:         opts,
		currentChunk: -1,
		header: Header{
			Version:     Version,
			Compression: CompressionNone,
		},
	}
	if opts.Compress {
		w.header.Compression = CompressionSnappy
	}
	if err := w.writeHeader(); err != nil {
		return nil, err
	}
	return w, nil
}

// Path returns the log directory.
func (w *Writer) Path() string { return w.dir }

// WriteEdges stores the static edge list.
func (w *Writer) WriteEdges(edges []sim.Edge) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	pairs := make([][2]sim.NeuronID, len(edges))
	for i, e := range edges {
		pairs[i] = [2]sim.NeuronID{e.A, e.B}
	}
	data, err := json.Marshal(pairs)
	if err != nil {
		return fmt.Errorf("failed to marshal edges: %w", err)
	}
	w.header.Edges = len(edges)
	return fsutil.WriteFileAtomic(w.fsys, filepath.Join(w.dir, edgesFile), data, 0o644)
}

// Append writes rec to the current chunk.
func (w *Writer) Append(rec *Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("framelog writer is closed")
	}

	if w.frameCount == 0 {
		w.header.FirstStep = rec.Step
		w.header.Neurons = len(rec.Points)
	}
	w.header.LastStep = rec.Step

	chunkIdx := int(w.frameCount / uint64(w.opts.FramesPerChunk))
	if chunkIdx != w.currentChunk {
		if err := w.rotateChunk(chunkIdx); err != nil {
			return err
		}
	}

	data, err := encodeRecord(rec, w.header.Compression)
	if err != nil {
		return fmt.Errorf("failed to serialize frame: %w", err)
	}

	// Length prefix and payload go out in a single write.
	buf := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	if _, err := w.chunk.Write(buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}

	w.index = append(w.index, IndexEntry{
		FrameIndex: uint64(rec.Index),
		Step:       rec.Step,
		ChunkID:    uint32(chunkIdx),
		Offset:     w.chunkOffset,
	})
	w.chunkOffset += uint32(len(buf))
	w.frameCount++
	return nil
}

func (w *Writer) rotateChunk(chunkIdx int) error {
	if w.chunk != nil {
		if err := w.chunk.Close(); err != nil {
			return fmt.Errorf("failed to close chunk: %w", err)
		}
	}
	f, err := w.fsys.Create(chunkPath(w.dir, chunkIdx))
	if err != nil {
		return fmt.Errorf("failed to create chunk file: %w", err)
	}
	w.chunk = f
	w.currentChunk = chunkIdx
	w.chunkOffset = 0
	return nil
}

// FrameCount returns the number of records appended.
func (w *Writer) FrameCount() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frameCount
}

// Close finalises the log and writes the header and index.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.chunk != nil {
		if err := w.chunk.Close(); err != nil {
			return fmt.Errorf("failed to close chunk: %w", err)
		}
	}

	var buf bytes.Buffer
	buf.Grow(len(w.index) * indexEntrySize)
	for _, e := range w.index {
		// bytes.Buffer writes cannot fail.
		_ = binary.Write(&buf, binary.LittleEndian, e)
	}
	if err := fsutil.WriteFileAtomic(w.fsys, filepath.Join(w.dir, indexFile), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}

	w.header.TotalFrames = w.frameCount
	w.header.Complete = true
	return w.writeHeader()
}

// Abort closes the open chunk and stops writing. Neither index.bin nor the
// final header is written, so the log reads back as interrupted and its
// records are recovered by a chunk scan.
func (w *Writer) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	sim.Opsf("framelog %s: aborted after %d frames", w.dir, w.frameCount)

	if w.chunk != nil {
		if err := w.chunk.Close(); err != nil {
			return fmt.Errorf("failed to close chunk: %w", err)
		}
	}
	return nil
}

func (w *Writer) writeHeader() error {
	data, err := json.MarshalIndent(w.header, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if err := fsutil.WriteFileAtomic(w.fsys, filepath.Join(w.dir, headerFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}
