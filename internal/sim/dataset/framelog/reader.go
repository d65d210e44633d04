package framelog

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sort"
	"sync"

	"github.com/banshee-data/neuroframes/internal/fsutil"
	"github.com/banshee-data/neuroframes/internal/sim"
)

// Reader reads records from a log.
type Reader struct {
	fsys      fsutil.FileSystem
	dir       string
	header    Header
	index     []IndexEntry
	recovered bool

	currentFrame int
	currentChunk int
	chunkData    []byte

	mu sync.Mutex
}

// Open opens the log in dir. When index.bin is absent the index is rebuilt
// from the chunks and Recovered reports true.
func Open(fsys fsutil.FileSystem, dir string) (*Reader, error) {
	r := &Reader{fsys: fsys, dir: dir, currentChunk: -1}

	headerData, err := fsys.ReadFile(filepath.Join(dir, headerFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if err := json.Unmarshal(headerData, &r.header); err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	indexData, err := fsys.ReadFile(filepath.Join(dir, indexFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := r.recover(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read index: %w", err)
	default:
		if err := r.parseIndex(indexData); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Reader) parseIndex(data []byte) error {
	if len(data)%indexEntrySize != 0 {
		return fmt.Errorf("index size %d is not a multiple of %d", len(data), indexEntrySize)
	}
	r.index = make([]IndexEntry, len(data)/indexEntrySize)
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, r.index); err != nil {
		return fmt.Errorf("failed to parse index: %w", err)
	}
	return nil
}

// recover scans chunk files in order, indexing every intact record up to
// the first damaged one.
func (r *Reader) recover() error {
	r.recovered = true
	for chunkID := 0; ; chunkID++ {
		data, err := r.fsys.ReadFile(chunkPath(r.dir, chunkID))
		if errors.Is(err, fs.ErrNotExist) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read chunk: %w", err)
		}
		intact := true
		offset := 0
		for offset < len(data) {
			if offset+4 > len(data) {
				intact = false
				break
			}
			n := int(binary.LittleEndian.Uint32(data[offset:]))
			if offset+4+n > len(data) {
				intact = false
				break
			}
			rec, err := decodeRecord(data[offset+4:offset+4+n], r.header.Compression)
			if err != nil {
				intact = false
				break
			}
			r.index = append(r.index, IndexEntry{
				FrameIndex: uint64(rec.Index),
				Step:       rec.Step,
				ChunkID:    uint32(chunkID),
				Offset:     uint32(offset),
			})
			offset += 4 + n
		}
		if !intact {
			sim.Opsf("framelog %s: chunk %d damaged at offset %d; recovered %d frames", r.dir, chunkID, offset, len(r.index))
			break
		}
	}
	r.header.TotalFrames = uint64(len(r.index))
	if n := len(r.index); n > 0 {
		r.header.FirstStep = r.index[0].Step
		r.header.LastStep = r.index[n-1].Step
	}
	return nil
}

// Header returns the log header.
func (r *Reader) Header() Header { return r.header }

// Recovered reports whether the index was rebuilt from an interrupted log.
func (r *Reader) Recovered() bool { return r.recovered }

// Len returns the number of readable records.
func (r *Reader) Len() int { return len(r.index) }

// Edges returns the static edge list, empty if none was written.
func (r *Reader) Edges() ([]sim.Edge, error) {
	data, err := r.fsys.ReadFile(filepath.Join(r.dir, edgesFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read edges: %w", err)
	}
	var pairs [][2]sim.NeuronID
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, fmt.Errorf("failed to parse edges: %w", err)
	}
	edges := make([]sim.Edge, len(pairs))
	for i, p := range pairs {
		edges[i] = sim.NewEdge(p[0], p[1])
	}
	return edges, nil
}

// Seek positions the reader at record i.
func (r *Reader) Seek(i int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i < 0 || i >= len(r.index) {
		return fmt.Errorf("frame index out of range: %d not in [0,%d)", i, len(r.index))
	}
	r.currentFrame = i
	return nil
}

// SeekToStep positions the reader at the first record with Step >= step,
// or the last record when step is beyond the log.
func (r *Reader) SeekToStep(step int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.index) == 0 {
		return io.EOF
	}
	i := sort.Search(len(r.index), func(i int) bool { return r.index[i].Step >= step })
	if i == len(r.index) {
		i--
	}
	r.currentFrame = i
	return nil
}

// Next reads the current record and advances. It returns io.EOF after the
// last record.
func (r *Reader) Next() (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.currentFrame >= len(r.index) {
		return nil, io.EOF
	}
	entry := r.index[r.currentFrame]

	if int(entry.ChunkID) != r.currentChunk {
		data, err := r.fsys.ReadFile(chunkPath(r.dir, int(entry.ChunkID)))
		if err != nil {
			return nil, fmt.Errorf("failed to read chunk: %w", err)
		}
		r.chunkData = data
		r.currentChunk = int(entry.ChunkID)
	}

	offset := int(entry.Offset)
	if offset+4 > len(r.chunkData) {
		return nil, fmt.Errorf("invalid frame offset %d in chunk %d", offset, entry.ChunkID)
	}
	n := int(binary.LittleEndian.Uint32(r.chunkData[offset:]))
	offset += 4
	if offset+n > len(r.chunkData) {
		return nil, fmt.Errorf("invalid frame length %d in chunk %d", n, entry.ChunkID)
	}

	rec, err := decodeRecord(r.chunkData[offset:offset+n], r.header.Compression)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize frame: %w", err)
	}
	r.currentFrame++
	return rec, nil
}
