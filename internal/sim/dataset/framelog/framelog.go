// Package framelog provides recording and replay of assembled frames in a
// chunked, length-prefixed container.
//
// Layout under the log directory:
//
//	header.json             written on open, rewritten with totals on close
//	edges.json              static edge list
//	frames/chunk_NNNN.bin   [u32 length][record] ...
//	index.bin               written on close
//
// A log without index.bin is the product of an interrupted run. Readers
// rebuild the index by scanning chunks in order and keep every record up
// to the first truncated or undecodable one.
package framelog

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/golang/snappy"

	"github.com/banshee-data/neuroframes/internal/sim"
)

// Version of the on-disk layout.
const Version = "1.0"

// DefaultFramesPerChunk is the number of frames per chunk file.
const DefaultFramesPerChunk = 256

// Compression names stored in the header.
const (
	CompressionNone   = "none"
	CompressionSnappy = "snappy"
)

const (
	headerFile = "header.json"
	indexFile  = "index.bin"
	edgesFile  = "edges.json"
	framesDir  = "frames"
)

// Header describes a log.
type Header struct {
	Version     string `json:"version"`
	Compression string `json:"compression"`
	TotalFrames uint64 `json:"total_frames"`
	FirstStep   int64  `json:"first_step"`
	LastStep    int64  `json:"last_step"`
	Neurons     int    `json:"neurons"`
	Edges       int    `json:"edges"`
	Complete    bool   `json:"complete"`
}

// IndexEntry locates one record.
type IndexEntry struct {
	FrameIndex uint64
	Step       int64
	ChunkID    uint32
	Offset     uint32
}

// indexEntrySize is the encoded size of an IndexEntry.
const indexEntrySize = 8 + 8 + 4 + 4

// Point is one neuron in a record. Nil values are missing.
type Point struct {
	Neuron    sim.NeuronID `json:"id"`
	X         float64      `json:"x"`
	Y         float64      `json:"y"`
	Z         float64      `json:"z"`
	Activity  *float64     `json:"activity"`
	Deviation *float64     `json:"deviation"`
	Area      int          `json:"area"`
}

// Stats is the per-frame summary. Nil means is undefined.
type Stats struct {
	Defined          int      `json:"defined"`
	Missing          int      `json:"missing"`
	MeanActivity     *float64 `json:"mean_activity"`
	MeanAbsDeviation *float64 `json:"mean_abs_deviation"`
}

// Record is one serialised frame.
type Record struct {
	Index  int     `json:"index"`
	Step   int64   `json:"step"`
	Points []Point `json:"points"`
	Stats  Stats   `json:"stats"`
}

func chunkPath(dir string, id int) string {
	return filepath.Join(dir, framesDir, fmt.Sprintf("chunk_%04d.bin", id))
}

func encodeRecord(rec *Record, compression string) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	if compression == CompressionSnappy {
		return snappy.Encode(nil, data), nil
	}
	return data, nil
}

func decodeRecord(data []byte, compression string) (*Record, error) {
	if compression == CompressionSnappy {
		raw, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("snappy: %w", err)
		}
		data = raw
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
