package dataset

import (
	"bytes"
	"fmt"
	"io"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"github.com/banshee-data/neuroframes/internal/fsutil"
	"github.com/banshee-data/neuroframes/internal/sim/frames"
)

// ArrowFile is the Arrow IPC stream written by ArrowSink.
const ArrowFile = "dataset.arrows"

// ArrowSchema is the per-point row layout; each frame is one record batch.
var ArrowSchema = arrow.NewSchema([]arrow.Field{
	{Name: "step", Type: arrow.PrimitiveTypes.Int64},
	{Name: "neuron_id", Type: arrow.PrimitiveTypes.Int64},
	{Name: "x", Type: arrow.PrimitiveTypes.Float64},
	{Name: "y", Type: arrow.PrimitiveTypes.Float64},
	{Name: "z", Type: arrow.PrimitiveTypes.Float64},
	{Name: "activity", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "deviation", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "area", Type: arrow.PrimitiveTypes.Int32},
}, nil)

// ArrowSink streams frames as Arrow record batches. Each batch is encoded
// into buf and reaches the file in a single write, so the stream never
// ends inside a frame.
type ArrowSink struct {
	out io.WriteCloser
	buf bytes.Buffer
	w   *ipc.Writer
	b   *array.RecordBuilder
}

// NewArrowSink creates the stream file at path.
func NewArrowSink(fsys fsutil.FileSystem, path string) (*ArrowSink, error) {
	out, err := fsys.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create arrow stream: %w", err)
	}
	mem := memory.NewGoAllocator()
	s := &ArrowSink{out: out, b: array.NewRecordBuilder(mem, ArrowSchema)}
	s.w = ipc.NewWriter(&s.buf, ipc.WithSchema(ArrowSchema), ipc.WithAllocator(mem))
	return s, nil
}

// flush moves everything the ipc writer produced to the file.
func (s *ArrowSink) flush() error {
	if s.buf.Len() == 0 {
		return nil
	}
	_, err := s.out.Write(s.buf.Bytes())
	s.buf.Reset()
	return err
}

// WriteFrame implements Sink.
func (s *ArrowSink) WriteFrame(f *frames.Frame) error {
	step := s.b.Field(0).(*array.Int64Builder)
	id := s.b.Field(1).(*array.Int64Builder)
	x := s.b.Field(2).(*array.Float64Builder)
	y := s.b.Field(3).(*array.Float64Builder)
	z := s.b.Field(4).(*array.Float64Builder)
	act := s.b.Field(5).(*array.Float64Builder)
	dev := s.b.Field(6).(*array.Float64Builder)
	area := s.b.Field(7).(*array.Int32Builder)

	for _, p := range f.Points {
		step.Append(f.Step)
		id.Append(int64(p.Neuron))
		x.Append(p.Position.X)
		y.Append(p.Position.Y)
		z.Append(p.Position.Z)
		if p.Activity.Valid {
			act.Append(p.Activity.V)
		} else {
			act.AppendNull()
		}
		if p.Deviation.Valid {
			dev.Append(p.Deviation.V)
		} else {
			dev.AppendNull()
		}
		area.Append(int32(p.Area))
	}

	rec := s.b.NewRecord()
	defer rec.Release()
	if err := s.w.Write(rec); err != nil {
		s.buf.Reset()
		return fmt.Errorf("encode arrow batch for step %d: %w", f.Step, err)
	}
	if err := s.flush(); err != nil {
		return fmt.Errorf("write arrow batch for step %d: %w", f.Step, err)
	}
	return nil
}

// Close ends the stream.
func (s *ArrowSink) Close() error {
	s.b.Release()
	if err := s.w.Close(); err != nil {
		_ = s.out.Close()
		return fmt.Errorf("close arrow stream: %w", err)
	}
	if err := s.flush(); err != nil {
		_ = s.out.Close()
		return fmt.Errorf("write arrow stream end: %w", err)
	}
	return s.out.Close()
}

// Abort implements Sink. The stream keeps every complete batch and has no
// end-of-stream marker.
func (s *ArrowSink) Abort() error {
	s.b.Release()
	s.buf.Reset()
	return s.out.Close()
}
