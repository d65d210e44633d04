package extract

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/banshee-data/neuroframes/internal/fsutil"
	"github.com/banshee-data/neuroframes/internal/sim"
)

// ExtractedPath returns the scratch file for neuron under dir.
func ExtractedPath(dir string, neuron sim.NeuronID) string {
	return filepath.Join(dir, fmt.Sprintf("%d.csv", neuron))
}

// WriteExtracted stores a normalised series as "step,value" rows. The
// first line records the neuron and its integrity so ReadExtracted can
// restore Incomplete and Corrupt.
func WriteExtracted(fsys fsutil.FileSystem, dir string, ts *sim.TimeSeries) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# neuron=%d incomplete=%t corrupt=%d\n", ts.Neuron, ts.Incomplete, ts.Corrupt)
	for _, s := range ts.Samples {
		buf.WriteString(strconv.FormatInt(s.Step, 10))
		buf.WriteByte(',')
		buf.WriteString(strconv.FormatFloat(s.Value, 'g', -1, 64))
		buf.WriteByte('\n')
	}
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create extracted dir: %w", err)
	}
	return fsutil.WriteFileAtomic(fsys, ExtractedPath(dir, ts.Neuron), buf.Bytes(), 0644)
}

// ReadExtracted loads a series written by WriteExtracted.
func ReadExtracted(fsys fsutil.FileSystem, path string) (*sim.TimeSeries, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(string(data), "\n")
	if len(lines) == 0 || !strings.HasPrefix(lines[0], "# neuron=") {
		return nil, fmt.Errorf("%s: missing extracted header", path)
	}

	ts := &sim.TimeSeries{}
	var id int64
	if _, err := fmt.Sscanf(lines[0], "# neuron=%d incomplete=%t corrupt=%d", &id, &ts.Incomplete, &ts.Corrupt); err != nil {
		return nil, fmt.Errorf("%s: bad header: %w", path, err)
	}
	ts.Neuron = sim.NeuronID(id)

	for i, line := range lines[1:] {
		if line == "" {
			continue
		}
		stepStr, valStr, ok := strings.Cut(line, ",")
		if !ok {
			return nil, fmt.Errorf("%s:%d: malformed row", path, i+2)
		}
		step, err := strconv.ParseInt(stepStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, i+2, err)
		}
		v, err := strconv.ParseFloat(valStr, 64)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, i+2, err)
		}
		ts.Samples = append(ts.Samples, sim.ActivitySample{Step: step, Value: v})
	}
	return ts, nil
}
