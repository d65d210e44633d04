package report

import (
	"bytes"
	"encoding/json"
	"image/png"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/neuroframes/internal/fsutil"
	"github.com/banshee-data/neuroframes/internal/sim"
	"github.com/banshee-data/neuroframes/internal/sim/frames"
	"github.com/banshee-data/neuroframes/internal/sim/pipeline"
)

func TestCollector(t *testing.T) {
	var c Collector
	c.ObserveFrame(&frames.Frame{Step: 5, Stats: frames.Stats{MeanActivity: 1, MeanAbsDeviation: 0.5, Missing: 2}})
	c.ObserveFrame(&frames.Frame{Step: 9, Stats: frames.Stats{MeanActivity: math.NaN(), MeanAbsDeviation: math.NaN(), Missing: 3}})

	require.Len(t, c.Samples, 2)
	assert.Equal(t, int64(9), c.Samples[1].Step)
	assert.Equal(t, 3, c.Samples[1].Missing)
}

func TestWrite(t *testing.T) {
	c := &Collector{}
	for i := 0; i < 10; i++ {
		mean := float64(i) / 10
		if i == 4 {
			mean = math.NaN()
		}
		c.ObserveFrame(&frames.Frame{Step: int64(i * 100), Stats: frames.Stats{MeanActivity: mean, MeanAbsDeviation: 0.1, Missing: i % 3}})
	}
	sum := &pipeline.Summary{
		Root:   "/data/run",
		State:  "DONE",
		Frames: 10,
		Warnings: sim.WarningSummary{
			Counts: map[sim.WarningKind]int{sim.ParseWarning: 3, sim.GapExceededWarning: 1},
		},
	}

	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, Write(fsys, "/data/run/report", sum, c))

	assert.Equal(t, []string{
		"/data/run/report/activity.html",
		"/data/run/report/activity.png",
		"/data/run/report/summary.json",
	}, fsys.Files("/data/run/report"))

	data, err := fsys.ReadFile("/data/run/report/summary.json")
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "/data/run", got["root"])
	assert.NotContains(t, got, "Durations")

	img, err := fsys.ReadFile("/data/run/report/activity.png")
	require.NoError(t, err)
	_, err = png.Decode(bytes.NewReader(img))
	assert.NoError(t, err)

	html, err := fsys.ReadFile("/data/run/report/activity.html")
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(html), "Warnings by kind"))
	assert.True(t, strings.Contains(string(html), "gap_exceeded"))
}

func TestWrite_NoFrames(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, Write(fsys, "/r", &pipeline.Summary{}, &Collector{}))
	assert.True(t, fsys.Exists("/r/activity.png"))
}
