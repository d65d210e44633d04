// Package report renders the human-facing summary of a pipeline run:
// summary.json, a PNG chart and an interactive HTML page.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/color"
	"math"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/neuroframes/internal/fsutil"
	"github.com/banshee-data/neuroframes/internal/sim/frames"
	"github.com/banshee-data/neuroframes/internal/sim/pipeline"
)

// Output file names under the report directory.
const (
	SummaryFile  = "summary.json"
	ActivityPNG  = "activity.png"
	ActivityHTML = "activity.html"
	MetricsFile  = "metrics.prom"
)

// Sample is the per-frame data a report keeps.
type Sample struct {
	Step             int64
	MeanActivity     float64
	MeanAbsDeviation float64
	Missing          int
}

// Collector accumulates one Sample per frame.
type Collector struct {
	Samples []Sample
}

var _ pipeline.Observer = (*Collector)(nil)

// ObserveFrame implements pipeline.Observer.
func (c *Collector) ObserveFrame(f *frames.Frame) {
	c.Samples = append(c.Samples, Sample{
		Step:             f.Step,
		MeanActivity:     f.Stats.MeanActivity,
		MeanAbsDeviation: f.Stats.MeanAbsDeviation,
		Missing:          f.Stats.Missing,
	})
}

// Write renders every report artifact into dir.
func Write(fsys fsutil.FileSystem, dir string, sum *pipeline.Summary, c *Collector) error {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}

	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := fsutil.WriteFileAtomic(fsys, filepath.Join(dir, SummaryFile), append(data, '\n'), 0o644); err != nil {
		return err
	}

	png, err := renderPNG(c.Samples)
	if err != nil {
		return fmt.Errorf("render activity plot: %w", err)
	}
	if err := fsutil.WriteFileAtomic(fsys, filepath.Join(dir, ActivityPNG), png, 0o644); err != nil {
		return err
	}

	page, err := renderHTML(sum, c.Samples)
	if err != nil {
		return fmt.Errorf("render activity page: %w", err)
	}
	return fsutil.WriteFileAtomic(fsys, filepath.Join(dir, ActivityHTML), page, 0o644)
}

func renderPNG(samples []Sample) ([]byte, error) {
	p := plot.New()
	p.Title.Text = "Calcium activity per frame"
	p.X.Label.Text = "Step"
	p.Y.Label.Text = "Calcium"

	series := []struct {
		label string
		color color.Color
		value func(Sample) float64
	}{
		{"mean activity", color.RGBA{R: 31, G: 119, B: 180, A: 255}, func(s Sample) float64 { return s.MeanActivity }},
		{"mean |deviation|", color.RGBA{R: 214, G: 39, B: 40, A: 255}, func(s Sample) float64 { return s.MeanAbsDeviation }},
	}
	for _, s := range series {
		pts := make(plotter.XYs, 0, len(samples))
		for _, smp := range samples {
			v := s.value(smp)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			pts = append(pts, plotter.XY{X: float64(smp.Step), Y: v})
		}
		if len(pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, err
		}
		line.Color = s.color
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(s.label, line)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	w, err := p.WriterTo(14*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func lineValue(v float64) opts.LineData {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return opts.LineData{Value: "-"}
	}
	return opts.LineData{Value: v}
}

func renderHTML(sum *pipeline.Summary, samples []Sample) ([]byte, error) {
	x := make([]string, len(samples))
	act := make([]opts.LineData, len(samples))
	dev := make([]opts.LineData, len(samples))
	missing := make([]opts.LineData, len(samples))
	for i, s := range samples {
		x[i] = fmt.Sprint(s.Step)
		act[i] = lineValue(s.MeanActivity)
		dev[i] = lineValue(s.MeanAbsDeviation)
		missing[i] = opts.LineData{Value: s.Missing}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{ChartID: "activity", PageTitle: "neuroframes run", Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Calcium activity", Subtitle: fmt.Sprintf("root=%s frames=%d neurons=%d", sum.Root, sum.Frames, sum.Neurons)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Step", NameLocation: "middle", NameGap: 25}),
	)
	line.SetXAxis(x).
		AddSeries("mean activity", act).
		AddSeries("mean |deviation|", dev).
		AddSeries("missing", missing)

	kinds := sum.Warnings.Kinds()
	names := make([]string, len(kinds))
	counts := make([]opts.BarData, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
		counts[i] = opts.BarData{Value: sum.Warnings.Counts[k]}
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{ChartID: "warnings", Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: "Warnings by kind"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(names).
		AddSeries("warnings", counts,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.PageTitle = "neuroframes run"
	page.AddCharts(line, bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
