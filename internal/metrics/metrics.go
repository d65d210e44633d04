// Package metrics exposes per-run Prometheus metrics and writes them as a
// node-exporter textfile.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/banshee-data/neuroframes/internal/sim/frames"
	"github.com/banshee-data/neuroframes/internal/sim/pipeline"
)

// Registry holds all metrics for one run.
type Registry struct {
	FramesWritten  prometheus.Counter
	MissingValues  prometheus.Counter
	CorruptLines   prometheus.Counter
	WarningsTotal  *prometheus.CounterVec
	Neurons        prometheus.Gauge
	Edges          prometheus.Gauge
	Series         prometheus.Gauge
	StageDuration  *prometheus.HistogramVec
	FrameMeanValue prometheus.Histogram

	registry *prometheus.Registry
}

// NewRegistry creates a Registry backed by a private prometheus registry.
func NewRegistry() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}

	r.FramesWritten = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "neuroframes_frames_written_total",
			Help: "Frames written to the dataset",
		},
	)
	r.MissingValues = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "neuroframes_missing_values_total",
			Help: "Point activity values resolved as missing across all frames",
		},
	)
	r.CorruptLines = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "neuroframes_corrupt_lines_total",
			Help: "Monitor lines that failed to parse",
		},
	)
	r.WarningsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "neuroframes_warnings_total",
			Help: "Recoverable warnings by kind",
		},
		[]string{"kind"},
	)
	r.Neurons = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "neuroframes_neurons",
			Help: "Neurons with a position",
		},
	)
	r.Edges = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "neuroframes_edges",
			Help: "Edges in the static connectivity set",
		},
	)
	r.Series = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "neuroframes_series",
			Help: "Neurons with an activity log",
		},
	)
	r.StageDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "neuroframes_stage_duration_seconds",
			Help:    "Wall time of each pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		},
		[]string{"stage"},
	)
	r.FrameMeanValue = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "neuroframes_frame_mean_activity",
			Help:    "Distribution of per-frame mean activity",
			Buckets: prometheus.LinearBuckets(0, 0.25, 12),
		},
	)
	return r
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.registry }

// ObserveFrame implements pipeline.Observer.
func (r *Registry) ObserveFrame(f *frames.Frame) {
	r.FramesWritten.Inc()
	r.MissingValues.Add(float64(f.Stats.Missing))
	if f.Stats.Defined > 0 {
		r.FrameMeanValue.Observe(f.Stats.MeanActivity)
	}
}

var _ pipeline.Observer = (*Registry)(nil)

// RecordSummary sets the run-level metrics from a finished run.
func (r *Registry) RecordSummary(sum *pipeline.Summary) {
	r.Neurons.Set(float64(sum.Neurons))
	r.Edges.Set(float64(sum.Edges))
	r.Series.Set(float64(sum.Series))
	r.CorruptLines.Add(float64(sum.CorruptLines))
	for kind, n := range sum.Warnings.Counts {
		r.WarningsTotal.WithLabelValues(string(kind)).Add(float64(n))
	}
	for _, d := range sum.Durations {
		r.StageDuration.WithLabelValues(d.Stage).Observe(d.Duration.Seconds())
	}
}

// WriteTextfile writes every metric to path in the text exposition format.
func (r *Registry) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
