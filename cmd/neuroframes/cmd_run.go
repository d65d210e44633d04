package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/neuroframes/internal/config"
	"github.com/banshee-data/neuroframes/internal/db"
	"github.com/banshee-data/neuroframes/internal/fsutil"
	"github.com/banshee-data/neuroframes/internal/metrics"
	"github.com/banshee-data/neuroframes/internal/monitoring"
	"github.com/banshee-data/neuroframes/internal/report"
	"github.com/banshee-data/neuroframes/internal/security"
	"github.com/banshee-data/neuroframes/internal/sim"
	"github.com/banshee-data/neuroframes/internal/sim/locate"
	"github.com/banshee-data/neuroframes/internal/sim/pipeline"
	"github.com/banshee-data/neuroframes/internal/timeutil"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <root>",
		Short: "Convert a simulation run directory into a frame dataset",
		Long: `Convert the run rooted at <root>. Frames are written under <root>/files,
the summary report and metrics under <root>/report.

Flags override values from --config.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := runConfig(cmd)
			if err != nil {
				return err
			}
			setupLogging(cmd, cmd.ErrOrStderr())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sum, err := executeRun(ctx, args[0], cfg, timeutil.RealClock{})
			if err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(sum)
			}
			printSummary(cmd.OutOrStdout(), sum)
			return nil
		},
	}

	cmd.Flags().String("config", "", "Pipeline config file (.json, .yaml or .yml)")
	cmd.Flags().Int64("stride", 0, "Resample onto a regular step grid (0 keeps observed steps)")
	cmd.Flags().Int64("max-gap", -1, "Hold the last value for at most this many steps (-1 is unlimited)")
	cmd.Flags().StringSlice("format", nil, "Dataset formats: vtk, framelog, arrow")
	cmd.Flags().Int("workers", 0, "Extraction workers (0 uses GOMAXPROCS)")
	cmd.Flags().Int("id-base", 0, "Offset subtracted from neuron ids on disk (0 or 1)")
	cmd.Flags().Int("max-corrupt", 10, "Malformed lines tolerated per monitor file")
	cmd.Flags().Float64("proximity", 0, "Derive edges between somas closer than this when no connectivity file exists")
	cmd.Flags().Int("max-neighbours", 0, "Cap proximity edges per neuron (0 is unlimited)")
	cmd.Flags().Bool("write-extracted", false, "Write per-neuron series to monitors_extracted/")
	cmd.Flags().Bool("no-compress", false, "Store framelog records uncompressed")
	cmd.Flags().Bool("no-report", false, "Skip the summary report and metrics")
	cmd.Flags().String("catalogue", "", "Record the run in this SQLite catalogue")

	return cmd
}

// runConfig loads --config, if any, and overlays every flag the user set.
func runConfig(cmd *cobra.Command) (*config.PipelineConfig, error) {
	cfg := config.EmptyPipelineConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.LoadPipelineConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.Merge(flagOverrides(cmd))
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

func flagOverrides(cmd *cobra.Command) *config.PipelineConfig {
	f := cmd.Flags()
	o := config.EmptyPipelineConfig()
	if f.Changed("stride") {
		v, _ := f.GetInt64("stride")
		o.ResampleStride = &v
	}
	if f.Changed("max-gap") {
		v, _ := f.GetInt64("max-gap")
		o.MaxGap = &v
	}
	if f.Changed("format") {
		o.Formats, _ = f.GetStringSlice("format")
	}
	if f.Changed("workers") {
		v, _ := f.GetInt("workers")
		o.Workers = &v
	}
	if f.Changed("id-base") {
		v, _ := f.GetInt("id-base")
		o.IDBase = &v
	}
	if f.Changed("max-corrupt") {
		v, _ := f.GetInt("max-corrupt")
		o.MaxCorruptLines = &v
	}
	if f.Changed("proximity") {
		v, _ := f.GetFloat64("proximity")
		o.ProximityThreshold = &v
	}
	if f.Changed("max-neighbours") {
		v, _ := f.GetInt("max-neighbours")
		o.MaxNeighbours = &v
	}
	if f.Changed("write-extracted") {
		v, _ := f.GetBool("write-extracted")
		o.WriteExtracted = &v
	}
	if f.Changed("no-compress") {
		v, _ := f.GetBool("no-compress")
		v = !v
		o.CompressFrames = &v
	}
	if f.Changed("no-report") {
		v, _ := f.GetBool("no-report")
		v = !v
		o.Report = &v
	}
	if f.Changed("catalogue") {
		v, _ := f.GetString("catalogue")
		o.Catalogue = &v
	}
	return o
}

// executeRun runs the pipeline on the local filesystem, then writes the
// report and metrics and updates the catalogue.
func executeRun(ctx context.Context, root string, cfg *config.PipelineConfig, clock timeutil.Clock) (*pipeline.Summary, error) {
	fsys := fsutil.OSFileSystem{}
	if fsys.Exists(root) {
		err := security.CheckOutputDirs(root,
			filepath.Join(root, locate.FilesDir),
			filepath.Join(root, locate.ReportDir),
			filepath.Join(root, locate.ExtractedDir))
		if err != nil {
			return nil, err
		}
	}

	var catalogue *db.DB
	var runID string
	if path := cfg.GetCatalogue(); path != "" {
		var err error
		if catalogue, err = db.OpenDB(path); err != nil {
			return nil, fmt.Errorf("open catalogue: %w", err)
		}
		defer catalogue.Close()
		if runID, err = catalogue.InsertRun(root, clock.Now()); err != nil {
			return nil, err
		}
	}

	reg := metrics.NewRegistry()
	collector := &report.Collector{}
	progress := monitoring.NewProgress(0, 5*time.Second, clock)

	p := pipeline.New(fsys, root, cfg, pipeline.Options{
		Clock:     clock,
		Observers: []pipeline.Observer{collector, reg, progress},
		OnWarning: func(w sim.Warning) { monitoring.Logf("warning: %s", w) },
	})
	sum, runErr := p.Run(ctx)

	if catalogue != nil {
		res := db.RunResult{Err: runErr}
		if sum != nil {
			res = runResult(sum)
		}
		if err := catalogue.FinishRun(runID, clock.Now(), res); err != nil {
			monitoring.Logf("catalogue: %v", err)
		}
	}
	if runErr != nil {
		return nil, runErr
	}

	if cfg.GetReport() {
		dir := filepath.Join(root, locate.ReportDir)
		if err := report.Write(fsys, dir, sum, collector); err != nil {
			return sum, err
		}
		reg.RecordSummary(sum)
		if err := reg.WriteTextfile(filepath.Join(dir, report.MetricsFile)); err != nil {
			return sum, err
		}
	}
	return sum, nil
}

func runResult(sum *pipeline.Summary) db.RunResult {
	by := make(map[string]int, len(sum.Warnings.Counts))
	for k, n := range sum.Warnings.Counts {
		by[string(k)] = n
	}
	return db.RunResult{
		Frames:     sum.Frames,
		Neurons:    sum.Neurons,
		Edges:      sum.Edges,
		FirstStep:  sum.FirstStep,
		LastStep:   sum.LastStep,
		WarningsBy: by,
	}
}

func printSummary(w io.Writer, sum *pipeline.Summary) {
	total := 0
	for _, n := range sum.Warnings.Counts {
		total += n
	}
	fmt.Fprintf(w, "%s: %d frames (steps %d..%d), %d neurons, %d edges, %d series",
		sum.Root, sum.Frames, sum.FirstStep, sum.LastStep, sum.Neurons, sum.Edges, sum.Series)
	if sum.Incomplete > 0 {
		fmt.Fprintf(w, " (%d incomplete)", sum.Incomplete)
	}
	fmt.Fprintf(w, ", %d warnings\n", total)
	for _, k := range sum.Warnings.Kinds() {
		fmt.Fprintf(w, "  %-22s %d\n", k, sum.Warnings.Counts[k])
	}
}
