package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/neuroframes/internal/config"
	"github.com/banshee-data/neuroframes/internal/db"
	"github.com/banshee-data/neuroframes/internal/fsutil"
	"github.com/banshee-data/neuroframes/internal/testutil"
	"github.com/banshee-data/neuroframes/internal/version"
)

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	rootCmd := newRootCmd()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeRun(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "run")
	testutil.NewRun(t, fsutil.OSFileSystem{}, root).
		Positions("0 0 0 0 area_0", "1 1 0 0 area_0", "2 0 1 0 area_1").
		Targets("0 0.5", "1 0.5", "2 0.5").
		Monitor(0, 0, "0,0.5", "100,0.5").
		Monitor(0, 1, "0,1.5", "100,1.5").
		Monitor(0, 2, "0,0.5", "100,0.5").
		Connections("0 1")
	return root
}

func TestVersionCmd(t *testing.T) {
	oldV, oldSHA, oldBuilt := version.Version, version.GitSHA, version.BuildTime
	defer func() { version.Version, version.GitSHA, version.BuildTime = oldV, oldSHA, oldBuilt }()
	version.Version, version.GitSHA, version.BuildTime = "0.3.0", "deadbeef", "today"

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "neuroframes version 0.3.0 (commit: deadbeef, built: today)\n", out)

	out, err = execute(t, "version", "--json")
	require.NoError(t, err)
	var info version.Info
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "deadbeef", info.GitSHA)
}

func TestRunInspectRuns(t *testing.T) {
	root := writeRun(t)
	catalogue := filepath.Join(t.TempDir(), "runs.db")

	out, err := execute(t, "run", root, "--format", "vtk,framelog,arrow", "--catalogue", catalogue, "--json")
	require.NoError(t, err)

	var sum map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.EqualValues(t, 2, sum["frames"])
	assert.EqualValues(t, 3, sum["neurons"])
	assert.EqualValues(t, 1, sum["edges"])
	assert.Equal(t, "DONE", sum["state"])

	for _, rel := range []string{
		"files/dataset.vtk.series",
		"files/frame_0000000000.vtk",
		"files/frame_0000000100.vtk",
		"files/framelog/header.json",
		"files/framelog/index.bin",
		"files/dataset.arrows",
		"report/summary.json",
		"report/activity.png",
		"report/activity.html",
		"report/metrics.prom",
	} {
		_, err := os.Stat(filepath.Join(root, rel))
		assert.NoError(t, err, rel)
	}

	prom, err := os.ReadFile(filepath.Join(root, "report", "metrics.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(prom), "neuroframes_frames_written_total 2")

	out, err = execute(t, "inspect", filepath.Join(root, "files", "framelog"), "--frames")
	require.NoError(t, err)
	assert.Contains(t, out, "frames:    2 readable\n")
	assert.Contains(t, out, "steps:     0..100\n")
	assert.Contains(t, out, "complete:  true\n")
	assert.NotContains(t, out, "recovered")
	assert.Contains(t, out, "MEAN|DEV|")

	out, err = execute(t, "inspect", filepath.Join(root, "files", "framelog"), "--frames", "--from-step", "50", "--json")
	require.NoError(t, err)
	var res inspectResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Frames, 1)
	assert.Equal(t, int64(100), res.Frames[0].Step)
	assert.Equal(t, 1, res.Edges)

	out, err = execute(t, "runs", catalogue)
	require.NoError(t, err)
	assert.Contains(t, out, "done")
	assert.Contains(t, out, root)
}

func TestRunCmd_Text(t *testing.T) {
	root := writeRun(t)

	out, err := execute(t, "run", root, "--no-report")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, root+": 2 frames (steps 0..100), 3 neurons, 1 edges, 3 series, 0 warnings"), out)

	_, err = os.Stat(filepath.Join(root, "report"))
	assert.True(t, os.IsNotExist(err), "--no-report skips the report directory")
}

func TestRunCmd_FailureIsCatalogued(t *testing.T) {
	root := writeRun(t)
	require.NoError(t, os.Remove(filepath.Join(root, "calcium_targets.txt")))
	catalogue := filepath.Join(t.TempDir(), "runs.db")

	_, err := execute(t, "run", root, "--catalogue", catalogue)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "calcium_targets")

	_, err = os.Stat(filepath.Join(root, "files"))
	assert.True(t, os.IsNotExist(err))

	cat, err := db.OpenDB(catalogue)
	require.NoError(t, err)
	defer cat.Close()
	runs, err := cat.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, db.StatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "calcium_targets")
}

func TestRunsCmd_Empty(t *testing.T) {
	out, err := execute(t, "runs", filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	assert.Equal(t, "No runs recorded.\n", out)
}

func TestRunConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_gap: 5\nformats: [arrow]\nid_base: 1\n"), 0o644))

	tests := []struct {
		name    string
		args    []string
		check   func(t *testing.T, cfg *config.PipelineConfig)
		wantErr bool
	}{
		{
			name: "defaults",
			check: func(t *testing.T, cfg *config.PipelineConfig) {
				assert.Equal(t, int64(-1), cfg.GetMaxGap())
				assert.Equal(t, []string{"vtk"}, cfg.GetFormats())
				assert.True(t, cfg.GetCompressFrames())
			},
		},
		{
			name: "file",
			args: []string{"--config", path},
			check: func(t *testing.T, cfg *config.PipelineConfig) {
				assert.Equal(t, int64(5), cfg.GetMaxGap())
				assert.Equal(t, []string{"arrow"}, cfg.GetFormats())
				assert.Equal(t, 1, cfg.GetIDBase())
			},
		},
		{
			name: "flags override file",
			args: []string{"--config", path, "--max-gap", "3", "--no-compress", "--stride", "50"},
			check: func(t *testing.T, cfg *config.PipelineConfig) {
				assert.Equal(t, int64(3), cfg.GetMaxGap())
				assert.Equal(t, int64(50), cfg.GetResampleStride())
				assert.False(t, cfg.GetCompressFrames())
				assert.Equal(t, []string{"arrow"}, cfg.GetFormats())
			},
		},
		{name: "invalid id base", args: []string{"--id-base", "2"}, wantErr: true},
		{name: "unknown format", args: []string{"--format", "csv"}, wantErr: true},
		{name: "neighbours without proximity", args: []string{"--max-neighbours", "3"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRunCmd()
			require.NoError(t, cmd.ParseFlags(tt.args))
			cfg, err := runConfig(cmd)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestRunCmd_RejectsEscapingOutputDir(t *testing.T) {
	root := writeRun(t)
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "files")))

	_, err := execute(t, "run", root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refusing to write outputs")

	entries, err := os.ReadDir(outside)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
