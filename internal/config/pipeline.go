package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Output format names accepted in PipelineConfig.Formats.
const (
	FormatVTK      = "vtk"
	FormatFrameLog = "framelog"
	FormatArrow    = "arrow"
)

// PipelineConfig holds every tunable of a pipeline run. Fields are
// pointers so a partial file only overrides what it names; the Get*
// methods supply defaults for the rest. The same keys are accepted
// from JSON and YAML files.
type PipelineConfig struct {
	// Alignment
	ResampleStride *int64 `json:"resample_stride,omitempty" yaml:"resample_stride,omitempty" validate:"omitnil,gte=0"`
	MaxGap         *int64 `json:"max_gap,omitempty" yaml:"max_gap,omitempty" validate:"omitnil,gte=-1"`

	// Extraction
	MaxCorruptLines *int  `json:"max_corrupt_lines,omitempty" yaml:"max_corrupt_lines,omitempty" validate:"omitnil,gte=0"`
	ValueColumn     *int  `json:"value_column,omitempty" yaml:"value_column,omitempty" validate:"omitnil,gte=1"`
	Workers         *int  `json:"workers,omitempty" yaml:"workers,omitempty" validate:"omitnil,gte=0,lte=1024"`
	WriteExtracted  *bool `json:"write_extracted,omitempty" yaml:"write_extracted,omitempty"`

	// Identifiers
	IDBase *int `json:"id_base,omitempty" yaml:"id_base,omitempty" validate:"omitnil,oneof=0 1"`

	// Connectivity
	ProximityThreshold *float64 `json:"proximity_threshold,omitempty" yaml:"proximity_threshold,omitempty" validate:"omitnil,gte=0"`
	MaxNeighbours      *int     `json:"max_neighbours,omitempty" yaml:"max_neighbours,omitempty" validate:"omitnil,gte=0"`

	// Output
	Formats        []string `json:"formats,omitempty" yaml:"formats,omitempty" validate:"omitempty,dive,oneof=vtk framelog arrow"`
	CompressFrames *bool    `json:"compress_frames,omitempty" yaml:"compress_frames,omitempty"`
	Report         *bool    `json:"report,omitempty" yaml:"report,omitempty"`
	Catalogue      *string  `json:"catalogue,omitempty" yaml:"catalogue,omitempty"`

	// Diagnostics
	MaxWarningSamples *int `json:"max_warning_samples,omitempty" yaml:"max_warning_samples,omitempty" validate:"omitnil,gte=1,lte=10000"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

// EmptyPipelineConfig returns a PipelineConfig with all fields set to nil.
func EmptyPipelineConfig() *PipelineConfig {
	return &PipelineConfig{}
}

// DefaultPipelineConfig returns a config with every field populated with
// its default value.
func DefaultPipelineConfig() *PipelineConfig {
	c := EmptyPipelineConfig()
	return &PipelineConfig{
		ResampleStride:     ptrInt64(c.GetResampleStride()),
		MaxGap:             ptrInt64(c.GetMaxGap()),
		MaxCorruptLines:    ptrInt(c.GetMaxCorruptLines()),
		ValueColumn:        ptrInt(c.GetValueColumn()),
		Workers:            ptrInt(0),
		WriteExtracted:     ptrBool(c.GetWriteExtracted()),
		IDBase:             ptrInt(c.GetIDBase()),
		ProximityThreshold: ptrFloat64(c.GetProximityThreshold()),
		MaxNeighbours:      ptrInt(c.GetMaxNeighbours()),
		Formats:            c.GetFormats(),
		CompressFrames:     ptrBool(c.GetCompressFrames()),
		Report:             ptrBool(c.GetReport()),
		Catalogue:          ptrString(c.GetCatalogue()),
		MaxWarningSamples:  ptrInt(c.GetMaxWarningSamples()),
	}
}

// LoadPipelineConfig loads a PipelineConfig from a .json, .yaml or .yml file.
// Fields omitted from the file retain their default values, so partial
// configs are safe.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyPipelineConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks that the configuration values are valid.
func (c *PipelineConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Formats))
	for _, f := range c.Formats {
		if seen[f] {
			return fmt.Errorf("formats: %q listed twice", f)
		}
		seen[f] = true
	}

	if c.MaxNeighbours != nil && *c.MaxNeighbours > 0 && c.GetProximityThreshold() == 0 {
		return fmt.Errorf("max_neighbours requires proximity_threshold > 0")
	}

	return nil
}

// Merge overlays every non-nil field of o onto c.
func (c *PipelineConfig) Merge(o *PipelineConfig) {
	if o == nil {
		return
	}
	if o.ResampleStride != nil {
		c.ResampleStride = o.ResampleStride
	}
	if o.MaxGap != nil {
		c.MaxGap = o.MaxGap
	}
	if o.MaxCorruptLines != nil {
		c.MaxCorruptLines = o.MaxCorruptLines
	}
	if o.ValueColumn != nil {
		c.ValueColumn = o.ValueColumn
	}
	if o.Workers != nil {
		c.Workers = o.Workers
	}
	if o.WriteExtracted != nil {
		c.WriteExtracted = o.WriteExtracted
	}
	if o.IDBase != nil {
		c.IDBase = o.IDBase
	}
	if o.ProximityThreshold != nil {
		c.ProximityThreshold = o.ProximityThreshold
	}
	if o.MaxNeighbours != nil {
		c.MaxNeighbours = o.MaxNeighbours
	}
	if o.Formats != nil {
		c.Formats = append([]string(nil), o.Formats...)
	}
	if o.CompressFrames != nil {
		c.CompressFrames = o.CompressFrames
	}
	if o.Report != nil {
		c.Report = o.Report
	}
	if o.Catalogue != nil {
		c.Catalogue = o.Catalogue
	}
	if o.MaxWarningSamples != nil {
		c.MaxWarningSamples = o.MaxWarningSamples
	}
}

// GetResampleStride returns the resample stride; 0 keeps raw observed steps.
func (c *PipelineConfig) GetResampleStride() int64 {
	if c.ResampleStride == nil {
		return 0
	}
	return *c.ResampleStride
}

// GetMaxGap returns the hold-last-value window in steps; -1 is unlimited.
func (c *PipelineConfig) GetMaxGap() int64 {
	if c.MaxGap == nil {
		return -1
	}
	return *c.MaxGap
}

// GetMaxCorruptLines returns how many malformed lines a monitor file may
// contain before its series is marked incomplete.
func (c *PipelineConfig) GetMaxCorruptLines() int {
	if c.MaxCorruptLines == nil {
		return 10
	}
	return *c.MaxCorruptLines
}

// GetValueColumn returns the zero-based column holding the activity value.
func (c *PipelineConfig) GetValueColumn() int {
	if c.ValueColumn == nil {
		return 1
	}
	return *c.ValueColumn
}

// GetWorkers returns the extraction worker count, defaulting to GOMAXPROCS.
func (c *PipelineConfig) GetWorkers() int {
	if c.Workers == nil || *c.Workers == 0 {
		return runtime.GOMAXPROCS(0)
	}
	return *c.Workers
}

// GetWriteExtracted reports whether per-neuron series are written to
// monitors_extracted/.
func (c *PipelineConfig) GetWriteExtracted() bool {
	if c.WriteExtracted == nil {
		return false
	}
	return *c.WriteExtracted
}

// GetIDBase returns the offset subtracted from every neuron id read from disk.
func (c *PipelineConfig) GetIDBase() int {
	if c.IDBase == nil {
		return 0
	}
	return *c.IDBase
}

// GetProximityThreshold returns the distance used by the proximity fallback;
// 0 disables it.
func (c *PipelineConfig) GetProximityThreshold() float64 {
	if c.ProximityThreshold == nil {
		return 0
	}
	return *c.ProximityThreshold
}

// GetMaxNeighbours caps proximity edges per neuron; 0 is unlimited.
func (c *PipelineConfig) GetMaxNeighbours() int {
	if c.MaxNeighbours == nil {
		return 0
	}
	return *c.MaxNeighbours
}

// GetFormats returns the dataset formats to emit.
func (c *PipelineConfig) GetFormats() []string {
	if len(c.Formats) == 0 {
		return []string{FormatVTK}
	}
	return append([]string(nil), c.Formats...)
}

// GetCompressFrames reports whether framelog records are snappy-compressed.
func (c *PipelineConfig) GetCompressFrames() bool {
	if c.CompressFrames == nil {
		return true
	}
	return *c.CompressFrames
}

// GetReport reports whether the summary report and charts are written.
func (c *PipelineConfig) GetReport() bool {
	if c.Report == nil {
		return true
	}
	return *c.Report
}

// GetCatalogue returns the run catalogue database path; empty disables it.
func (c *PipelineConfig) GetCatalogue() string {
	if c.Catalogue == nil {
		return ""
	}
	return *c.Catalogue
}

// GetMaxWarningSamples returns how many example warnings are kept per kind.
func (c *PipelineConfig) GetMaxWarningSamples() int {
	if c.MaxWarningSamples == nil {
		return 20
	}
	return *c.MaxWarningSamples
}
