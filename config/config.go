// Package config holds the runtime knobs of an analysis run.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/openfluke/latentlens/analysis"
	"github.com/openfluke/latentlens/checkpoint"
	"github.com/openfluke/latentlens/dataset"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("config: invalid")

// Config captures the runtime knobs for an analysis run.
type Config struct {
	Dataset      string  `yaml:"dataset"`
	Family       string  `yaml:"family"`
	LatentDim    int     `yaml:"latent_dim"`
	TrainSamples int     `yaml:"train_samples"`
	Lambda       float64 `yaml:"lambda"`
	// DataPath holds one directory per dataset.
	DataPath    string `yaml:"data_path"`
	ResultsRoot string `yaml:"results_root"`
	// Checkpoint overrides the path derived from results_root.
	Checkpoint      string `yaml:"checkpoint"`
	NormalizeLatent bool   `yaml:"normalize_latent"`

	NumSamples    int     `yaml:"num_samples"`
	NumDirections int     `yaml:"num_directions"`
	CoeffRange    float64 `yaml:"coeff_range"`
	NumSteps      int     `yaml:"num_steps"`

	JacobianMode        string `yaml:"jacobian_mode"`
	MaxJacobianElements int    `yaml:"max_jacobian_elements"`
	Workers             int    `yaml:"workers"`
	GPU                 bool   `yaml:"gpu"`

	CellScale int    `yaml:"cell_scale"`
	ColorMap  string `yaml:"colormap"`
	Spectrum  bool   `yaml:"spectrum"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	Dataset      string
	LatentDim    int
	TrainSamples int
	Lambda       float64
	DataPath     string
	ResultsRoot  string
	Checkpoint   string
	Workers      int
	GPU          bool
	Spectrum     bool
}

// Default returns the settings of the reference experiment.
func Default() *Config {
	return &Config{
		Dataset:             "mnist",
		Family:              "cae",
		LatentDim:           10,
		TrainSamples:        50000,
		Lambda:              1e-4,
		DataPath:            "data",
		ResultsRoot:         "results",
		NumSamples:          10,
		NumDirections:       analysis.DefaultTraversal.NumDirections,
		CoeffRange:          analysis.DefaultTraversal.CoeffRange,
		NumSteps:            analysis.DefaultTraversal.NumSteps,
		JacobianMode:        analysis.EncoderJacobian.String(),
		MaxJacobianElements: analysis.DefaultMaxElements,
		Workers:             1,
		CellScale:           4,
	}
}

// Load reads and validates a Config from YAML. Keys missing from the file
// keep their Default values.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML on top of Default. Unknown keys are an error.
func Parse(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates c using any non-zero override. Boolean overrides
// can only switch a feature on.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Dataset != "" {
		c.Dataset = o.Dataset
	}
	if o.LatentDim > 0 {
		c.LatentDim = o.LatentDim
	}
	if o.TrainSamples > 0 {
		c.TrainSamples = o.TrainSamples
	}
	if o.Lambda != 0 {
		c.Lambda = o.Lambda
	}
	if o.DataPath != "" {
		c.DataPath = o.DataPath
	}
	if o.ResultsRoot != "" {
		c.ResultsRoot = o.ResultsRoot
	}
	if o.Checkpoint != "" {
		c.Checkpoint = o.Checkpoint
	}
	if o.Workers > 0 {
		c.Workers = o.Workers
	}
	if o.GPU {
		c.GPU = true
	}
	if o.Spectrum {
		c.Spectrum = true
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil: %w", ErrInvalid)
	}
	if _, err := dataset.Lookup(c.Dataset); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.Family == "" {
		return fmt.Errorf("family must be set: %w", ErrInvalid)
	}
	if c.LatentDim <= 0 {
		return fmt.Errorf("latent_dim must be > 0 (got %d): %w", c.LatentDim, ErrInvalid)
	}
	if c.TrainSamples <= 0 {
		return fmt.Errorf("train_samples must be > 0 (got %d): %w", c.TrainSamples, ErrInvalid)
	}
	if c.NumSamples <= 0 {
		return fmt.Errorf("num_samples must be > 0 (got %d): %w", c.NumSamples, ErrInvalid)
	}
	if c.NumDirections <= 0 || c.NumDirections > c.LatentDim {
		return fmt.Errorf("num_directions must be in [1,%d] (got %d): %w", c.LatentDim, c.NumDirections, ErrInvalid)
	}
	if c.NumSteps <= 0 {
		return fmt.Errorf("num_steps must be > 0 (got %d): %w", c.NumSteps, ErrInvalid)
	}
	if c.CoeffRange < 0 {
		return fmt.Errorf("coeff_range must be >= 0 (got %v): %w", c.CoeffRange, ErrInvalid)
	}
	if _, err := analysis.ParseJacobianMode(c.JacobianMode); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be > 0 (got %d): %w", c.Workers, ErrInvalid)
	}
	if c.MaxJacobianElements < 0 {
		return fmt.Errorf("max_jacobian_elements must be >= 0 (got %d): %w", c.MaxJacobianElements, ErrInvalid)
	}
	if c.CellScale <= 0 {
		c.CellScale = 4
	}
	if c.ResultsRoot == "" {
		c.ResultsRoot = "results"
	}
	return nil
}

// Traversal returns the traversal parameters of c.
func (c *Config) Traversal() analysis.TraversalParams {
	return analysis.TraversalParams{
		NumDirections: c.NumDirections,
		CoeffRange:    c.CoeffRange,
		NumSteps:      c.NumSteps,
	}
}

// AnalysisParams converts c into analysis.Params.
func (c *Config) AnalysisParams() (analysis.Params, error) {
	mode, err := analysis.ParseJacobianMode(c.JacobianMode)
	if err != nil {
		return analysis.Params{}, err
	}
	return analysis.Params{
		Traversal: c.Traversal(),
		Jacobian: analysis.Options{
			Workers:     c.Workers,
			MaxElements: c.MaxJacobianElements,
		},
		Mode:    mode,
		Workers: c.Workers,
	}, nil
}

// DatasetPath is the directory of the configured dataset.
func (c *Config) DatasetPath() string {
	return filepath.Join(c.DataPath, c.Dataset)
}

// CheckpointPath is the explicit checkpoint or the one derived from
// results_root, dataset, latent_dim and lambda.
func (c *Config) CheckpointPath() string {
	if c.Checkpoint != "" {
		return c.Checkpoint
	}
	return checkpoint.Path(c.ResultsRoot, c.Dataset, c.LatentDim, c.Lambda)
}

// SampleLimit is the number of images to read from the data source.
func (c *Config) SampleLimit() int {
	return min(c.NumSamples, c.TrainSamples)
}
