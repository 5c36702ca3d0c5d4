package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfluke/latentlens/analysis"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10, cfg.NumSamples)
	assert.Equal(t, analysis.DefaultTraversal, cfg.Traversal())
	assert.Equal(t, 10, cfg.SampleLimit())
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join([]string{
		"# cifar run",
		"dataset: cifar10",
		"latent_dim: 64",
		"lambda: 0.01",
		"num_directions: 3",
		"workers: 4",
		"jacobian_mode: decoder",
		"spectrum: true",
	}, "\n")), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "cifar10", cfg.Dataset)
	assert.Equal(t, 64, cfg.LatentDim)
	assert.InDelta(t, 0.01, cfg.Lambda, 1e-12)
	assert.Equal(t, 3, cfg.NumDirections)
	assert.Equal(t, 5, cfg.NumSteps)
	assert.True(t, cfg.Spectrum)

	p, err := cfg.AnalysisParams()
	require.NoError(t, err)
	assert.Equal(t, analysis.DecoderJacobian, p.Mode)
	assert.Equal(t, 4, p.Workers)
	assert.Equal(t, 4, p.Jacobian.Workers)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse(strings.NewReader("latent_dims: 3\n"))
	assert.Error(t, err)

	cfg, err := Parse(strings.NewReader("  \n"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	cfg.ApplyOverrides(Overrides{
		Dataset:    "fmnist",
		LatentDim:  2,
		Lambda:     1e-5,
		Checkpoint: "w.pt",
		GPU:        true,
	})
	assert.Equal(t, "fmnist", cfg.Dataset)
	assert.Equal(t, 2, cfg.LatentDim)
	assert.Equal(t, 1e-5, cfg.Lambda)
	assert.Equal(t, "w.pt", cfg.Checkpoint)
	assert.True(t, cfg.GPU)
	assert.Equal(t, 50000, cfg.TrainSamples)

	// num_directions 5 no longer fits a 2-d latent space.
	assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown dataset", func(c *Config) { c.Dataset = "imagenet" }},
		{"zero latent", func(c *Config) { c.LatentDim = 0 }},
		{"zero samples", func(c *Config) { c.NumSamples = 0 }},
		{"zero steps", func(c *Config) { c.NumSteps = 0 }},
		{"negative range", func(c *Config) { c.CoeffRange = -1 }},
		{"bad mode", func(c *Config) { c.JacobianMode = "both" }},
		{"zero workers", func(c *Config) { c.Workers = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}

	var nilCfg *Config
	assert.ErrorIs(t, nilCfg.Validate(), ErrInvalid)
}

func TestPaths(t *testing.T) {
	cfg := Default()
	assert.Equal(t, filepath.Join("data", "mnist"), cfg.DatasetPath())
	assert.Equal(t, filepath.Join("results", "CAE_mnist_10", "CAE_mnist_Z10_Lambda0.0001.pt"), cfg.CheckpointPath())

	cfg.Checkpoint = "/tmp/w.pt"
	assert.Equal(t, "/tmp/w.pt", cfg.CheckpointPath())
}
