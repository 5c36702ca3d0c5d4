// Package checkpoint names, reads and writes trained autoencoder weights.
//
// A checkpoint is a safetensors container whose keys are the PyTorch
// state_dict keys of the encoder and decoder, prefixed with "encoder." and
// "decoder." respectively. The ".pt" suffix of the naming scheme is kept.
package checkpoint

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/openfluke/latentlens/model"
	"github.com/openfluke/latentlens/nn"
)

// ErrNotFound is returned by Load for a missing file. It wraps fs.ErrNotExist.
var ErrNotFound = fmt.Errorf("checkpoint: not found: %w", fs.ErrNotExist)

const (
	encoderPrefix = "encoder."
	decoderPrefix = "decoder."
)

// State is a flat tensor map as stored on disk.
type State map[string][]float32

// FormatLambda renders v the way Python's str(float) does: "0.0001", "1e-05",
// "0.5", "1.0".
func FormatLambda(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	if a := math.Abs(v); a != 0 && (a < 1e-4 || a >= 1e16) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Name returns the checkpoint file name for a training run.
func Name(dataset string, latentDim int, lambda float64) string {
	return fmt.Sprintf("CAE_%s_Z%d_Lambda%s.pt", dataset, latentDim, FormatLambda(lambda))
}

// ResultsDir returns the directory that holds checkpoints and figures for a
// dataset and latent size.
func ResultsDir(root, dataset string, latentDim int) string {
	return filepath.Join(root, fmt.Sprintf("CAE_%s_%d", dataset, latentDim))
}

// Path joins ResultsDir and Name.
func Path(root, dataset string, latentDim int, lambda float64) string {
	return filepath.Join(ResultsDir(root, dataset, latentDim), Name(dataset, latentDim, lambda))
}

// Load reads a checkpoint file.
func Load(path string) (State, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	tensors, err := nn.LoadSafetensorsFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	return State(tensors), nil
}

// Apply copies both halves of state into ae.
func Apply(state State, ae *model.Autoencoder) error {
	if err := ae.Encoder.LoadState(state, encoderPrefix); err != nil {
		return fmt.Errorf("encoder: %w", err)
	}
	if err := ae.Decoder.LoadState(state, decoderPrefix); err != nil {
		return fmt.Errorf("decoder: %w", err)
	}
	return nil
}

// LoadInto reads path and applies it to ae.
func LoadInto(path string, ae *model.Autoencoder) error {
	state, err := Load(path)
	if err != nil {
		return err
	}
	return Apply(state, ae)
}

// Save writes the parameters of ae to path, creating parent directories.
func Save(path string, ae *model.Autoencoder) error {
	tensors := ae.Encoder.State(encoderPrefix)
	for k, v := range ae.Decoder.State(decoderPrefix) {
		tensors[k] = v
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	if err := nn.SaveSafetensors(path, tensors); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}
