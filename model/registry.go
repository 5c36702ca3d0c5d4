package model

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/openfluke/latentlens/nn"
)

// ErrUnknownArch is returned by Lookup when no architecture is registered for
// the requested family and image size.
var ErrUnknownArch = errors.New("model: unknown architecture")

// ArchConfig parameterizes an architecture.
type ArchConfig struct {
	LatentDim int
	Channels  int
	ImageSize int
	// Filters is the base convolution width (num_filters); 0 selects the
	// architecture default.
	Filters int
	// NormalizeLatent appends an L2 normalization to the encoder.
	NormalizeLatent bool
}

// Arch builds the encoder and decoder stacks of one model family at one
// image size.
type Arch interface {
	Name() string
	BuildEncoder(cfg ArchConfig) (*nn.Sequential, error)
	BuildDecoder(cfg ArchConfig) (*nn.Sequential, error)
}

type archKey struct {
	family string
	size   int
}

var (
	registryMu sync.RWMutex
	registry   = map[archKey]Arch{}
)

// Register adds an architecture, replacing any previous entry for the same
// family and size.
func Register(family string, imageSize int, a Arch) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[archKey{family, imageSize}] = a
}

// Lookup returns the architecture for family at imageSize.
func Lookup(family string, imageSize int) (Arch, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	a, ok := registry[archKey{family, imageSize}]
	if !ok {
		return nil, fmt.Errorf("%s at image size %d: %w", family, imageSize, ErrUnknownArch)
	}
	return a, nil
}

// ListArchs returns "family/size" for every registered architecture.
func ListArchs() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, fmt.Sprintf("%s/%d", k.family, k.size))
	}
	sort.Strings(names)
	return names
}

func init() {
	Register("cae", 28, cae28{})
	Register("cae", 32, caeDeep{size: 32})
	Register("cae", 64, caeDeep{size: 64})
	Register("betavae", 28, betaVAE{size: 28})
	Register("betavae", 64, betaVAE{size: 64})
}
