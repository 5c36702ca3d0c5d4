// Package dataset loads small batches of images for analysis.
package dataset

import (
	"errors"
	"fmt"
	"sort"

	"github.com/openfluke/latentlens/nn"
)

var (
	// ErrUnknownDataset is returned by Lookup for unregistered names.
	ErrUnknownDataset = errors.New("dataset: unknown dataset")
	// ErrFormat is returned for files that do not parse.
	ErrFormat = errors.New("dataset: bad format")
)

// Spec describes one dataset as the models expect it.
type Spec struct {
	Name      string
	Channels  int
	ImageSize int
	// Filters is the base convolution width trained for this dataset.
	Filters int
	// Classes restricts labelled sources to these labels; nil keeps all.
	Classes []int
	// Source selects the loader: "idx", "cifar" or "images".
	Source string
}

// Shape is the per-sample tensor shape.
func (s Spec) Shape() nn.Shape {
	return nn.Shape{C: s.Channels, H: s.ImageSize, W: s.ImageSize}
}

var specs = map[string]Spec{
	"mnist":           {Name: "mnist", Channels: 1, ImageSize: 28, Filters: 64, Source: "idx"},
	"fmnist":          {Name: "fmnist", Channels: 1, ImageSize: 28, Filters: 64, Source: "idx"},
	"cifar10":         {Name: "cifar10", Channels: 3, ImageSize: 32, Filters: 256, Source: "cifar"},
	"cifar10_vehicle": {Name: "cifar10_vehicle", Channels: 3, ImageSize: 32, Filters: 256, Classes: []int{0, 1, 8, 9}, Source: "cifar"},
	"cifar10_animal":  {Name: "cifar10_animal", Channels: 3, ImageSize: 32, Filters: 256, Classes: []int{3, 4, 5, 7}, Source: "cifar"},
	"svhn":            {Name: "svhn", Channels: 3, ImageSize: 32, Filters: 256, Source: "images"},
	"celeba":          {Name: "celeba", Channels: 3, ImageSize: 32, Filters: 256, Source: "images"},
	"celeba64":        {Name: "celeba64", Channels: 3, ImageSize: 64, Filters: 128, Source: "images"},
}

// Lookup returns the spec registered under name.
func Lookup(name string) (Spec, error) {
	s, ok := specs[name]
	if !ok {
		return Spec{}, fmt.Errorf("%q: %w", name, ErrUnknownDataset)
	}
	return s, nil
}

// Names lists the registered datasets.
func Names() []string {
	names := make([]string, 0, len(specs))
	for n := range specs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Batch is N images of one shape, stored sample-major in C·H·W order with
// values in [0, 1].
type Batch struct {
	N      int
	Shape  nn.Shape
	Data   []float32
	Labels []int // nil when the source is unlabelled
}

// Label returns the class of sample i, or -1 for unlabelled sources.
func (b *Batch) Label(i int) int {
	if b.Labels == nil {
		return -1
	}
	return b.Labels[i]
}

// Sample returns image i without copying.
func (b *Batch) Sample(i int) []float32 {
	size := b.Shape.Size()
	return b.Data[i*size : (i+1)*size]
}

// Load reads up to limit samples of spec from path. A limit of 0 reads all.
func Load(spec Spec, path string, limit int) (*Batch, error) {
	switch spec.Source {
	case "idx":
		return LoadIDX(path, limit)
	case "cifar":
		return LoadCIFAR10(path, spec.Classes, limit)
	case "images":
		return LoadImageDir(path, spec, limit)
	}
	return nil, fmt.Errorf("%s: source %q: %w", spec.Name, spec.Source, ErrUnknownDataset)
}
