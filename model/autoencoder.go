package model

import (
	"fmt"

	"github.com/openfluke/latentlens/nn"
)

// Autoencoder pairs an encoder and a decoder that share a latent space.
type Autoencoder struct {
	Arch    Arch
	Encoder *nn.Sequential
	Decoder *nn.Sequential
	Config  ArchConfig
}

// New builds the registered architecture for family at cfg.ImageSize.
func New(family string, cfg ArchConfig) (*Autoencoder, error) {
	arch, err := Lookup(family, cfg.ImageSize)
	if err != nil {
		return nil, err
	}
	enc, err := arch.BuildEncoder(cfg)
	if err != nil {
		return nil, fmt.Errorf("%s encoder: %w", arch.Name(), err)
	}
	dec, err := arch.BuildDecoder(cfg)
	if err != nil {
		return nil, fmt.Errorf("%s decoder: %w", arch.Name(), err)
	}
	if enc.OutShape().Size() != cfg.LatentDim || dec.OutShape() != enc.InShape() {
		return nil, fmt.Errorf("%s: encoder %v->%v does not invert decoder %v->%v: %w",
			arch.Name(), enc.InShape(), enc.OutShape(), dec.InShape(), dec.OutShape(), nn.ErrShapeMismatch)
	}
	return &Autoencoder{Arch: arch, Encoder: enc, Decoder: dec, Config: cfg}, nil
}

// InShape is the per-sample image shape.
func (a *Autoencoder) InShape() nn.Shape { return a.Encoder.InShape() }

// OutShape is the per-sample reconstruction shape.
func (a *Autoencoder) OutShape() nn.Shape { return a.Decoder.OutShape() }

// LatentDim is Z.
func (a *Autoencoder) LatentDim() int { return a.Config.LatentDim }

// Encode runs the encoder on n images and keeps the tape for VJPs.
func (a *Autoencoder) Encode(x []float32, n int) (*nn.Tape, error) {
	return a.Encoder.Forward(x, n)
}

// Decode runs the decoder on n latent codes and keeps the tape for VJPs.
func (a *Autoencoder) Decode(z []float32, n int) (*nn.Tape, error) {
	return a.Decoder.Forward(z, n)
}

// SetAccelerator routes every Linear layer of both halves through acc.
// A nil acc restores the CPU path.
func (a *Autoencoder) SetAccelerator(acc nn.AffineAccelerator) {
	for _, seq := range []*nn.Sequential{a.Encoder, a.Decoder} {
		for _, l := range seq.Layers() {
			if lin, ok := l.(*nn.Linear); ok {
				lin.Accel = acc
			}
		}
	}
}
