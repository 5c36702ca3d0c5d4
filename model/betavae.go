package model

import (
	"github.com/openfluke/latentlens/nn"
)

// betaVAE is the encoder/decoder pair of Higgins et al. (ICLR 2017). Filter
// widths are fixed by the architecture; ArchConfig.Filters is ignored.
// The encoder outputs 2·Z values (μ then log σ²); only μ is the latent code.
type betaVAE struct {
	size int
}

func (a betaVAE) Name() string {
	if a.size == 64 {
		return "betavae-64"
	}
	return "betavae-28"
}

func (a betaVAE) BuildEncoder(cfg ArchConfig) (*nn.Sequential, error) {
	if err := validate(cfg, a.size); err != nil {
		return nil, err
	}
	b := &builder{}
	b.begin("")
	b.conv(cfg.Channels, 32, 4, 2, 1, true)
	b.relu()
	b.conv(32, 32, 4, 2, 1, true)
	b.relu()
	if a.size == 64 {
		b.conv(32, 64, 4, 2, 1, true) // 8x8
		b.relu()
		b.conv(64, 64, 4, 2, 1, true) // 4x4
	} else {
		b.conv(32, 64, 4, 1, 0, true) // 4x4
	}
	b.relu()
	b.conv(64, 256, 4, 1, 0, true) // 1x1
	b.relu()
	b.view(nn.Flat(256))
	b.linear(256, 2*cfg.LatentDim)
	b.attr(nn.NewSlice("mu", 0, cfg.LatentDim))
	finishEncoder(b, cfg)
	return b.build(nn.Shape{C: cfg.Channels, H: a.size, W: a.size})
}

func (a betaVAE) BuildDecoder(cfg ArchConfig) (*nn.Sequential, error) {
	if err := validate(cfg, a.size); err != nil {
		return nil, err
	}
	b := &builder{}
	b.begin("")
	b.linear(cfg.LatentDim, 256)
	b.view(nn.Shape{C: 256, H: 1, W: 1})
	b.relu()
	b.convT(256, 64, 4, 1, 0) // 4x4
	b.relu()
	if a.size == 64 {
		b.convT(64, 64, 4, 2, 1) // 8x8
		b.relu()
		b.convT(64, 32, 4, 2, 1) // 16x16
	} else {
		b.convT(64, 32, 4, 1, 0) // 7x7
	}
	b.relu()
	b.convT(32, 32, 4, 2, 1)
	b.relu()
	b.convT(32, cfg.Channels, 4, 2, 1)
	return b.build(nn.Flat(cfg.LatentDim))
}
