package model

import (
	"github.com/openfluke/latentlens/nn"
)

// cae28 is the MNIST-sized convolutional autoencoder.
type cae28 struct{}

func (cae28) Name() string { return "cae-28" }

func (cae28) BuildEncoder(cfg ArchConfig) (*nn.Sequential, error) {
	if err := validate(cfg, 28); err != nil {
		return nil, err
	}
	nf := filters(cfg)
	b := &builder{}
	b.begin("model_enc")
	b.conv(cfg.Channels, nf, 4, 2, 1, true) // 14x14
	b.bn(nf)
	b.relu()
	b.conv(nf, nf, 4, 2, 1, true) // 7x7
	b.bn(nf)
	b.relu()
	b.pad(1, 2, 1, 2)             // 10x10
	b.conv(nf, nf, 4, 1, 0, true) // 7x7
	b.bn(nf)
	b.relu()
	b.attr(nn.NewReshape("view", nn.Flat(nf*7*7)))
	b.attr(nn.NewLinear("fc_mean", nf*7*7, cfg.LatentDim, true))
	finishEncoder(b, cfg)
	return b.build(nn.Shape{C: cfg.Channels, H: 28, W: 28})
}

func (cae28) BuildDecoder(cfg ArchConfig) (*nn.Sequential, error) {
	if err := validate(cfg, 28); err != nil {
		return nil, err
	}
	nf := filters(cfg)
	b := &builder{}
	b.begin("fc")
	b.linear(cfg.LatentDim, 7*7*nf)
	b.relu()
	b.attr(nn.NewReshape("view", nn.Shape{C: nf, H: 7, W: 7}))
	b.begin("model")
	b.convT(nf, nf, 4, 1, 1) // 8x8
	b.bn(nf)
	b.relu()
	b.convT(nf, nf, 4, 2, 2) // 14x14
	b.bn(nf)
	b.relu()
	b.convT(nf, cfg.Channels, 4, 2, 1) // 28x28
	b.act(nn.ActivationSigmoid)
	return b.build(nn.Flat(cfg.LatentDim))
}

// caeDeep is the six-convolution autoencoder used for 32x32 and 64x64 inputs.
type caeDeep struct {
	size int
}

func (a caeDeep) Name() string {
	if a.size == 64 {
		return "cae-64"
	}
	return "cae-32"
}

func (a caeDeep) BuildEncoder(cfg ArchConfig) (*nn.Sequential, error) {
	if err := validate(cfg, a.size); err != nil {
		return nil, err
	}
	nf := filters(cfg)
	b := &builder{}
	b.begin("main")
	if a.size == 64 {
		b.conv(cfg.Channels, nf/4, 4, 2, 1, false) // 32
		b.relu()
		b.conv(nf/4, nf/2, 4, 2, 1, false) // 16
		b.bn(nf / 2)
		b.relu()
		b.conv(nf/2, nf, 3, 2, 1, false) // 8
		b.bn(nf)
		b.relu()
		b.conv(nf, nf*2, 3, 1, 1, false)
	} else {
		b.conv(cfg.Channels, nf, 4, 2, 1, false) // 16
		b.relu()
		b.conv(nf, nf*2, 4, 2, 1, false) // 8
		b.bn(nf * 2)
		b.relu()
		b.conv(nf*2, nf*2, 3, 1, 1, false)
		b.bn(nf * 2)
		b.relu()
		b.conv(nf*2, nf*2, 3, 1, 1, false)
	}
	b.bn(nf * 2)
	b.relu()
	b.conv(nf*2, nf*2, 4, 2, 1, false) // 4
	b.bn(nf * 2)
	b.relu()
	b.conv(nf*2, nf, 4, 2, 1, false) // 2
	b.bn(nf)
	b.relu()
	b.attr(nn.NewReshape("view", nn.Flat(nf*2*2)))
	b.attr(nn.NewLinear("fc", nf*2*2, cfg.LatentDim, true))
	finishEncoder(b, cfg)
	return b.build(nn.Shape{C: cfg.Channels, H: a.size, W: a.size})
}

func (a caeDeep) BuildDecoder(cfg ArchConfig) (*nn.Sequential, error) {
	if err := validate(cfg, a.size); err != nil {
		return nil, err
	}
	nf := filters(cfg)
	img4 := 9
	if a.size == 64 {
		img4 = 25
	}
	b := &builder{}
	b.begin("proj")
	b.linear(cfg.LatentDim, nf*img4*img4)
	b.relu()
	b.attr(nn.NewReshape("view", nn.Shape{C: nf, H: img4, W: img4}))
	b.begin("main")
	b.convT(nf, nf*2, 3, 1, 0) // +2
	b.bn(nf * 2)
	b.relu()
	b.convT(nf*2, nf*2, 3, 1, 0) // +2
	b.bn(nf * 2)
	b.relu()
	b.convT(nf*2, nf*2, 3, 1, 1)
	b.bn(nf * 2)
	b.relu()
	b.convT(nf*2, nf, 3, 1, 1)
	b.bn(nf)
	b.relu()
	b.convT(nf, nf, 3, 1, 0) // +2
	b.bn(nf)
	b.relu()
	b.convT(nf, cfg.Channels, 4, 2, 0) // 2H+2
	b.act(nn.ActivationSigmoid)
	return b.build(nn.Flat(cfg.LatentDim))
}
