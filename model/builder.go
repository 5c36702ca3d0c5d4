package model

import (
	"fmt"

	"github.com/openfluke/latentlens/nn"
)

// builder assembles a Sequential whose layer names follow PyTorch
// state_dict numbering: "<block>.<index>" inside an nn.Sequential block, or a
// bare attribute name for standalone modules.
type builder struct {
	layers []nn.Layer
	block  string
	n      int
}

func (b *builder) begin(block string) {
	b.block = block
	b.n = 0
}

func (b *builder) next() string {
	name := fmt.Sprintf("%d", b.n)
	if b.block != "" {
		name = b.block + "." + name
	}
	b.n++
	return name
}

func (b *builder) conv(in, out, k, stride, pad int, bias bool) {
	b.layers = append(b.layers, nn.NewConv2D(b.next(), in, out, k, stride, pad, bias))
}

func (b *builder) convT(in, out, k, stride, pad int) {
	b.layers = append(b.layers, nn.NewConvTranspose2D(b.next(), in, out, k, stride, pad, true))
}

func (b *builder) bn(c int) {
	b.layers = append(b.layers, nn.NewBatchNorm2D(b.next(), c))
}

func (b *builder) act(t nn.ActivationType) {
	b.layers = append(b.layers, nn.NewActivation(b.next(), t))
}

func (b *builder) relu() { b.act(nn.ActivationReLU) }

func (b *builder) pad(left, right, top, bottom int) {
	b.layers = append(b.layers, nn.NewZeroPad2D(b.next(), left, right, top, bottom))
}

func (b *builder) view(to nn.Shape) {
	b.layers = append(b.layers, nn.NewReshape(b.next(), to))
}

func (b *builder) linear(in, out int) {
	b.layers = append(b.layers, nn.NewLinear(b.next(), in, out, true))
}

// attr appends a layer that lives outside any numbered block.
func (b *builder) attr(l nn.Layer) {
	b.layers = append(b.layers, l)
}

func (b *builder) build(in nn.Shape) (*nn.Sequential, error) {
	return nn.NewSequential(in, b.layers...)
}

func validate(cfg ArchConfig, size int) error {
	if cfg.LatentDim <= 0 {
		return fmt.Errorf("latent dim %d must be positive", cfg.LatentDim)
	}
	if cfg.Channels <= 0 {
		return fmt.Errorf("channels %d must be positive", cfg.Channels)
	}
	if cfg.ImageSize != 0 && cfg.ImageSize != size {
		return fmt.Errorf("image size %d, architecture expects %d: %w", cfg.ImageSize, size, ErrUnknownArch)
	}
	return nil
}

func filters(cfg ArchConfig) int {
	if cfg.Filters > 0 {
		return cfg.Filters
	}
	return 64
}

// finishEncoder appends the optional latent normalization.
func finishEncoder(b *builder, cfg ArchConfig) {
	if cfg.NormalizeLatent {
		b.attr(nn.NewL2Normalize("normalize"))
	}
}
