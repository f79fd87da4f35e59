package architectures

import (
	"github.com/pkg/errors"

	"coco/internal/nn"
)

// Depth network input geometry.
const (
	DepthChannels = 3
	DepthHeight   = 228
	DepthWidth    = 304
)

// DepthOptions configures ResidualDepth.
type DepthOptions struct {
	// K scales the width of the first encoder stage. Zero means 1.
	K float64
	// HalfResolution drops the final upsampling, producing a depth map at half
	// the input resolution.
	HalfResolution bool
	// Batch fixes the batch dimension of the input; zero leaves it open.
	Batch int
}

// ResidualDepth is a residual encoder-decoder predicting a dense depth map
// from an RGB image.
type ResidualDepth struct {
	*nn.Network
	opts DepthOptions
}

// NewResidualDepth builds the network on inputs[0], a rank-4 image
// placeholder.
func NewResidualDepth(inputs []*nn.Placeholder, opts DepthOptions) (*ResidualDepth, error) {
	if len(inputs) != 1 {
		return nil, errors.Errorf("architectures: residual depth takes one input, got %d", len(inputs))
	}
	if opts.K == 0 {
		opts.K = 1
	}
	r := &ResidualDepth{Network: nn.NewNetwork(inputs...), opts: opts}
	if err := r.Init(r.build); err != nil {
		return nil, errors.Wrap(err, "residual depth")
	}
	return r, nil
}

func (r *ResidualDepth) build(inputs []*nn.Placeholder) ([]nn.Layer, error) {
	batch := nn.Batch
	if r.opts.Batch > 0 {
		batch = r.opts.Batch
	}
	in, err := nn.NewInput(inputs[0], nn.Shape{batch, DepthChannels, DepthHeight, DepthWidth})
	if err != nil {
		return nil, err
	}

	l, err := convBN(in, nn.ConvConfig{Filters: 64, Size: [2]int{7, 7}, Stride: [2]int{2, 2}, Pad: nn.Pad(3), Nonlinearity: nn.Rectify, W: heReLU})
	if err != nil {
		return nil, err
	}
	if l, err = nn.NewPool2D(l, nn.PoolConfig{Size: 2}); err != nil {
		return nil, err
	}

	// 64x57x76 here.
	stages := []struct {
		first  BlockConfig
		blocks int
	}{
		{BlockConfig{Projection: true, ForceOutput: int(r.opts.K * 256)}, 3},
		{BlockConfig{Projection: true, IncreaseDim: true}, 4},
		{BlockConfig{Projection: true, IncreaseDim: true}, 6},
		{BlockConfig{Projection: true, IncreaseDim: true}, 3},
	}
	for i, stage := range stages {
		if l, err = ResidualBlock(l, stage.first); err != nil {
			return nil, errors.Wrapf(err, "encoder stage %d", i+1)
		}
		for b := 1; b < stage.blocks; b++ {
			if l, err = ResidualBlock(l, BlockConfig{}); err != nil {
				return nil, errors.Wrapf(err, "encoder stage %d block %d", i+1, b+1)
			}
		}
	}

	// 2048x8x10 here; compress filters.
	if l, err = convBN(l, nn.ConvConfig{Filters: 1024, Size: [2]int{1, 1}, Pad: nn.PadSame, W: nn.HeNormal{}}); err != nil {
		return nil, err
	}

	// Kernel sizes recover 15x19, 29x38, 57x76 and 114x152.
	decoder := []UpBlockConfig{
		{DecreaseDim: true, Projection: true, Pad: nn.Pad(1), ConvFilter: [2]int{4, 4}, ProjFilter: [2]int{4, 4}},
		{DecreaseDim: true, Projection: true, Pad: nn.Pad(1), ConvFilter: [2]int{4, 3}, ProjFilter: [2]int{4, 3}},
		{DecreaseDim: true, Projection: true, Pad: nn.Pad(1), ConvFilter: [2]int{4, 3}, ProjFilter: [2]int{4, 3}},
		DefaultUpBlock(),
	}
	decoder[3].DecreaseDim = true
	for i, cfg := range decoder {
		if l, err = ResidualBlockUp(l, cfg); err != nil {
			return nil, errors.Wrapf(err, "decoder stage %d", i+1)
		}
	}

	if !r.opts.HalfResolution {
		if l, err = nn.NewUpscale2D(l, 2); err != nil {
			return nil, err
		}
	}
	out, err := nn.NewConv2D(l, nn.ConvConfig{Filters: 1, Size: [2]int{3, 3}, Pad: nn.PadSame, Nonlinearity: nn.Rectify, W: heReLU})
	if err != nil {
		return nil, err
	}
	return []nn.Layer{out}, nil
}
