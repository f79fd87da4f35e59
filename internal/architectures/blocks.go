// Package architectures assembles convolutional networks from nn layers.
//
// Block builders take an input layer and an explicit configuration and return
// the block's output layer, whose OutputShape carries the dimension
// bookkeeping for the next block.
package architectures

import (
	"github.com/pkg/errors"

	"coco/internal/nn"
)

// ErrUnsupportedConfig is returned for block configurations that have no
// implementation.
var ErrUnsupportedConfig = errors.New("architectures: unsupported block configuration")

var heReLU = nn.HeNormal{Gain: nn.GainReLU}

// convBN is a bias-free convolution followed by batch normalization and the
// convolution's nonlinearity, if any.
func convBN(in nn.Layer, cfg nn.ConvConfig) (nn.Layer, error) {
	fn := cfg.Nonlinearity
	cfg.Nonlinearity = nil
	cfg.NoBias = true
	conv, err := nn.NewConv2D(in, cfg)
	if err != nil {
		return nil, err
	}
	bn, err := nn.NewBatchNorm(conv)
	if err != nil {
		return nil, err
	}
	if fn == nil || fn == nn.Linear {
		return bn, nil
	}
	return nn.NewNonlinearity(bn, fn)
}

func channels(l nn.Layer) int {
	return l.OutputShape()[1]
}

// BlockConfig configures a bottleneck residual block.
type BlockConfig struct {
	// IncreaseDim doubles the channels and halves the resolution.
	IncreaseDim bool
	// Projection uses a 1x1 convolution shortcut (option B) instead of an
	// identity one.
	Projection bool
	// ForceOutput overrides the output channel count when positive.
	ForceOutput int
}

// ResidualBlock is a 1x1 reduce, 3x3, 1x1 expand bottleneck with a shortcut.
func ResidualBlock(l nn.Layer, cfg BlockConfig) (nn.Layer, error) {
	in := channels(l)
	stride := [2]int{1, 1}
	out := in
	if cfg.IncreaseDim {
		stride = [2]int{2, 2}
		out = in * 2
	}
	if cfg.ForceOutput > 0 {
		out = cfg.ForceOutput
	}
	bottleneck := out / 4
	if bottleneck == 0 {
		return nil, errors.Errorf("architectures: %d output channels leave no bottleneck", out)
	}

	stack, err := convBN(l, nn.ConvConfig{Filters: bottleneck, Size: [2]int{1, 1}, Stride: stride, Pad: nn.PadSame, Nonlinearity: nn.Rectify, W: heReLU})
	if err != nil {
		return nil, errors.Wrap(err, "bottleneck reduce")
	}
	if stack, err = convBN(stack, nn.ConvConfig{Filters: bottleneck, Size: [2]int{3, 3}, Pad: nn.PadSame, Nonlinearity: nn.Rectify, W: heReLU}); err != nil {
		return nil, errors.Wrap(err, "bottleneck conv")
	}
	if stack, err = convBN(stack, nn.ConvConfig{Filters: out, Size: [2]int{1, 1}, Pad: nn.PadSame, W: heReLU}); err != nil {
		return nil, errors.Wrap(err, "bottleneck expand")
	}

	shortcut := l
	switch {
	case cfg.IncreaseDim && cfg.Projection:
		shortcut, err = convBN(l, nn.ConvConfig{Filters: out, Size: [2]int{1, 1}, Stride: [2]int{2, 2}, Pad: nn.PadSame})
	case cfg.IncreaseDim:
		// Option A: subsample and zero-pad the missing channels.
		var sub nn.Layer
		if sub, err = nn.NewSubsample(l, 2); err == nil {
			shortcut, err = nn.NewPadChannels(sub, out/4)
		}
	case cfg.Projection:
		shortcut, err = convBN(l, nn.ConvConfig{Filters: out, Size: [2]int{1, 1}, Pad: nn.PadSame})
	}
	if err != nil {
		return nil, errors.Wrap(err, "shortcut")
	}
	return merge(stack, shortcut)
}

// UpBlockConfig configures a decoder block.
type UpBlockConfig struct {
	// DecreaseDim upsamples 2x and halves the channels.
	DecreaseDim bool
	Projection  bool
	Pad         nn.Padding
	ConvFilter  [2]int
	ProjFilter  [2]int
}

// DefaultUpBlock is a projected 5x5 "same" block.
func DefaultUpBlock() UpBlockConfig {
	return UpBlockConfig{Projection: true, Pad: nn.PadSame, ConvFilter: [2]int{5, 5}, ProjFilter: [2]int{5, 5}}
}

// ResidualBlockUp is two stacked convolutions with a shortcut, optionally
// preceded by 2x upsampling. Decreasing dimensions requires a projection
// shortcut.
func ResidualBlockUp(l nn.Layer, cfg UpBlockConfig) (nn.Layer, error) {
	if cfg.DecreaseDim && !cfg.Projection {
		return nil, errors.Wrap(ErrUnsupportedConfig, "decreasing dimensions needs a projection shortcut")
	}
	out := channels(l)
	if cfg.DecreaseDim {
		out /= 2
		up, err := nn.NewUpscale2D(l, 2)
		if err != nil {
			return nil, err
		}
		l = up
	}
	if out == 0 {
		return nil, errors.New("architectures: no channels left to decode")
	}

	stack, err := convBN(l, nn.ConvConfig{Filters: out, Size: cfg.ConvFilter, Pad: cfg.Pad, Nonlinearity: nn.Rectify, W: heReLU})
	if err != nil {
		return nil, errors.Wrap(err, "up conv")
	}
	if stack, err = convBN(stack, nn.ConvConfig{Filters: out, Size: [2]int{3, 3}, Pad: nn.PadSame, W: heReLU}); err != nil {
		return nil, errors.Wrap(err, "up conv 3x3")
	}

	shortcut := l
	if cfg.DecreaseDim {
		if shortcut, err = convBN(l, nn.ConvConfig{Filters: out, Size: cfg.ProjFilter, Pad: cfg.Pad}); err != nil {
			return nil, errors.Wrap(err, "up projection")
		}
	}
	return merge(stack, shortcut)
}

func merge(stack, shortcut nn.Layer) (nn.Layer, error) {
	sum, err := nn.NewElemwiseSum(stack, shortcut)
	if err != nil {
		return nil, err
	}
	return nn.NewNonlinearity(sum, nn.Rectify)
}
