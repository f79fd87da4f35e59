package architectures

import (
	"github.com/pkg/errors"

	"coco/internal/nn"
)

// ResNet50Options configures the classifier.
type ResNet50Options struct {
	Classes int
	// Height and Width default to 224.
	Height, Width int
}

// ResNet50 is the 50-layer bottleneck residual classifier ending in a softmax.
type ResNet50 struct {
	*nn.Network
	opts ResNet50Options
}

func NewResNet50(inputs []*nn.Placeholder, opts ResNet50Options) (*ResNet50, error) {
	if len(inputs) != 1 {
		return nil, errors.Errorf("architectures: resnet50 takes one input, got %d", len(inputs))
	}
	if opts.Classes <= 0 {
		return nil, errors.Errorf("architectures: resnet50 needs a positive class count, got %d", opts.Classes)
	}
	if opts.Height == 0 {
		opts.Height = 224
	}
	if opts.Width == 0 {
		opts.Width = 224
	}
	r := &ResNet50{Network: nn.NewNetwork(inputs...), opts: opts}
	if err := r.Init(r.build); err != nil {
		return nil, errors.Wrap(err, "resnet50")
	}
	return r, nil
}

func (r *ResNet50) build(inputs []*nn.Placeholder) ([]nn.Layer, error) {
	in, err := nn.NewInput(inputs[0], nn.Shape{nn.Batch, 3, r.opts.Height, r.opts.Width})
	if err != nil {
		return nil, err
	}
	l, err := convBN(in, nn.ConvConfig{Filters: 64, Size: [2]int{7, 7}, Stride: [2]int{2, 2}, Pad: nn.Pad(3), Nonlinearity: nn.Rectify, W: heReLU})
	if err != nil {
		return nil, err
	}
	if l, err = nn.NewPool2D(l, nn.PoolConfig{Size: 3, Stride: 2, Pad: 1}); err != nil {
		return nil, err
	}

	for i, blocks := range []int{3, 4, 6, 3} {
		first := BlockConfig{Projection: true, IncreaseDim: i > 0}
		if i == 0 {
			first.ForceOutput = 256
		}
		if l, err = ResidualBlock(l, first); err != nil {
			return nil, errors.Wrapf(err, "stage %d", i+1)
		}
		for b := 1; b < blocks; b++ {
			if l, err = ResidualBlock(l, BlockConfig{}); err != nil {
				return nil, errors.Wrapf(err, "stage %d block %d", i+1, b+1)
			}
		}
	}

	if l, err = nn.NewGlobalPool(l); err != nil {
		return nil, err
	}
	out, err := nn.NewDense(l, r.opts.Classes, nn.Softmax)
	if err != nil {
		return nil, err
	}
	return []nn.Layer{out}, nil
}
