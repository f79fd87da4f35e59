package nn

import (
	"github.com/pkg/errors"
)

// ElemwiseSum adds inputs of identical shape.
type ElemwiseSum struct {
	base
}

func NewElemwiseSum(in ...Layer) (*ElemwiseSum, error) {
	if len(in) == 0 {
		return nil, errors.New("nn: elementwise sum needs inputs")
	}
	s := in[0].OutputShape()
	for _, l := range in[1:] {
		if !l.OutputShape().Equal(s) {
			return nil, errors.Wrapf(ErrShapeMismatch, "cannot sum %v and %v", s, l.OutputShape())
		}
	}
	return &ElemwiseSum{base{name: "sum", inputs: in, shape: s.Clone()}}, nil
}

func (l *ElemwiseSum) Forward(p *Pass, in []*Tensor) (*Tensor, error) {
	out := in[0].Clone()
	for _, t := range in[1:] {
		if len(t.Data) != len(out.Data) {
			return nil, errors.Wrapf(ErrShapeMismatch, "cannot sum %v and %v", out.Shape, t.Shape)
		}
		for i, v := range t.Data {
			out.Data[i] += v
		}
	}
	return out, nil
}

func (l *ElemwiseSum) Backward(p *Pass, in []*Tensor, out, grad *Tensor) ([]*Tensor, error) {
	d := make([]*Tensor, len(in))
	for i := range d {
		d[i] = grad
	}
	return d, nil
}

// Subsample keeps every step-th row and column: X[:, :, ::step, ::step].
type Subsample struct {
	base
	step int
}

func NewSubsample(in Layer, step int) (*Subsample, error) {
	s := in.OutputShape()
	if len(s) != 4 || step <= 0 {
		return nil, errors.Wrapf(ErrShapeMismatch, "subsample %d of %v", step, s)
	}
	ceil := func(d int) int { return (d + step - 1) / step }
	return &Subsample{base: base{name: "subsample", inputs: []Layer{in}, shape: Shape{s[0], s[1], ceil(s[2]), ceil(s[3])}}, step: step}, nil
}

func (l *Subsample) Forward(p *Pass, in []*Tensor) (*Tensor, error) {
	x := in[0]
	n, c, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	oh, ow := l.shape[2], l.shape[3]
	out := New(n, c, oh, ow)
	for plane := 0; plane < n*c; plane++ {
		for oy := 0; oy < oh; oy++ {
			for ox := 0; ox < ow; ox++ {
				out.Data[(plane*oh+oy)*ow+ox] = x.Data[plane*h*w+oy*l.step*w+ox*l.step]
			}
		}
	}
	return out, nil
}

func (l *Subsample) Backward(p *Pass, in []*Tensor, out, grad *Tensor) ([]*Tensor, error) {
	x := in[0]
	n, c, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	oh, ow := l.shape[2], l.shape[3]
	dx := x.ZerosLike()
	for plane := 0; plane < n*c; plane++ {
		for oy := 0; oy < oh; oy++ {
			for ox := 0; ox < ow; ox++ {
				dx.Data[plane*h*w+oy*l.step*w+ox*l.step] = grad.Data[(plane*oh+oy)*ow+ox]
			}
		}
	}
	return []*Tensor{dx}, nil
}

// PadChannels surrounds the channel axis with width zero channels on each side.
type PadChannels struct {
	base
	width int
}

func NewPadChannels(in Layer, width int) (*PadChannels, error) {
	s := in.OutputShape()
	if len(s) < 2 || width < 0 {
		return nil, errors.Wrapf(ErrShapeMismatch, "pad %d channels of %v", width, s)
	}
	shape := s.Clone()
	shape[1] += 2 * width
	return &PadChannels{base: base{name: "padchannels", inputs: []Layer{in}, shape: shape}, width: width}, nil
}

func (l *PadChannels) Forward(p *Pass, in []*Tensor) (*Tensor, error) {
	x := in[0]
	n, c, area := layout(x)
	oc := c + 2*l.width
	shape := x.Shape.Clone()
	shape[1] = oc
	out := &Tensor{Shape: shape, Data: make([]float64, n*oc*area)}
	for i := 0; i < n; i++ {
		copy(out.Data[(i*oc+l.width)*area:(i*oc+l.width+c)*area], x.Data[i*c*area:(i+1)*c*area])
	}
	return out, nil
}

func (l *PadChannels) Backward(p *Pass, in []*Tensor, out, grad *Tensor) ([]*Tensor, error) {
	x := in[0]
	n, c, area := layout(x)
	oc := c + 2*l.width
	dx := x.ZerosLike()
	for i := 0; i < n; i++ {
		copy(dx.Data[i*c*area:(i+1)*c*area], grad.Data[(i*oc+l.width)*area:(i*oc+l.width+c)*area])
	}
	return []*Tensor{dx}, nil
}

// Upscale2D repeats every pixel factor times along both spatial axes.
type Upscale2D struct {
	base
	factor int
}

func NewUpscale2D(in Layer, factor int) (*Upscale2D, error) {
	s := in.OutputShape()
	if len(s) != 4 || factor <= 0 {
		return nil, errors.Wrapf(ErrShapeMismatch, "upscale %d of %v", factor, s)
	}
	return &Upscale2D{base: base{name: "upscale2d", inputs: []Layer{in}, shape: Shape{s[0], s[1], s[2] * factor, s[3] * factor}}, factor: factor}, nil
}

func (l *Upscale2D) Forward(p *Pass, in []*Tensor) (*Tensor, error) {
	x := in[0]
	n, c, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	oh, ow := h*l.factor, w*l.factor
	out := New(n, c, oh, ow)
	for plane := 0; plane < n*c; plane++ {
		for oy := 0; oy < oh; oy++ {
			for ox := 0; ox < ow; ox++ {
				out.Data[(plane*oh+oy)*ow+ox] = x.Data[plane*h*w+(oy/l.factor)*w+ox/l.factor]
			}
		}
	}
	return out, nil
}

func (l *Upscale2D) Backward(p *Pass, in []*Tensor, out, grad *Tensor) ([]*Tensor, error) {
	x := in[0]
	n, c, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	oh, ow := h*l.factor, w*l.factor
	dx := x.ZerosLike()
	for plane := 0; plane < n*c; plane++ {
		for oy := 0; oy < oh; oy++ {
			for ox := 0; ox < ow; ox++ {
				dx.Data[plane*h*w+(oy/l.factor)*w+ox/l.factor] += grad.Data[(plane*oh+oy)*ow+ox]
			}
		}
	}
	return []*Tensor{dx}, nil
}
