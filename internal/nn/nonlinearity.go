package nn

import (
	"math"

	"github.com/pkg/errors"
)

// Nonlinearity is an activation applied in place to a layer's output. Backward
// maps the gradient of the activated output to the gradient of its input,
// using only the activated output.
type Nonlinearity interface {
	Name() string
	Apply(out *Tensor)
	Backward(out, grad *Tensor) *Tensor
}

var (
	Rectify Nonlinearity = rectify{}
	Linear  Nonlinearity = linear{}
	Softmax Nonlinearity = softmax{}
)

type rectify struct{}

func (rectify) Name() string { return "rectify" }

func (rectify) Apply(out *Tensor) {
	for i, v := range out.Data {
		if v < 0 {
			out.Data[i] = 0
		}
	}
}

func (rectify) Backward(out, grad *Tensor) *Tensor {
	d := grad.ZerosLike()
	for i, v := range out.Data {
		if v > 0 {
			d.Data[i] = grad.Data[i]
		}
	}
	return d
}

type linear struct{}

func (linear) Name() string                       { return "linear" }
func (linear) Apply(out *Tensor)                  {}
func (linear) Backward(out, grad *Tensor) *Tensor { return grad }

// softmax normalises each row of a (N, K) tensor.
type softmax struct{}

func (softmax) Name() string { return "softmax" }

func (softmax) Apply(out *Tensor) {
	n := out.Shape[0]
	k := len(out.Data) / max(n, 1)
	for r := 0; r < n; r++ {
		row := out.Data[r*k : (r+1)*k]
		hi := math.Inf(-1)
		for _, v := range row {
			hi = math.Max(hi, v)
		}
		total := 0.0
		for i, v := range row {
			row[i] = math.Exp(v - hi)
			total += row[i]
		}
		for i := range row {
			row[i] /= total
		}
	}
}

func (softmax) Backward(out, grad *Tensor) *Tensor {
	n := out.Shape[0]
	k := len(out.Data) / max(n, 1)
	d := grad.ZerosLike()
	for r := 0; r < n; r++ {
		y := out.Data[r*k : (r+1)*k]
		g := grad.Data[r*k : (r+1)*k]
		dot := 0.0
		for i := range y {
			dot += y[i] * g[i]
		}
		for i := range y {
			d.Data[r*k+i] = y[i] * (g[i] - dot)
		}
	}
	return d
}

// NonlinearityLayer applies an activation to its input.
type NonlinearityLayer struct {
	base
	Fn Nonlinearity
}

func NewNonlinearity(in Layer, fn Nonlinearity) (*NonlinearityLayer, error) {
	if fn == nil {
		fn = Linear
	}
	if fn == Softmax && len(in.OutputShape()) != 2 {
		return nil, errors.Wrapf(ErrShapeMismatch, "softmax needs (N, K) input, got %v", in.OutputShape())
	}
	return &NonlinearityLayer{
		base: base{name: fn.Name(), inputs: []Layer{in}, shape: in.OutputShape().Clone()},
		Fn:   fn,
	}, nil
}

func (l *NonlinearityLayer) Forward(p *Pass, in []*Tensor) (*Tensor, error) {
	out := in[0].Clone()
	l.Fn.Apply(out)
	return out, nil
}

func (l *NonlinearityLayer) Backward(p *Pass, in []*Tensor, out, grad *Tensor) ([]*Tensor, error) {
	return []*Tensor{l.Fn.Backward(out, grad)}, nil
}
