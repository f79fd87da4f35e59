package nn

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Dense is a fully connected layer. Inputs of rank above two are flattened
// per sample.
type Dense struct {
	base
	units, fanIn int
	fn           Nonlinearity
	W, B         *Param
}

func NewDense(in Layer, units int, fn Nonlinearity) (*Dense, error) {
	s := in.OutputShape()
	if len(s) < 2 || units <= 0 {
		return nil, errors.Wrapf(ErrShapeMismatch, "dense %d units on %v", units, s)
	}
	fanIn := s[1:].Size()
	if fn == nil {
		fn = Linear
	}
	return &Dense{
		base:  base{name: "dense", inputs: []Layer{in}, shape: Shape{s[0], units}},
		units: units,
		fanIn: fanIn,
		fn:    fn,
		W: &Param{
			Name:          "dense.W",
			Shape:         Shape{fanIn, units},
			Trainable:     true,
			Regularizable: true,
			Init:          GlorotUniform{},
			FanIn:         fanIn,
			FanOut:        units,
		},
		B: &Param{Name: "dense.b", Shape: Shape{units}, Trainable: true, Init: Constant(0)},
	}, nil
}

func (l *Dense) Params() []*Param { return []*Param{l.W, l.B} }

func (l *Dense) Forward(p *Pass, in []*Tensor) (*Tensor, error) {
	x := in[0]
	n := x.Shape[0]
	if n*l.fanIn != len(x.Data) {
		return nil, errors.Wrapf(ErrShapeMismatch, "dense expects %d features per sample, got %v", l.fanIn, x.Shape)
	}
	out := New(n, l.units)
	if n == 0 {
		return out, nil
	}
	om := mat.NewDense(n, l.units, out.Data)
	om.Mul(mat.NewDense(n, l.fanIn, x.Data), mat.NewDense(l.fanIn, l.units, l.W.Value))
	for i := 0; i < n; i++ {
		for j := 0; j < l.units; j++ {
			out.Data[i*l.units+j] += l.B.Value[j]
		}
	}
	l.fn.Apply(out)
	return out, nil
}

func (l *Dense) Backward(p *Pass, in []*Tensor, out, grad *Tensor) ([]*Tensor, error) {
	x := in[0]
	n := x.Shape[0]
	dx := x.ZerosLike()
	if n == 0 {
		return []*Tensor{dx}, nil
	}
	g := l.fn.Backward(out, grad)
	gm := mat.NewDense(n, l.units, g.Data)
	xm := mat.NewDense(n, l.fanIn, x.Data)

	var dw mat.Dense
	dw.Mul(xm.T(), gm)
	wg := mat.NewDense(l.fanIn, l.units, l.W.grad())
	wg.Add(wg, &dw)

	db := l.B.grad()
	for i := 0; i < n; i++ {
		for j := 0; j < l.units; j++ {
			db[j] += g.Data[i*l.units+j]
		}
	}

	dxm := mat.NewDense(n, l.fanIn, dx.Data)
	dxm.Mul(gm, mat.NewDense(l.fanIn, l.units, l.W.Value).T())
	return []*Tensor{dx}, nil
}
