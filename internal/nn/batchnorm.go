package nn

import (
	"math"

	"github.com/pkg/errors"
)

const (
	bnEpsilon = 1e-4
	bnAlpha   = 0.1
)

// BatchNorm normalises each channel (axis 1) over the batch and spatial axes.
// Training passes use batch statistics and fold them into running averages;
// deterministic passes use the running averages.
type BatchNorm struct {
	base
	Beta, Gamma  *Param
	Mean, InvStd *Param
}

type bnState struct {
	xhat   []float64
	invStd []float64
}

func NewBatchNorm(in Layer) (*BatchNorm, error) {
	s := in.OutputShape()
	if len(s) < 2 {
		return nil, errors.Wrapf(ErrShapeMismatch, "batch norm needs a channel axis, got %v", s)
	}
	c := s[1]
	return &BatchNorm{
		base:   base{name: "batchnorm", inputs: []Layer{in}, shape: s.Clone()},
		Beta:   &Param{Name: "batchnorm.beta", Shape: Shape{c}, Trainable: true, Init: Constant(0)},
		Gamma:  &Param{Name: "batchnorm.gamma", Shape: Shape{c}, Trainable: true, Init: Constant(1)},
		Mean:   &Param{Name: "batchnorm.mean", Shape: Shape{c}, Init: Constant(0)},
		InvStd: &Param{Name: "batchnorm.inv_std", Shape: Shape{c}, Init: Constant(1)},
	}, nil
}

func (l *BatchNorm) Params() []*Param {
	return []*Param{l.Beta, l.Gamma, l.Mean, l.InvStd}
}

// layout returns batch size, channels and the per-channel spatial extent.
func layout(x *Tensor) (n, c, area int) {
	n, c = x.Shape[0], x.Shape[1]
	area = 1
	for _, d := range x.Shape[2:] {
		area *= d
	}
	return
}

func (l *BatchNorm) Forward(p *Pass, in []*Tensor) (*Tensor, error) {
	x := in[0]
	n, c, area := layout(x)
	if c != l.shape[1] {
		return nil, errors.Wrapf(ErrShapeMismatch, "batch norm over %d channels, got %v", l.shape[1], x.Shape)
	}
	out := x.ZerosLike()
	if p.Deterministic {
		for ch := 0; ch < c; ch++ {
			mean, inv := l.Mean.Value[ch], l.InvStd.Value[ch]
			gamma, beta := l.Gamma.Value[ch], l.Beta.Value[ch]
			eachPlane(n, c, area, ch, func(off int) {
				for k := off; k < off+area; k++ {
					out.Data[k] = (x.Data[k]-mean)*inv*gamma + beta
				}
			})
		}
		return out, nil
	}

	m := float64(n * area)
	st := &bnState{xhat: make([]float64, len(x.Data)), invStd: make([]float64, c)}
	for ch := 0; ch < c; ch++ {
		var mean float64
		eachPlane(n, c, area, ch, func(off int) {
			for k := off; k < off+area; k++ {
				mean += x.Data[k]
			}
		})
		mean /= m
		var variance float64
		eachPlane(n, c, area, ch, func(off int) {
			for k := off; k < off+area; k++ {
				d := x.Data[k] - mean
				variance += d * d
			}
		})
		variance /= m
		inv := 1 / math.Sqrt(variance+bnEpsilon)
		st.invStd[ch] = inv
		gamma, beta := l.Gamma.Value[ch], l.Beta.Value[ch]
		eachPlane(n, c, area, ch, func(off int) {
			for k := off; k < off+area; k++ {
				st.xhat[k] = (x.Data[k] - mean) * inv
				out.Data[k] = st.xhat[k]*gamma + beta
			}
		})
		l.Mean.Value[ch] = (1-bnAlpha)*l.Mean.Value[ch] + bnAlpha*mean
		l.InvStd.Value[ch] = (1-bnAlpha)*l.InvStd.Value[ch] + bnAlpha*inv
	}
	p.state[l] = st
	return out, nil
}

func (l *BatchNorm) Backward(p *Pass, in []*Tensor, out, grad *Tensor) ([]*Tensor, error) {
	x := in[0]
	n, c, area := layout(x)
	dx := x.ZerosLike()
	dgamma, dbeta := l.Gamma.grad(), l.Beta.grad()

	if p.Deterministic {
		for ch := 0; ch < c; ch++ {
			mean, inv, gamma := l.Mean.Value[ch], l.InvStd.Value[ch], l.Gamma.Value[ch]
			eachPlane(n, c, area, ch, func(off int) {
				for k := off; k < off+area; k++ {
					dgamma[ch] += grad.Data[k] * (x.Data[k] - mean) * inv
					dbeta[ch] += grad.Data[k]
					dx.Data[k] = grad.Data[k] * gamma * inv
				}
			})
		}
		return []*Tensor{dx}, nil
	}

	st, ok := p.state[l].(*bnState)
	if !ok {
		return nil, errors.New("nn: batch norm backward without a training forward pass")
	}
	m := float64(n * area)
	for ch := 0; ch < c; ch++ {
		gamma, inv := l.Gamma.Value[ch], st.invStd[ch]
		var sumG, sumGX float64
		eachPlane(n, c, area, ch, func(off int) {
			for k := off; k < off+area; k++ {
				sumG += grad.Data[k]
				sumGX += grad.Data[k] * st.xhat[k]
			}
		})
		dgamma[ch] += sumGX
		dbeta[ch] += sumG
		eachPlane(n, c, area, ch, func(off int) {
			for k := off; k < off+area; k++ {
				dx.Data[k] = gamma * inv / m * (m*grad.Data[k] - sumG - st.xhat[k]*sumGX)
			}
		})
	}
	return []*Tensor{dx}, nil
}

// eachPlane calls fn with the offset of channel ch's plane in every sample.
func eachPlane(n, c, area, ch int, fn func(off int)) {
	for i := 0; i < n; i++ {
		fn((i*c + ch) * area)
	}
}
