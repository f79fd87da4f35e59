package nn

import (
	"github.com/pkg/errors"
)

// Dropout zeroes inputs with probability P during training and rescales the
// survivors by 1/(1-P). Deterministic passes are the identity.
type Dropout struct {
	base
	P float64
}

func NewDropout(in Layer, prob float64) (*Dropout, error) {
	if prob < 0 || prob >= 1 {
		return nil, errors.Errorf("nn: dropout probability %v outside [0, 1)", prob)
	}
	return &Dropout{base: base{name: "dropout", inputs: []Layer{in}, shape: in.OutputShape().Clone()}, P: prob}, nil
}

func (l *Dropout) Forward(p *Pass, in []*Tensor) (*Tensor, error) {
	if p.Deterministic || l.P == 0 {
		return in[0], nil
	}
	if p.Rng == nil {
		return nil, errors.New("nn: dropout needs a random source on training passes")
	}
	keep := 1 - l.P
	mask := make([]float64, len(in[0].Data))
	out := in[0].ZerosLike()
	for i, v := range in[0].Data {
		if p.Rng.Float64() < keep {
			mask[i] = 1 / keep
			out.Data[i] = v / keep
		}
	}
	p.state[l] = mask
	return out, nil
}

func (l *Dropout) Backward(p *Pass, in []*Tensor, out, grad *Tensor) ([]*Tensor, error) {
	mask, ok := p.state[l].([]float64)
	if !ok {
		return []*Tensor{grad}, nil
	}
	dx := grad.ZerosLike()
	for i, m := range mask {
		dx.Data[i] = grad.Data[i] * m
	}
	return []*Tensor{dx}, nil
}
