// Package optimizer holds update rules that apply accumulated gradients to
// parameters between training steps.
package optimizer

import (
	"gonum.org/v1/gonum/floats"

	"coco/internal/nn"
)

// Optimizer applies one update with the given learning rate.
type Optimizer interface {
	Step(params []*nn.Param, lr float64)
}

// SGD is plain gradient descent.
type SGD struct{}

func (SGD) Step(params []*nn.Param, lr float64) {
	for _, p := range params {
		if p.Grad != nil {
			floats.AddScaled(p.Value, -lr, p.Grad)
		}
	}
}

// Nesterov is gradient descent with Nesterov momentum:
//
//	v = momentum*v - lr*g
//	p = p + momentum*v - lr*g
type Nesterov struct {
	Momentum float64
	velocity map[*nn.Param][]float64
}

func NewNesterov(momentum float64) *Nesterov {
	return &Nesterov{Momentum: momentum, velocity: make(map[*nn.Param][]float64)}
}

func (o *Nesterov) Step(params []*nn.Param, lr float64) {
	for _, p := range params {
		if p.Grad == nil {
			continue
		}
		v, ok := o.velocity[p]
		if !ok {
			v = make([]float64, len(p.Value))
			o.velocity[p] = v
		}
		floats.Scale(o.Momentum, v)
		floats.AddScaled(v, -lr, p.Grad)
		floats.AddScaled(p.Value, o.Momentum, v)
		floats.AddScaled(p.Value, -lr, p.Grad)
	}
}

// Velocity exposes the momentum buffer of p, nil before its first update.
func (o *Nesterov) Velocity(p *nn.Param) []float64 {
	return o.velocity[p]
}
