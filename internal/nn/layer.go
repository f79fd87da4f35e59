package nn

import (
	"math/rand"

	"github.com/pkg/errors"
)

// Layer is a node of an acyclic computation graph.
//
// Forward and Backward receive the activations of Inputs() in order. Backward
// returns the gradient with respect to each input (nil entries are treated as
// zero) and accumulates into the layer's parameter gradients. Neither method
// may modify its tensor arguments.
type Layer interface {
	Name() string
	Inputs() []Layer
	OutputShape() Shape
	Params() []*Param
	Forward(p *Pass, in []*Tensor) (*Tensor, error)
	Backward(p *Pass, in []*Tensor, out, grad *Tensor) ([]*Tensor, error)
}

type base struct {
	name   string
	inputs []Layer
	shape  Shape
}

func (b *base) Name() string       { return b.name }
func (b *base) Inputs() []Layer    { return b.inputs }
func (b *base) OutputShape() Shape { return b.shape }
func (b *base) Params() []*Param   { return nil }

// Pass carries the state of one forward/backward evaluation.
type Pass struct {
	// Deterministic disables dropout and makes batch normalization use its
	// running statistics.
	Deterministic bool
	Rng           *rand.Rand

	feed        map[*Placeholder]*Tensor
	activations map[Layer]*Tensor
	state       map[Layer]interface{}
}

// NewPass prepares a pass. rng is only consulted by stochastic layers.
func NewPass(deterministic bool, rng *rand.Rand) *Pass {
	return &Pass{
		Deterministic: deterministic,
		Rng:           rng,
		feed:          make(map[*Placeholder]*Tensor),
		activations:   make(map[Layer]*Tensor),
		state:         make(map[Layer]interface{}),
	}
}

// Activation returns the output a layer produced in this pass.
func (p *Pass) Activation(l Layer) (*Tensor, bool) {
	t, ok := p.activations[l]
	return t, ok
}

// Placeholder is a symbolic handle for data of a fixed rank. It is bound to a
// tensor only when a pass runs.
type Placeholder struct {
	Name string
	Rank int
}

func NewPlaceholder(name string, rank int) *Placeholder {
	return &Placeholder{Name: name, Rank: rank}
}

// Input is the graph entry point for a placeholder.
type Input struct {
	base
	Var *Placeholder
}

// NewInput declares the shape data bound to ph must have.
func NewInput(ph *Placeholder, shape Shape) (*Input, error) {
	if ph == nil {
		return nil, errors.New("nn: input needs a placeholder")
	}
	if len(shape) != ph.Rank {
		return nil, errors.Wrapf(ErrShapeMismatch, "placeholder %s has rank %d, input shape %v", ph.Name, ph.Rank, shape)
	}
	return &Input{base: base{name: ph.Name, shape: shape.Clone()}, Var: ph}, nil
}

func (l *Input) Forward(p *Pass, in []*Tensor) (*Tensor, error) {
	t, ok := p.feed[l.Var]
	if !ok {
		return nil, errors.Errorf("nn: no tensor bound to %s", l.Var.Name)
	}
	if !l.shape.Accepts(t.Shape) {
		return nil, errors.Wrapf(ErrShapeMismatch, "input %s expects %v, got %v", l.name, l.shape, t.Shape)
	}
	return t, nil
}

func (l *Input) Backward(p *Pass, in []*Tensor, out, grad *Tensor) ([]*Tensor, error) {
	return nil, nil
}
