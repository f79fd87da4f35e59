package nn

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
)

// ErrUninitialized is returned by a pass over parameters that were never
// allocated with Initialize.
var ErrUninitialized = errors.New("nn: parameter not initialized")

// Param is a learnable or bookkeeping array owned by a layer.
type Param struct {
	Name  string
	Shape Shape

	// Trainable params are updated by optimizers; Regularizable ones
	// contribute to weight decay.
	Trainable     bool
	Regularizable bool

	Init   Initializer
	FanIn  int
	FanOut int

	Value []float64
	Grad  []float64
}

func (p *Param) Size() int {
	return p.Shape.Size()
}

// ZeroGrad clears the gradient, allocating it on first use.
func (p *Param) ZeroGrad() {
	if p.Grad == nil {
		p.Grad = make([]float64, p.Size())
		return
	}
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

func (p *Param) grad() []float64 {
	if p.Grad == nil {
		p.Grad = make([]float64, p.Size())
	}
	return p.Grad
}

func (p *Param) check() error {
	if p.Value == nil {
		return errors.Wrap(ErrUninitialized, p.Name)
	}
	return nil
}

// ParamFilter selects params in AllParams.
type ParamFilter func(*Param) bool

// Trainable selects params updated by optimizers.
func Trainable(p *Param) bool { return p.Trainable }

// Regularizable selects params penalised by weight decay.
func Regularizable(p *Param) bool { return p.Regularizable }

// Initializer fills a parameter's initial values.
type Initializer interface {
	Fill(v []float64, fanIn, fanOut int, rng *rand.Rand)
}

// GainReLU is the He gain for rectified linear units.
var GainReLU = math.Sqrt2

// HeNormal draws from N(0, gain²/fanIn).
type HeNormal struct {
	Gain float64
}

func (h HeNormal) Fill(v []float64, fanIn, fanOut int, rng *rand.Rand) {
	gain := h.Gain
	if gain == 0 {
		gain = 1
	}
	std := gain * math.Sqrt(1/float64(max(fanIn, 1)))
	for i := range v {
		v[i] = rng.NormFloat64() * std
	}
}

// GlorotUniform draws from U(-a, a) with a = gain*sqrt(6/(fanIn+fanOut)).
type GlorotUniform struct {
	Gain float64
}

func (g GlorotUniform) Fill(v []float64, fanIn, fanOut int, rng *rand.Rand) {
	gain := g.Gain
	if gain == 0 {
		gain = 1
	}
	limit := gain * math.Sqrt(6/float64(max(fanIn+fanOut, 1)))
	for i := range v {
		v[i] = (rng.Float64()*2 - 1) * limit
	}
}

// Constant fills every value with itself.
type Constant float64

func (c Constant) Fill(v []float64, fanIn, fanOut int, rng *rand.Rand) {
	for i := range v {
		v[i] = float64(c)
	}
}

// Initialize allocates and fills every parameter reachable from outputs that
// has no value yet.
func Initialize(rng *rand.Rand, outputs ...Layer) {
	for _, p := range AllParams(nil, outputs...) {
		if p.Value != nil {
			continue
		}
		p.Value = make([]float64, p.Size())
		fill := p.Init
		if fill == nil {
			fill = Constant(0)
		}
		fill.Fill(p.Value, p.FanIn, p.FanOut, rng)
	}
}
