// Package scaffold wires a network into training, validation, test and
// inference phases with a loss, weight decay, an update rule and a learning
// rate schedule.
package scaffold

import (
	"math/rand"
	"sort"

	"github.com/pkg/errors"

	"coco/internal/losses"
	"coco/internal/nn"
	"coco/internal/optimizer"
)

// WeightDecay is the L2 coefficient applied to regularizable params.
const WeightDecay = 1e-4

// Network is what a scaffolder needs from an architecture.
type Network interface {
	Inputs() []*nn.Placeholder
	OutputLayers() []nn.Layer
	Params(filter nn.ParamFilter) []*nn.Param
	Initialize(rng *rand.Rand)
}

// NetworkFactory builds an architecture on the scaffolder's placeholders.
type NetworkFactory func(inputs []*nn.Placeholder) (Network, error)

// Schedule maps epochs to learning rates. Epochs without an entry keep the
// rate of the closest earlier entry.
type Schedule map[int]float64

// Rate returns the learning rate for epoch, or base if no entry is at or
// before it.
func (s Schedule) Rate(epoch int, base float64) float64 {
	best, found := 0, false
	for e := range s {
		if e <= epoch && (!found || e > best) {
			best, found = e, true
		}
	}
	if !found {
		return base
	}
	return s[best]
}

// Epochs lists the schedule's entries in order.
func (s Schedule) Epochs() []int {
	epochs := make([]int, 0, len(s))
	for e := range s {
		epochs = append(epochs, e)
	}
	sort.Ints(epochs)
	return epochs
}

// Phase names the placeholders a phase consumes and the values it produces.
type Phase struct {
	Inputs  []*nn.Placeholder
	Outputs []string
}

// Options are shared by every scaffolder.
type Options struct {
	// LearningRate is the rate before the schedule's first entry.
	LearningRate float64
	Seed         int64
}

// Scaffolder holds the state common to every training setup.
type Scaffolder struct {
	Network  Network
	Updates  *optimizer.Nesterov
	Schedule Schedule

	Train, Val, Test, Inference Phase

	baseLR, lr float64
	rng        *rand.Rand
	graph      *nn.Graph
	trainable  []*nn.Param
	decayed    []*nn.Param
}

func newScaffolder(factory NetworkFactory, inputs []*nn.Placeholder, momentum float64, opts Options) (*Scaffolder, error) {
	if factory == nil {
		return nil, errors.New("scaffold: no network factory")
	}
	net, err := factory(inputs)
	if err != nil {
		return nil, errors.Wrap(err, "build network")
	}
	if len(net.OutputLayers()) == 0 {
		return nil, errors.New("scaffold: network has no output layers")
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	net.Initialize(rng)
	return &Scaffolder{
		Network:   net,
		Updates:   optimizer.NewNesterov(momentum),
		baseLR:    opts.LearningRate,
		lr:        opts.LearningRate,
		rng:       rng,
		graph:     nn.NewGraph(net.OutputLayers()[0]),
		trainable: net.Params(nn.Trainable),
		decayed:   net.Params(nn.Regularizable),
	}, nil
}

// SetEpoch applies the schedule's rate for epoch.
func (s *Scaffolder) SetEpoch(epoch int) {
	s.lr = s.Schedule.Rate(epoch, s.baseLR)
}

func (s *Scaffolder) LearningRate() float64 { return s.lr }

// forward evaluates the first output layer on input.
func (s *Scaffolder) forward(deterministic bool, input *nn.Tensor) (*nn.Pass, *nn.Tensor, error) {
	pass := nn.NewPass(deterministic, s.rng)
	outs, err := s.graph.Forward(pass, map[*nn.Placeholder]*nn.Tensor{s.Network.Inputs()[0]: input})
	if err != nil {
		return nil, nil, err
	}
	return pass, outs[0], nil
}

// update backpropagates grad, adds weight decay and applies one optimizer step.
func (s *Scaffolder) update(pass *nn.Pass, grad *nn.Tensor) error {
	for _, p := range s.trainable {
		p.ZeroGrad()
	}
	if err := s.graph.Backward(pass, []*nn.Tensor{grad}); err != nil {
		return err
	}
	losses.AddL2Grad(s.decayed, WeightDecay)
	s.Updates.Step(s.trainable, s.lr)
	return nil
}
