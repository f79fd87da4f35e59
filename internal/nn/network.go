package nn

import (
	"math/rand"

	"github.com/pkg/errors"
)

// ErrAlreadyInitialized is returned when a network's graph is built twice.
var ErrAlreadyInitialized = errors.New("nn: network already initialized")

// BuildFunc constructs an architecture's graph from its placeholders and
// returns the output layers.
type BuildFunc func(inputs []*Placeholder) ([]Layer, error)

// Network holds input placeholders and the output layers built from them.
// The graph is built once; afterwards only parameter values change.
type Network struct {
	inputs  []*Placeholder
	outputs []Layer
	built   bool
}

func NewNetwork(inputs ...*Placeholder) *Network {
	return &Network{inputs: inputs}
}

// Init runs build and records its output layers.
func (n *Network) Init(build BuildFunc) error {
	if n.built {
		return ErrAlreadyInitialized
	}
	outputs, err := build(n.inputs)
	if err != nil {
		return err
	}
	if len(outputs) == 0 {
		return errors.New("nn: network built no output layers")
	}
	n.outputs = outputs
	n.built = true
	return nil
}

func (n *Network) Inputs() []*Placeholder { return n.inputs }

func (n *Network) OutputLayers() []Layer { return n.outputs }

// Params returns the network's params selected by filter (nil for all).
func (n *Network) Params(filter ParamFilter) []*Param {
	return AllParams(filter, n.outputs...)
}

// Initialize materialises parameter values.
func (n *Network) Initialize(rng *rand.Rand) {
	Initialize(rng, n.outputs...)
}
