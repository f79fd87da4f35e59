package nn

import (
	"github.com/pkg/errors"
)

// AllLayers returns every layer reachable from outputs, inputs first. The
// order is deterministic for a given graph.
func AllLayers(outputs ...Layer) []Layer {
	seen := make(map[Layer]bool)
	var order []Layer
	var visit func(l Layer)
	visit = func(l Layer) {
		if seen[l] {
			return
		}
		seen[l] = true
		for _, in := range l.Inputs() {
			visit(in)
		}
		order = append(order, l)
	}
	for _, out := range outputs {
		visit(out)
	}
	return order
}

// AllParams collects the distinct params of every reachable layer that pass
// filter. A nil filter selects everything.
func AllParams(filter ParamFilter, outputs ...Layer) []*Param {
	seen := make(map[*Param]bool)
	var params []*Param
	for _, l := range AllLayers(outputs...) {
		for _, p := range l.Params() {
			if seen[p] || (filter != nil && !filter(p)) {
				continue
			}
			seen[p] = true
			params = append(params, p)
		}
	}
	return params
}

// Graph evaluates a fixed set of output layers.
type Graph struct {
	outputs []Layer
	layers  []Layer
}

func NewGraph(outputs ...Layer) *Graph {
	return &Graph{outputs: outputs, layers: AllLayers(outputs...)}
}

func (g *Graph) Layers() []Layer { return g.layers }

func (g *Graph) Outputs() []Layer { return g.outputs }

// Forward binds feed to the graph's placeholders and evaluates every layer,
// returning the output layers' activations.
func (g *Graph) Forward(p *Pass, feed map[*Placeholder]*Tensor) ([]*Tensor, error) {
	for ph, t := range feed {
		if len(t.Shape) != ph.Rank {
			return nil, errors.Wrapf(ErrShapeMismatch, "%s expects rank %d, got %v", ph.Name, ph.Rank, t.Shape)
		}
		p.feed[ph] = t
	}
	for _, l := range g.layers {
		for _, param := range l.Params() {
			if err := param.check(); err != nil {
				return nil, err
			}
		}
		in := make([]*Tensor, len(l.Inputs()))
		for i, src := range l.Inputs() {
			in[i] = p.activations[src]
		}
		out, err := l.Forward(p, in)
		if err != nil {
			return nil, errors.Wrapf(err, "forward %s", l.Name())
		}
		p.activations[l] = out
	}
	outs := make([]*Tensor, len(g.outputs))
	for i, l := range g.outputs {
		outs[i] = p.activations[l]
	}
	return outs, nil
}

// Backward propagates grads (one per output layer, nil for none) through the
// activations recorded by Forward on the same pass and accumulates parameter
// gradients.
func (g *Graph) Backward(p *Pass, grads []*Tensor) error {
	if len(grads) != len(g.outputs) {
		return errors.Errorf("nn: %d gradients for %d outputs", len(grads), len(g.outputs))
	}
	acc := make(map[Layer]*Tensor)
	for i, l := range g.outputs {
		acc[l] = sum(acc[l], grads[i])
	}
	for i := len(g.layers) - 1; i >= 0; i-- {
		l := g.layers[i]
		grad := acc[l]
		if grad == nil {
			continue
		}
		out, ok := p.activations[l]
		if !ok {
			return errors.Errorf("nn: %s has no activation, run Forward first", l.Name())
		}
		ins := l.Inputs()
		in := make([]*Tensor, len(ins))
		for j, src := range ins {
			in[j] = p.activations[src]
		}
		dIn, err := l.Backward(p, in, out, grad)
		if err != nil {
			return errors.Wrapf(err, "backward %s", l.Name())
		}
		for j, d := range dIn {
			if d != nil {
				acc[ins[j]] = sum(acc[ins[j]], d)
			}
		}
		delete(acc, l)
	}
	return nil
}
