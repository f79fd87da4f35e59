package nn

import (
	"math"
	"math/rand"
	"testing"
)

func randomTensor(rng *rand.Rand, shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.Data {
		t.Data[i] = rng.NormFloat64()
	}
	return t
}

// weightedSum evaluates sum(out * r) for one forward pass.
func weightedSum(t *testing.T, g *Graph, ph *Placeholder, x, r *Tensor) float64 {
	t.Helper()
	outs, err := g.Forward(NewPass(false, nil), map[*Placeholder]*Tensor{ph: x})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	total := 0.0
	for i, v := range outs[0].Data {
		total += v * r.Data[i]
	}
	return total
}

// checkGradients compares analytic input and parameter gradients with central
// differences.
func checkGradients(t *testing.T, ph *Placeholder, out Layer, x *Tensor) {
	t.Helper()
	rng := rand.New(rand.NewSource(11))
	Initialize(rng, out)
	g := NewGraph(out)

	// Perturb params away from their constant initial values.
	for _, p := range AllParams(Trainable, out) {
		for i := range p.Value {
			p.Value[i] += 0.1 * rng.NormFloat64()
		}
	}

	pass := NewPass(false, nil)
	outs, err := g.Forward(pass, map[*Placeholder]*Tensor{ph: x})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	r := randomTensor(rng, outs[0].Shape...)
	for _, p := range AllParams(nil, out) {
		p.ZeroGrad()
	}
	if err := g.Backward(pass, []*Tensor{r}); err != nil {
		t.Fatalf("backward: %v", err)
	}

	const eps = 1e-6
	compare := func(what string, analytic, numeric float64) {
		t.Helper()
		if math.Abs(analytic-numeric) > 1e-4*math.Max(1, math.Abs(numeric)) {
			t.Fatalf("%s: analytic %.8f numeric %.8f", what, analytic, numeric)
		}
	}

	var inputLayer *Input
	for _, l := range g.Layers() {
		if in, ok := l.(*Input); ok {
			inputLayer = in
		}
	}
	if inputLayer == nil {
		t.Fatal("graph has no input")
	}

	// Input gradient via a probe layer that records what reaches the input.
	probe := NewPass(false, nil)
	probe.feed[ph] = x
	if _, err := g.Forward(probe, map[*Placeholder]*Tensor{ph: x}); err != nil {
		t.Fatalf("forward: %v", err)
	}
	dx := inputGradient(t, g, probe, r, inputLayer)
	for i := range x.Data {
		orig := x.Data[i]
		x.Data[i] = orig + eps
		plus := weightedSum(t, g, ph, x, r)
		x.Data[i] = orig - eps
		minus := weightedSum(t, g, ph, x, r)
		x.Data[i] = orig
		compare("input", dx.Data[i], (plus-minus)/(2*eps))
	}

	for _, p := range AllParams(Trainable, out) {
		for i := range p.Value {
			orig := p.Value[i]
			p.Value[i] = orig + eps
			plus := weightedSum(t, g, ph, x, r)
			p.Value[i] = orig - eps
			minus := weightedSum(t, g, ph, x, r)
			p.Value[i] = orig
			compare(p.Name, p.Grad[i], (plus-minus)/(2*eps))
		}
	}
}

// inputGradient backpropagates r and returns the gradient at the input layer.
func inputGradient(t *testing.T, g *Graph, p *Pass, r *Tensor, input *Input) *Tensor {
	t.Helper()
	acc := map[Layer]*Tensor{g.Outputs()[0]: r}
	layers := g.Layers()
	for i := len(layers) - 1; i >= 0; i-- {
		l := layers[i]
		grad := acc[l]
		if grad == nil || l == Layer(input) {
			continue
		}
		in := make([]*Tensor, len(l.Inputs()))
		for j, src := range l.Inputs() {
			in[j] = p.activations[src]
		}
		d, err := l.Backward(p, in, p.activations[l], grad)
		if err != nil {
			t.Fatalf("backward %s: %v", l.Name(), err)
		}
		for j, src := range l.Inputs() {
			if d[j] != nil {
				acc[src] = sum(acc[src], d[j])
			}
		}
	}
	return acc[input]
}

func TestConv2DGradients(t *testing.T) {
	ph := NewPlaceholder("x", 4)
	in, err := NewInput(ph, Shape{Batch, 2, 5, 4})
	if err != nil {
		t.Fatal(err)
	}
	conv, err := NewConv2D(in, ConvConfig{Filters: 3, Size: [2]int{3, 2}, Stride: [2]int{2, 1}, Pad: Pad(1), W: HeNormal{Gain: GainReLU}})
	if err != nil {
		t.Fatal(err)
	}
	if want := (Shape{Batch, 3, 3, 5}); !conv.OutputShape().Equal(want) {
		t.Fatalf("conv shape %v want %v", conv.OutputShape(), want)
	}
	x := randomTensor(rand.New(rand.NewSource(1)), 2, 2, 5, 4)
	checkGradients(t, ph, conv, x)
}

func TestBatchNormGradients(t *testing.T) {
	ph := NewPlaceholder("x", 4)
	in, _ := NewInput(ph, Shape{Batch, 2, 3, 3})
	bn, err := NewBatchNorm(in)
	if err != nil {
		t.Fatal(err)
	}
	x := randomTensor(rand.New(rand.NewSource(2)), 3, 2, 3, 3)
	checkGradients(t, ph, bn, x)
}

func TestDenseSoftmaxGradients(t *testing.T) {
	ph := NewPlaceholder("x", 4)
	in, _ := NewInput(ph, Shape{Batch, 2, 2, 2})
	dense, err := NewDense(in, 3, Softmax)
	if err != nil {
		t.Fatal(err)
	}
	x := randomTensor(rand.New(rand.NewSource(3)), 4, 2, 2, 2)
	checkGradients(t, ph, dense, x)
}

func TestShortcutGradients(t *testing.T) {
	ph := NewPlaceholder("x", 4)
	in, _ := NewInput(ph, Shape{Batch, 2, 5, 6})
	sub, err := NewSubsample(in, 2)
	if err != nil {
		t.Fatal(err)
	}
	padded, err := NewPadChannels(sub, 1)
	if err != nil {
		t.Fatal(err)
	}
	if want := (Shape{Batch, 4, 3, 3}); !padded.OutputShape().Equal(want) {
		t.Fatalf("padded shape %v want %v", padded.OutputShape(), want)
	}
	up, err := NewUpscale2D(padded, 2)
	if err != nil {
		t.Fatal(err)
	}
	pool, err := NewPool2D(up, PoolConfig{Size: 2, Mode: AveragePool})
	if err != nil {
		t.Fatal(err)
	}
	x := randomTensor(rand.New(rand.NewSource(4)), 2, 2, 5, 6)
	checkGradients(t, ph, pool, x)
}

func TestElemwiseSumSharedInput(t *testing.T) {
	ph := NewPlaceholder("x", 4)
	in, _ := NewInput(ph, Shape{Batch, 1, 2, 2})
	conv, _ := NewConv2D(in, ConvConfig{Filters: 1, Size: [2]int{1, 1}})
	s, err := NewElemwiseSum(conv, in)
	if err != nil {
		t.Fatal(err)
	}
	x := randomTensor(rand.New(rand.NewSource(5)), 1, 1, 2, 2)
	checkGradients(t, ph, s, x)

	if _, err := NewElemwiseSum(conv, padMust(t, in)); err == nil {
		t.Fatal("expected shape mismatch summing different channel counts")
	}
}

func padMust(t *testing.T, l Layer) Layer {
	t.Helper()
	p, err := NewPadChannels(l, 1)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestMaxPoolRoutesGradientToMaximum(t *testing.T) {
	ph := NewPlaceholder("x", 4)
	in, _ := NewInput(ph, Shape{1, 1, 2, 2})
	pool, err := NewPool2D(in, PoolConfig{Size: 2})
	if err != nil {
		t.Fatal(err)
	}
	g := NewGraph(pool)
	x, _ := FromData(Shape{1, 1, 2, 2}, []float64{1, 4, 3, 2})
	p := NewPass(true, nil)
	outs, err := g.Forward(p, map[*Placeholder]*Tensor{ph: x})
	if err != nil {
		t.Fatal(err)
	}
	if outs[0].Data[0] != 4 {
		t.Fatalf("max pool = %v, want 4", outs[0].Data[0])
	}
	dx := inputGradient(t, g, p, &Tensor{Shape: Shape{1, 1, 1, 1}, Data: []float64{1}}, in)
	want := []float64{0, 1, 0, 0}
	for i := range want {
		if dx.Data[i] != want[i] {
			t.Fatalf("dx = %v, want %v", dx.Data, want)
		}
	}
}

func TestBatchNormDeterministicUsesRunningStats(t *testing.T) {
	ph := NewPlaceholder("x", 4)
	in, _ := NewInput(ph, Shape{Batch, 1, 1, 2})
	bn, _ := NewBatchNorm(in)
	Initialize(rand.New(rand.NewSource(1)), bn)
	g := NewGraph(bn)
	x, _ := FromData(Shape{1, 1, 1, 2}, []float64{2, 4})

	outs, err := g.Forward(NewPass(true, nil), map[*Placeholder]*Tensor{ph: x})
	if err != nil {
		t.Fatal(err)
	}
	// Fresh running stats are mean 0, inv_std 1.
	if outs[0].Data[0] != 2 || outs[0].Data[1] != 4 {
		t.Fatalf("deterministic output %v, want identity", outs[0].Data)
	}

	if _, err := g.Forward(NewPass(false, nil), map[*Placeholder]*Tensor{ph: x}); err != nil {
		t.Fatal(err)
	}
	if got := bn.Mean.Value[0]; math.Abs(got-0.3) > 1e-12 {
		t.Fatalf("running mean %v, want 0.3", got)
	}
}

func TestDropoutDeterministicIsIdentity(t *testing.T) {
	ph := NewPlaceholder("x", 2)
	in, _ := NewInput(ph, Shape{Batch, 100})
	drop, err := NewDropout(in, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	g := NewGraph(drop)
	x := randomTensor(rand.New(rand.NewSource(6)), 2, 100)

	outs, err := g.Forward(NewPass(true, nil), map[*Placeholder]*Tensor{ph: x})
	if err != nil {
		t.Fatal(err)
	}
	for i := range x.Data {
		if outs[0].Data[i] != x.Data[i] {
			t.Fatal("deterministic dropout changed its input")
		}
	}

	outs, err = g.Forward(NewPass(false, rand.New(rand.NewSource(7))), map[*Placeholder]*Tensor{ph: x})
	if err != nil {
		t.Fatal(err)
	}
	zeros := 0
	for _, v := range outs[0].Data {
		if v == 0 {
			zeros++
		}
	}
	if zeros == 0 || zeros == len(x.Data) {
		t.Fatalf("training dropout zeroed %d of %d values", zeros, len(x.Data))
	}
}
