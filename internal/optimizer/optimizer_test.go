package optimizer

import (
	"math"
	"testing"

	"coco/internal/nn"
)

func TestNesterovMatchesUpdateEquations(t *testing.T) {
	p := &nn.Param{Name: "w", Shape: nn.Shape{1}, Trainable: true, Value: []float64{1}, Grad: []float64{0.5}}
	o := NewNesterov(0.9)
	const lr = 0.1

	o.Step([]*nn.Param{p}, lr)
	// v = -0.05, p = 1 + 0.9*(-0.05) - 0.05
	if math.Abs(o.Velocity(p)[0]+0.05) > 1e-12 || math.Abs(p.Value[0]-0.905) > 1e-12 {
		t.Fatalf("after step 1: v=%v p=%v", o.Velocity(p), p.Value)
	}

	o.Step([]*nn.Param{p}, lr)
	// v = 0.9*(-0.05) - 0.05 = -0.095, p = 0.905 + 0.9*(-0.095) - 0.05
	if math.Abs(o.Velocity(p)[0]+0.095) > 1e-12 || math.Abs(p.Value[0]-0.7695) > 1e-12 {
		t.Fatalf("after step 2: v=%v p=%v", o.Velocity(p), p.Value)
	}
}

func TestStepSkipsParamsWithoutGradients(t *testing.T) {
	p := &nn.Param{Name: "w", Shape: nn.Shape{1}, Value: []float64{1}}
	NewNesterov(0.9).Step([]*nn.Param{p}, 0.1)
	SGD{}.Step([]*nn.Param{p}, 0.1)
	if p.Value[0] != 1 {
		t.Fatalf("param changed to %v", p.Value[0])
	}
}

func TestSGD(t *testing.T) {
	p := &nn.Param{Name: "w", Shape: nn.Shape{2}, Value: []float64{1, 2}, Grad: []float64{1, -1}}
	SGD{}.Step([]*nn.Param{p}, 0.5)
	if p.Value[0] != 0.5 || p.Value[1] != 2.5 {
		t.Fatalf("sgd = %v", p.Value)
	}
}
