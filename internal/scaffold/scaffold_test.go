package scaffold

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"coco/internal/losses"
	"coco/internal/model"
	"coco/internal/nn"
)

func tinyDepth(inputs []*nn.Placeholder) (Network, error) {
	n := nn.NewNetwork(inputs...)
	err := n.Init(func(ph []*nn.Placeholder) ([]nn.Layer, error) {
		in, err := nn.NewInput(ph[0], nn.Shape{nn.Batch, 3, 4, 4})
		if err != nil {
			return nil, err
		}
		out, err := nn.NewConv2D(in, nn.ConvConfig{Filters: 1, Size: [2]int{3, 3}, Pad: nn.PadSame, Nonlinearity: nn.Rectify})
		if err != nil {
			return nil, err
		}
		return []nn.Layer{out}, nil
	})
	return n, err
}

func tinyClassifier(inputs []*nn.Placeholder) (Network, error) {
	n := nn.NewNetwork(inputs...)
	err := n.Init(func(ph []*nn.Placeholder) ([]nn.Layer, error) {
		in, err := nn.NewInput(ph[0], nn.Shape{nn.Batch, 2, 2, 2})
		if err != nil {
			return nil, err
		}
		out, err := nn.NewDense(in, 3, nn.Softmax)
		if err != nil {
			return nil, err
		}
		return []nn.Layer{out}, nil
	})
	return n, err
}

func filled(v float64, shape ...int) *nn.Tensor {
	t := nn.New(shape...)
	for i := range t.Data {
		t.Data[i] = v
	}
	return t
}

func randomImages(seed int64, shape ...int) *nn.Tensor {
	rng := rand.New(rand.NewSource(seed))
	t := nn.New(shape...)
	for i := range t.Data {
		t.Data[i] = rng.Float64()
	}
	return t
}

func TestScheduleKeepsMostRecentRate(t *testing.T) {
	cases := map[int]float64{0: 0.5, 1: 0.001, 2: 0.01, 29: 0.01, 30: 0.001, 59: 0.001, 60: 0.0001, 500: 0.0001}
	for epoch, want := range cases {
		if got := DepthSchedule.Rate(epoch, 0.5); got != want {
			t.Fatalf("epoch %d: rate %v want %v", epoch, got, want)
		}
	}
	if got := DepthSchedule.Epochs(); len(got) != 4 || got[0] != 1 || got[3] != 60 {
		t.Fatalf("epochs %v", got)
	}
}

func TestDepthScaffolderPhases(t *testing.T) {
	s, err := NewDepthPredictionScaffolder(tinyDepth, Options{Seed: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Train.Inputs) != 2 || len(s.Inference.Inputs) != 1 {
		t.Fatalf("phase inputs: train %d inference %d", len(s.Train.Inputs), len(s.Inference.Inputs))
	}

	x := randomImages(2, 2, 3, 4, 4)
	targets := filled(3, 2, 4, 4)
	batch := model.Batch{Inputs: x, Targets: targets}

	pred, err := s.Infer(x)
	if err != nil {
		t.Fatal(err)
	}
	if !pred.Shape.Equal(nn.Shape{2, 1, 4, 4}) {
		t.Fatalf("prediction shape %v", pred.Shape)
	}

	eval, err := s.EvalStep(batch)
	if err != nil {
		t.Fatal(err)
	}
	t4, _ := targets.Reshape(2, 1, 4, 4)
	want, _, err := losses.MSE(pred, t4, DepthBounds)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(eval.Loss-want) > 1e-12 || eval.Scored {
		t.Fatalf("val loss %v want %v (scored=%v)", eval.Loss, want, eval.Scored)
	}
	test, err := s.TestStep(batch)
	if err != nil {
		t.Fatal(err)
	}
	if test.Loss != eval.Loss {
		t.Fatalf("test loss %v differs from val loss %v", test.Loss, eval.Loss)
	}
}

func TestDepthTrainStepMovesTowardTargets(t *testing.T) {
	s, err := NewDepthPredictionScaffolder(tinyDepth, Options{Seed: 1})
	if err != nil {
		t.Fatal(err)
	}
	// Predict exactly 1 everywhere so no output is clamped.
	var bias *nn.Param
	for _, p := range s.Network.Params(nil) {
		if p.Regularizable {
			for i := range p.Value {
				p.Value[i] = 0
			}
		} else {
			bias = p
			p.Value[0] = 1
		}
	}
	batch := model.Batch{Inputs: randomImages(3, 2, 3, 4, 4), Targets: filled(3, 2, 4, 4)}

	pred, _ := s.Infer(batch.Inputs)
	t4, _ := batch.Targets.Reshape(2, 1, 4, 4)
	want, _, _ := losses.Berhu(pred, t4, DepthBounds)

	s.SetEpoch(1)
	loss, err := s.TrainStep(batch)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(loss-want) > 1e-12 {
		t.Fatalf("train loss %v want berhu %v", loss, want)
	}
	if bias.Value[0] <= 1 {
		t.Fatalf("bias %v did not move toward the target", bias.Value[0])
	}
	cost, err := s.Cost(batch)
	if err != nil {
		t.Fatal(err)
	}
	if cost <= 0 {
		t.Fatalf("cost %v", cost)
	}
}

func TestDepthTargetsMustMatchPrediction(t *testing.T) {
	s, err := NewDepthPredictionScaffolder(tinyDepth, Options{Seed: 1})
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.TrainStep(model.Batch{Inputs: randomImages(1, 1, 3, 4, 4), Targets: filled(1, 1, 2, 2)})
	if !errors.Is(err, nn.ErrShapeMismatch) {
		t.Fatalf("error = %v, want ErrShapeMismatch", err)
	}
}

func TestScaffolderSetEpoch(t *testing.T) {
	s, err := NewDepthPredictionScaffolder(tinyDepth, Options{Seed: 1, LearningRate: 0.2})
	if err != nil {
		t.Fatal(err)
	}
	if s.LearningRate() != 0.2 {
		t.Fatalf("initial rate %v", s.LearningRate())
	}
	s.SetEpoch(45)
	if s.LearningRate() != 0.001 {
		t.Fatalf("epoch 45 rate %v", s.LearningRate())
	}
}

func oneHot(labels []int, classes int) *nn.Tensor {
	t := nn.New(len(labels), classes)
	for i, l := range labels {
		t.Data[i*classes+l] = 1
	}
	return t
}

func TestClassificationScaffolderLearns(t *testing.T) {
	s, err := NewClassificationScaffolder(tinyClassifier, Options{Seed: 4, LearningRate: 0.01})
	if err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewSource(5))
	x := nn.New(6, 2, 2, 2)
	for i := range x.Data {
		x.Data[i] = rng.NormFloat64()
	}
	batch := model.Batch{Inputs: x, Targets: oneHot([]int{0, 1, 2, 0, 1, 2}, 3)}

	before, err := s.EvalStep(batch)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		if _, err := s.TrainStep(batch); err != nil {
			t.Fatal(err)
		}
	}
	after, err := s.EvalStep(batch)
	if err != nil {
		t.Fatal(err)
	}
	if after.Loss >= before.Loss {
		t.Fatalf("loss did not decrease: before %v after %v", before.Loss, after.Loss)
	}
	if !after.Scored || after.Accuracy < 0 || after.Accuracy > 1 {
		t.Fatalf("accuracy %v scored %v", after.Accuracy, after.Scored)
	}
	if !after.Prediction.Shape.Equal(nn.Shape{6, 3}) {
		t.Fatalf("prediction shape %v", after.Prediction.Shape)
	}
}

func TestNilFactory(t *testing.T) {
	if _, err := NewClassificationScaffolder(nil, Options{}); err == nil {
		t.Fatal("expected error")
	}
}
