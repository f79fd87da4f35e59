package scaffold

import (
	"github.com/pkg/errors"

	"coco/internal/losses"
	"coco/internal/model"
	"coco/internal/nn"
)

// DepthBounds clamp predicted and reference depths, in metres.
var DepthBounds = losses.Bounded(0.1, 12)

// DepthSchedule is the learning rate schedule for depth training.
var DepthSchedule = Schedule{
	1:  0.001,
	2:  0.01,
	30: 0.001,
	60: 0.0001,
}

const depthMomentum = 0.98

// DepthPredictionScaffolder trains a network mapping (N, C, H, W) images to
// (N, 1, H', W') depth maps against (N, H', W') targets.
//
// Training minimises the reverse Huber loss plus weight decay on a stochastic
// pass; validation and test report the mean squared error of a deterministic
// pass.
type DepthPredictionScaffolder struct {
	*Scaffolder
	input, targets *nn.Placeholder
}

func NewDepthPredictionScaffolder(factory NetworkFactory, opts Options) (*DepthPredictionScaffolder, error) {
	if opts.LearningRate == 0 {
		opts.LearningRate = DepthSchedule[1]
	}
	input := nn.NewPlaceholder("input", 4)
	targets := nn.NewPlaceholder("targets", 3)
	base, err := newScaffolder(factory, []*nn.Placeholder{input}, depthMomentum, opts)
	if err != nil {
		return nil, errors.Wrap(err, "depth scaffolder")
	}
	base.Schedule = DepthSchedule
	base.Train = Phase{Inputs: []*nn.Placeholder{input, targets}, Outputs: []string{"train_loss"}}
	base.Val = Phase{Inputs: []*nn.Placeholder{input, targets}, Outputs: []string{"val_loss"}}
	base.Test = Phase{Inputs: []*nn.Placeholder{input, targets}, Outputs: []string{"test_loss"}}
	base.Inference = Phase{Inputs: []*nn.Placeholder{input}, Outputs: []string{"prediction"}}
	return &DepthPredictionScaffolder{Scaffolder: base, input: input, targets: targets}, nil
}

// reshapeTargets views (N, H, W) targets as (N, 1, H, W) and checks them
// against the prediction.
func reshapeTargets(targets, prediction *nn.Tensor) (*nn.Tensor, error) {
	if targets == nil || len(targets.Shape) != 3 {
		return nil, errors.Wrap(nn.ErrShapeMismatch, "depth targets must be (N, H, W)")
	}
	s := targets.Shape
	t, err := targets.Reshape(s[0], 1, s[1], s[2])
	if err != nil {
		return nil, err
	}
	if !t.Shape.Equal(prediction.Shape) {
		return nil, errors.Wrapf(nn.ErrShapeMismatch, "targets %v vs prediction %v", t.Shape, prediction.Shape)
	}
	return t, nil
}

// TrainStep runs one update and returns the reverse Huber loss before it.
func (s *DepthPredictionScaffolder) TrainStep(b model.Batch) (float64, error) {
	pass, pred, err := s.forward(false, b.Inputs)
	if err != nil {
		return 0, err
	}
	t, err := reshapeTargets(b.Targets, pred)
	if err != nil {
		return 0, err
	}
	loss, grad, err := losses.Berhu(pred, t, DepthBounds)
	if err != nil {
		return 0, err
	}
	if err := s.update(pass, grad); err != nil {
		return 0, err
	}
	return loss, nil
}

// Cost is the full training objective, loss plus weight decay, for a batch
// on a deterministic pass.
func (s *DepthPredictionScaffolder) Cost(b model.Batch) (float64, error) {
	_, pred, err := s.forward(true, b.Inputs)
	if err != nil {
		return 0, err
	}
	t, err := reshapeTargets(b.Targets, pred)
	if err != nil {
		return 0, err
	}
	loss, _, err := losses.Berhu(pred, t, DepthBounds)
	if err != nil {
		return 0, err
	}
	return loss + WeightDecay*losses.L2(s.decayed), nil
}

func (s *DepthPredictionScaffolder) evaluate(b model.Batch) (model.Eval, error) {
	_, pred, err := s.forward(true, b.Inputs)
	if err != nil {
		return model.Eval{}, err
	}
	t, err := reshapeTargets(b.Targets, pred)
	if err != nil {
		return model.Eval{}, err
	}
	loss, _, err := losses.MSE(pred, t, DepthBounds)
	if err != nil {
		return model.Eval{}, err
	}
	return model.Eval{Loss: loss, Prediction: pred}, nil
}

// EvalStep is the validation phase.
func (s *DepthPredictionScaffolder) EvalStep(b model.Batch) (model.Eval, error) {
	return s.evaluate(b)
}

// TestStep is the test phase; it evaluates exactly like validation.
func (s *DepthPredictionScaffolder) TestStep(b model.Batch) (model.Eval, error) {
	return s.evaluate(b)
}

// Infer returns the deterministic depth prediction.
func (s *DepthPredictionScaffolder) Infer(inputs *nn.Tensor) (*nn.Tensor, error) {
	_, pred, err := s.forward(true, inputs)
	return pred, err
}
