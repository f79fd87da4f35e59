package scaffold

import (
	"github.com/pkg/errors"

	"coco/internal/losses"
	"coco/internal/model"
	"coco/internal/nn"
)

const (
	classificationLR       = 0.001
	classificationMomentum = 0.9
)

// ClassificationScaffolder trains a softmax classifier on one-hot targets with
// categorical cross-entropy and weight decay.
type ClassificationScaffolder struct {
	*Scaffolder
}

func NewClassificationScaffolder(factory NetworkFactory, opts Options) (*ClassificationScaffolder, error) {
	if opts.LearningRate == 0 {
		opts.LearningRate = classificationLR
	}
	input := nn.NewPlaceholder("inputs", 4)
	targets := nn.NewPlaceholder("targets", 2)
	base, err := newScaffolder(factory, []*nn.Placeholder{input}, classificationMomentum, opts)
	if err != nil {
		return nil, errors.Wrap(err, "classification scaffolder")
	}
	base.Train = Phase{Inputs: []*nn.Placeholder{input, targets}, Outputs: []string{"loss"}}
	base.Val = Phase{Inputs: []*nn.Placeholder{input, targets}, Outputs: []string{"test_loss", "test_acc", "test_prediction"}}
	base.Test = base.Val
	base.Inference = Phase{Inputs: []*nn.Placeholder{input}, Outputs: []string{"test_prediction"}}
	return &ClassificationScaffolder{Scaffolder: base}, nil
}

// TrainStep runs one update and returns the regularised loss before it.
func (s *ClassificationScaffolder) TrainStep(b model.Batch) (float64, error) {
	pass, probs, err := s.forward(false, b.Inputs)
	if err != nil {
		return 0, err
	}
	loss, grad, err := losses.CategoricalCrossEntropy(probs, b.Targets)
	if err != nil {
		return 0, err
	}
	cost := loss + WeightDecay*losses.L2(s.decayed)
	if err := s.update(pass, grad); err != nil {
		return 0, err
	}
	return cost, nil
}

// EvalStep reports loss, accuracy and the prediction of a deterministic pass.
func (s *ClassificationScaffolder) EvalStep(b model.Batch) (model.Eval, error) {
	_, probs, err := s.forward(true, b.Inputs)
	if err != nil {
		return model.Eval{}, err
	}
	loss, _, err := losses.CategoricalCrossEntropy(probs, b.Targets)
	if err != nil {
		return model.Eval{}, err
	}
	acc, err := losses.Accuracy(probs, b.Targets)
	if err != nil {
		return model.Eval{}, err
	}
	return model.Eval{Loss: loss, Accuracy: acc, Scored: true, Prediction: probs}, nil
}

// Infer returns class probabilities.
func (s *ClassificationScaffolder) Infer(inputs *nn.Tensor) (*nn.Tensor, error) {
	_, probs, err := s.forward(true, inputs)
	return probs, err
}
