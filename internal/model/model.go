package model

import "coco/internal/nn"

// Batch represents a minibatch of inputs and targets.
type Batch struct {
	Inputs  *nn.Tensor
	Targets *nn.Tensor
}

// Size is the number of samples in the batch.
func (b Batch) Size() int {
	if b.Inputs == nil || len(b.Inputs.Shape) == 0 {
		return 0
	}
	return b.Inputs.Shape[0]
}

// Eval is the outcome of a deterministic evaluation step.
type Eval struct {
	Loss float64
	// Accuracy is only meaningful when Scored is set.
	Accuracy   float64
	Scored     bool
	Prediction *nn.Tensor
}

// Model defines the training functionality required by the epoch loop.
type Model interface {
	SetEpoch(epoch int)
	LearningRate() float64
	TrainStep(batch Batch) (float64, error)
	EvalStep(batch Batch) (Eval, error)
}
