package trainer

import (
	"context"
	"errors"
	"testing"

	"coco/internal/metrics"
	"coco/internal/model"
	"coco/internal/nn"
)

type sliceSource struct {
	batches []model.Batch
	err     error
	calls   int
}

func (s *sliceSource) Iterate(ctx context.Context) (<-chan model.Batch, <-chan error) {
	s.calls++
	out := make(chan model.Batch)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		for _, b := range s.batches {
			select {
			case <-ctx.Done():
				return
			case out <- b:
			}
		}
		if s.err != nil {
			errCh <- s.err
		}
	}()
	return out, errCh
}

type fakeModel struct {
	epochs []int
	trains int
	loss   float64
}

func (m *fakeModel) SetEpoch(epoch int)    { m.epochs = append(m.epochs, epoch) }
func (m *fakeModel) LearningRate() float64 { return 0.1 }

func (m *fakeModel) TrainStep(b model.Batch) (float64, error) {
	m.trains++
	return m.loss * float64(b.Size()), nil
}

func (m *fakeModel) EvalStep(b model.Batch) (model.Eval, error) {
	return model.Eval{Loss: 0.5, Accuracy: 0.25, Scored: true}, nil
}

func batchOf(n int) model.Batch {
	return model.Batch{Inputs: nn.New(n, 1), Targets: nn.New(n, 2)}
}

func TestRunEpochs(t *testing.T) {
	train := &sliceSource{batches: []model.Batch{batchOf(2), batchOf(4)}}
	val := &sliceSource{batches: []model.Batch{batchOf(1)}}
	m := &fakeModel{loss: 1}
	var seen []int
	summaries, err := Run(context.Background(), RunConfig{
		Model:    m,
		Train:    train,
		Val:      val,
		Epochs:   3,
		LogEvery: 1,
		OnEpoch: func(s metrics.EpochSummary) error {
			seen = append(seen, s.Epoch)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(summaries) != 3 || len(seen) != 3 || seen[2] != 3 {
		t.Fatalf("summaries %d, callbacks %v", len(summaries), seen)
	}
	if m.epochs[0] != 1 || m.epochs[2] != 3 {
		t.Fatalf("SetEpoch calls %v", m.epochs)
	}
	if m.trains != 6 || train.calls != 3 || val.calls != 3 {
		t.Fatalf("trains=%d train iterations=%d val iterations=%d", m.trains, train.calls, val.calls)
	}
	s := summaries[0]
	if s.TrainLoss != 3 || s.ValLoss != 0.5 || s.ValAccuracy != 0.25 || s.TrainBatches != 2 {
		t.Fatalf("summary %+v", s)
	}
}

func TestRunPropagatesSourceError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Run(context.Background(), RunConfig{
		Model:  &fakeModel{},
		Train:  &sliceSource{batches: []model.Batch{batchOf(1)}, err: boom},
		Epochs: 1,
	})
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want boom", err)
	}
}

func TestRunStopsOnCallbackError(t *testing.T) {
	stop := errors.New("stop")
	summaries, err := Run(context.Background(), RunConfig{
		Model:   &fakeModel{},
		Train:   &sliceSource{batches: []model.Batch{batchOf(1)}},
		Epochs:  5,
		OnEpoch: func(metrics.EpochSummary) error { return stop },
	})
	if !errors.Is(err, stop) || len(summaries) != 1 {
		t.Fatalf("err=%v summaries=%d", err, len(summaries))
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, RunConfig{Model: &fakeModel{}, Train: &sliceSource{batches: []model.Batch{batchOf(1)}}, Epochs: 1})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestRunValidatesConfig(t *testing.T) {
	if _, err := Run(context.Background(), RunConfig{Model: &fakeModel{}, Train: &sliceSource{}}); err == nil {
		t.Fatal("expected error for zero epochs")
	}
}
