package trainer

import (
	"context"
	"log"
	"time"

	"github.com/pkg/errors"

	"coco/internal/metrics"
	"coco/internal/model"
)

// Source yields one epoch of batches per call.
type Source interface {
	Iterate(ctx context.Context) (<-chan model.Batch, <-chan error)
}

// RunConfig captures the knobs required by the training loop.
type RunConfig struct {
	Model    model.Model
	Train    Source
	Val      Source
	Epochs   int
	LogEvery int
	// OnEpoch, when set, receives every summary; an error stops the run.
	OnEpoch func(metrics.EpochSummary) error
}

// Run trains for cfg.Epochs full passes over Train, validating on Val after
// each one. Epochs are numbered from 1.
func Run(ctx context.Context, cfg RunConfig) ([]metrics.EpochSummary, error) {
	if cfg.Model == nil || cfg.Train == nil {
		return nil, errors.New("trainer: model and training source are required")
	}
	if cfg.Epochs <= 0 {
		return nil, errors.New("trainer: epochs must be > 0")
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = 50
	}

	summaries := make([]metrics.EpochSummary, 0, cfg.Epochs)
	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		cfg.Model.SetEpoch(epoch)
		acc := metrics.StartEpoch(epoch, time.Now())
		if err := trainEpoch(ctx, cfg, acc); err != nil {
			return summaries, errors.Wrapf(err, "epoch %d: train", epoch)
		}
		if cfg.Val != nil {
			if err := validate(ctx, cfg, acc); err != nil {
				return summaries, errors.Wrapf(err, "epoch %d: validate", epoch)
			}
		}
		s := acc.Finish(time.Now())
		summaries = append(summaries, s)
		logSummary(s, cfg.Epochs)
		if cfg.OnEpoch != nil {
			if err := cfg.OnEpoch(s); err != nil {
				return summaries, err
			}
		}
	}
	return summaries, nil
}

func trainEpoch(ctx context.Context, cfg RunConfig, acc *metrics.Epoch) error {
	var window metrics.Window
	step := 0
	return drain(ctx, cfg.Train, func(b model.Batch, dataTime time.Duration) error {
		startCompute := time.Now()
		loss, err := cfg.Model.TrainStep(b)
		if err != nil {
			return err
		}
		computeTime := time.Since(startCompute)

		acc.AddTrain(loss)
		window.Record(b.Size(), dataTime, computeTime, loss)
		step++
		if step%cfg.LogEvery == 0 {
			snap := window.Snapshot()
			log.Printf("epoch=%d step=%d lr=%g images_per_sec=%.1f data_ms=%.2f compute_ms=%.2f loss=%.4f",
				acc.Number,
				step,
				cfg.Model.LearningRate(),
				snap.ImagesPerSec,
				snap.AvgDataMS,
				snap.AvgComputeMS,
				snap.MeanLoss,
			)
		}
		return nil
	})
}

func validate(ctx context.Context, cfg RunConfig, acc *metrics.Epoch) error {
	return drain(ctx, cfg.Val, func(b model.Batch, _ time.Duration) error {
		eval, err := cfg.Model.EvalStep(b)
		if err != nil {
			return err
		}
		acc.AddVal(eval.Loss, eval.Accuracy, eval.Scored)
		return nil
	})
}

// drain runs fn on every batch of one epoch of src, timing the wait for each.
func drain(parent context.Context, src Source, fn func(model.Batch, time.Duration) error) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	batches, errs := src.Iterate(ctx)
	for {
		startData := time.Now()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b, ok := <-batches:
			if !ok {
				if err, ok := <-errs; ok && err != nil {
					return err
				}
				return parent.Err()
			}
			if err := fn(b, time.Since(startData)); err != nil {
				return err
			}
		}
	}
}

func logSummary(s metrics.EpochSummary, epochs int) {
	log.Printf("epoch=%d/%d took=%.3fs train_loss=%.6f val_loss=%.6f",
		s.Epoch, epochs, s.Duration.Seconds(), s.TrainLoss, s.ValLoss)
	if s.Scored {
		log.Printf("epoch=%d/%d val_accuracy=%.2f%%", s.Epoch, epochs, s.ValAccuracy*100)
	}
}
