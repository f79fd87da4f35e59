package metrics

import "time"

// Window accumulates timing stats across multiple steps.
type Window struct {
	samples  int
	data     time.Duration
	compute  time.Duration
	steps    int
	lossSum  float64
	lastLoss float64
}

// Record adds a new measurement to the window.
func (w *Window) Record(batchSize int, dataTime, computeTime time.Duration, loss float64) {
	w.samples += batchSize
	w.data += dataTime
	w.compute += computeTime
	w.steps++
	w.lossSum += loss
	w.lastLoss = loss
}

// Steps is the number of measurements since the last snapshot.
func (w *Window) Steps() int { return w.steps }

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{}
	total := w.data + w.compute
	if total > 0 {
		snap.ImagesPerSec = float64(w.samples) / total.Seconds()
	}
	if w.steps > 0 {
		snap.AvgDataMS = (w.data.Seconds() * 1000) / float64(w.steps)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(w.steps)
		snap.MeanLoss = w.lossSum / float64(w.steps)
	}
	snap.LastLoss = w.lastLoss

	*w = Window{}
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	ImagesPerSec float64
	AvgDataMS    float64
	AvgComputeMS float64
	MeanLoss     float64
	LastLoss     float64
}

// Epoch averages per-batch train and validation results over one epoch.
type Epoch struct {
	Number int

	start        time.Time
	trainLoss    float64
	trainBatches int
	valLoss      float64
	valAcc       float64
	valBatches   int
	scored       bool
}

// StartEpoch begins accumulating epoch number n at now.
func StartEpoch(n int, now time.Time) *Epoch {
	return &Epoch{Number: n, start: now}
}

func (e *Epoch) AddTrain(loss float64) {
	e.trainLoss += loss
	e.trainBatches++
}

// AddVal records one validation batch. Accuracy counts only when scored.
func (e *Epoch) AddVal(loss, accuracy float64, scored bool) {
	e.valLoss += loss
	e.valBatches++
	if scored {
		e.valAcc += accuracy
		e.scored = true
	}
}

// Finish returns the epoch averages. Phases without batches average to zero.
func (e *Epoch) Finish(now time.Time) EpochSummary {
	s := EpochSummary{
		Epoch:        e.Number,
		Duration:     now.Sub(e.start),
		TrainBatches: e.trainBatches,
		ValBatches:   e.valBatches,
		Scored:       e.scored,
	}
	if e.trainBatches > 0 {
		s.TrainLoss = e.trainLoss / float64(e.trainBatches)
	}
	if e.valBatches > 0 {
		s.ValLoss = e.valLoss / float64(e.valBatches)
		s.ValAccuracy = e.valAcc / float64(e.valBatches)
	}
	return s
}

// EpochSummary is the per-epoch report.
type EpochSummary struct {
	Epoch        int
	Duration     time.Duration
	TrainLoss    float64
	TrainBatches int
	ValLoss      float64
	ValAccuracy  float64
	ValBatches   int
	Scored       bool
}
