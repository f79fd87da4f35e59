package dataset

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"coco/internal/model"
	"coco/internal/nn"
)

// ErrStopped reports an epoch cut short by Stop.
var ErrStopped = errors.New("loader: daemons stopped")

// ProcessFunc transforms a decoded batch in place before it is handed out.
type ProcessFunc func(b *model.Batch) error

// Loader turns a Reader into epochs of fixed-size batches with one-hot
// targets. Without daemons a single goroutine decodes batches in order.
type Loader struct {
	Reader    *Reader
	Process   ProcessFunc
	BatchSize int
	Workers   int

	mu     sync.Mutex
	epoch  int
	jobs   chan batchJob
	done   <-chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type batchJob struct {
	id      int
	indices []int
	results chan<- batchResult
}

type batchResult struct {
	id    int
	batch model.Batch
	err   error
}

// StartDaemons launches the decoding workers. They run until ctx is done or
// Stop is called.
func (l *Loader) StartDaemons(parent context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.jobs != nil {
		return errors.New("loader: daemons already running")
	}
	workers := l.Workers
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(parent)
	l.cancel = cancel
	l.done = ctx.Done()
	l.jobs = make(chan batchJob, workers)
	for i := 0; i < workers; i++ {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.worker(ctx, l.jobs)
		}()
	}
	return nil
}

// Stop terminates the daemons and waits for them to exit.
func (l *Loader) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	l.cancel, l.jobs, l.done = nil, nil, nil
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	l.wg.Wait()
}

func (l *Loader) worker(ctx context.Context, jobs <-chan batchJob) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-jobs:
			b, err := l.decode(job.indices)
			// results is buffered for every batch of the epoch.
			job.results <- batchResult{id: job.id, batch: b, err: err}
		}
	}
}

// Iterate yields the next epoch's batches in order. The last batch may be
// short. Both channels close once the epoch is over.
func (l *Loader) Iterate(ctx context.Context) (<-chan model.Batch, <-chan error) {
	out := make(chan model.Batch)
	errCh := make(chan error, 1)
	if l.Reader == nil || l.BatchSize <= 0 {
		errCh <- errors.New("loader: reader and positive batch size required")
		close(out)
		close(errCh)
		return out, errCh
	}

	l.mu.Lock()
	epoch := l.epoch
	l.epoch++
	jobs, done := l.jobs, l.done
	l.mu.Unlock()

	batches := split(l.Reader.Order(epoch), l.BatchSize)
	if jobs == nil {
		go func() {
			defer close(out)
			defer close(errCh)
			for _, indices := range batches {
				b, err := l.decode(indices)
				if err != nil {
					errCh <- err
					return
				}
				select {
				case <-ctx.Done():
					return
				case out <- b:
				}
			}
		}()
		return out, errCh
	}

	results := make(chan batchResult, len(batches))
	window := 2 * cap(jobs)
	if window < 1 {
		window = 1
	}
	slots := make(chan struct{}, window)
	go func() {
		for id, indices := range batches {
			select {
			case <-ctx.Done():
				return
			case slots <- struct{}{}:
			}
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case jobs <- batchJob{id: id, indices: indices, results: results}:
			}
		}
	}()
	go func() {
		defer close(out)
		defer close(errCh)
		runAggregator(ctx, done, len(batches), results, slots, out, errCh)
	}()
	return out, errCh
}

// runAggregator emits results in id order, releasing a slot per emitted batch.
func runAggregator(ctx context.Context, done <-chan struct{}, total int, results <-chan batchResult, slots <-chan struct{}, out chan<- model.Batch, errCh chan<- error) {
	pending := make(map[int]batchResult)
	next := 0
	for next < total {
		r, ok := pending[next]
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-done:
				errCh <- ErrStopped
				return
			case r = <-results:
				pending[r.id] = r
			}
			continue
		}
		delete(pending, next)
		if r.err != nil {
			errCh <- r.err
			return
		}
		select {
		case <-ctx.Done():
			return
		case out <- r.batch:
		}
		<-slots
		next++
	}
}

func split(order []int, size int) [][]int {
	var batches [][]int
	for start := 0; start < len(order); start += size {
		end := start + size
		if end > len(order) {
			end = len(order)
		}
		batches = append(batches, order[start:end])
	}
	return batches
}

// decode reads the records at indices into (N, C, H, W) inputs and (N, K)
// one-hot targets, then applies Process.
func (l *Loader) decode(indices []int) (model.Batch, error) {
	c, h, w := l.Reader.Shape()
	k := len(l.Reader.Classes())
	per := c * h * w
	inputs := nn.New(len(indices), c, h, w)
	targets := nn.New(len(indices), k)
	for n, idx := range indices {
		ex, err := l.Reader.Read(idx)
		if err != nil {
			return model.Batch{}, err
		}
		if ex.Label < 0 || ex.Label >= k {
			return model.Batch{}, errors.Errorf("record %d: label %d outside %d classes", idx, ex.Label, k)
		}
		dst := inputs.Data[n*per : (n+1)*per]
		for i, v := range ex.Image {
			dst[i] = float64(v)
		}
		targets.Data[n*k+ex.Label] = 1
	}
	b := model.Batch{Inputs: inputs, Targets: targets}
	if l.Process != nil {
		if err := l.Process(&b); err != nil {
			return model.Batch{}, errors.Wrap(err, "process batch")
		}
	}
	return b, nil
}
