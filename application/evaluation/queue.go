package evaluation

import (
	"context"
	"errors"
	"fmt"

	"cv-copilot/domain"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the number of evaluations processed at once.
const DefaultConcurrency = 3

// Delivery is one queued evaluation id. Ack is called once the job reached a
// terminal state or was skipped.
type Delivery struct {
	JobID string
	Ack   func() error
}

// Queue carries evaluation ids from submission to the workers.
type Queue interface {
	Publish(ctx context.Context, jobID string) error
	// Deliveries streams queued ids until ctx is done, then closes the channel.
	Deliveries(ctx context.Context) (<-chan Delivery, error)
}

// Processor runs one evaluation to a terminal state.
type Processor interface {
	Run(ctx context.Context, jobID string) error
}

var ErrQueueFull = errors.New("evaluation queue is full")

// MemoryQueue is an in-process queue. Ids still buffered at shutdown are lost.
type MemoryQueue struct {
	jobs chan string
}

func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 1024
	}
	return &MemoryQueue{jobs: make(chan string, buffer)}
}

// Publish never blocks; a full buffer is reported as a dependency failure.
func (q *MemoryQueue) Publish(_ context.Context, jobID string) error {
	select {
	case q.jobs <- jobID:
		return nil
	default:
		return domain.Dependency("enqueue evaluation", ErrQueueFull)
	}
}

func (q *MemoryQueue) Deliveries(ctx context.Context) (<-chan Delivery, error) {
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case id := <-q.jobs:
				select {
				case out <- Delivery{JobID: id, Ack: func() error { return nil }}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Runner is the bounded worker pool draining a Queue.
type Runner struct {
	queue       Queue
	processor   Processor
	concurrency int
	logger      *zap.Logger
}

func NewRunner(queue Queue, processor Processor, concurrency int, logger *zap.Logger) *Runner {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		queue:       queue,
		processor:   processor,
		concurrency: concurrency,
		logger:      logger.With(zap.String("component", "runner")),
	}
}

// Run blocks until ctx is done and the in-flight jobs have finished. Jobs are
// not cancelled by ctx once started.
func (r *Runner) Run(ctx context.Context) error {
	deliveries, err := r.queue.Deliveries(ctx)
	if err != nil {
		return err
	}

	r.logger.Info("evaluation workers started", zap.Int("concurrency", r.concurrency))

	var g errgroup.Group
	for i := 0; i < r.concurrency; i++ {
		worker := i
		g.Go(func() error {
			for d := range deliveries {
				r.handle(context.WithoutCancel(ctx), worker, d)
			}
			return nil
		})
	}
	err = g.Wait()
	r.logger.Info("evaluation workers stopped")
	return err
}

func (r *Runner) handle(ctx context.Context, worker int, d Delivery) {
	logger := r.logger.With(zap.Int("worker", worker), zap.String("evaluation_id", d.JobID))
	logger.Debug("evaluation picked up")

	if err := r.run(ctx, d.JobID); err != nil {
		logger.Warn("evaluation finished with error", zap.Error(err))
	}
	if d.Ack != nil {
		if err := d.Ack(); err != nil {
			logger.Error("failed to ack delivery", zap.Error(err))
		}
	}
}

// run keeps a panicking processor from taking the worker down.
func (r *Runner) run(ctx context.Context, jobID string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("evaluation panicked: %v", rec)
		}
	}()
	return r.processor.Run(ctx, jobID)
}
