package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/openreel/publisher-be/internal/orchestrator"
	"github.com/openreel/publisher-be/internal/queue"
)

const (
	defaultConcurrency    = 4
	defaultJobTimeout     = 15 * time.Minute
	defaultDequeueTimeout = 5 * time.Second
	defaultStaleTimeout   = 30 * time.Minute
)

// JobQueue is the queue surface the worker consumes.
type JobQueue interface {
	Dequeue(ctx context.Context, jobType string, timeout time.Duration) (*queue.Job, error)
	Requeue(ctx context.Context, job *queue.Job) error
	MarkProcessing(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string, result json.RawMessage) error
	MarkFailed(ctx context.Context, id string, jobErr string, retry bool) (string, error)
	SweepStale(ctx context.Context, jobType string, timeout time.Duration) (int, error)
}

// Runner executes one upload pass for an owner.
type Runner interface {
	Run(ctx context.Context, owner int64) (*orchestrator.RunSummary, error)
}

// Config holds worker configuration
type Config struct {
	Logger         *slog.Logger
	Queue          JobQueue
	Runner         Runner
	Concurrency    int
	JobTimeout     time.Duration
	DequeueTimeout time.Duration
	StaleTimeout   time.Duration
}

// Worker dequeues upload jobs and drives orchestration passes through a
// bounded pool of processor goroutines.
type Worker struct {
	logger         *slog.Logger
	queue          JobQueue
	runner         Runner
	concurrency    int
	jobTimeout     time.Duration
	dequeueTimeout time.Duration
	staleTimeout   time.Duration

	jobsChan chan *queue.Job
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopChan chan struct{}
}

// NewWorker creates a worker, substituting defaults for zero config values.
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}
	dequeueTimeout := cfg.DequeueTimeout
	if dequeueTimeout <= 0 {
		dequeueTimeout = defaultDequeueTimeout
	}
	staleTimeout := cfg.StaleTimeout
	if staleTimeout <= 0 {
		staleTimeout = defaultStaleTimeout
	}

	return &Worker{
		logger:         cfg.Logger,
		queue:          cfg.Queue,
		runner:         cfg.Runner,
		concurrency:    concurrency,
		jobTimeout:     jobTimeout,
		dequeueTimeout: dequeueTimeout,
		staleTimeout:   staleTimeout,
		jobsChan:       make(chan *queue.Job),
		stopChan:       make(chan struct{}),
	}
}

// Start runs the dispatcher and the processor pool until the context is
// canceled or Stop is called, then drains the pool before returning.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("starting worker",
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
		slog.Duration("stale_timeout", w.staleTimeout),
	)

	w.spawnWorkerPool(ctx)
	w.dispatch(ctx)

	close(w.jobsChan)
	w.wg.Wait()
	w.logger.Info("worker stopped")

	return nil
}

// Stop asks Start to wind down. Safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("stopping worker")
		close(w.stopChan)
	})
}

// dispatch is the main poll loop: each iteration fails jobs left in
// processing by crashed workers, then blocks for the next job and hands it
// to the pool.
func (w *Worker) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		default:
		}

		if n, err := w.queue.SweepStale(ctx, queue.TypeUploadVideos, w.staleTimeout); err != nil {
			if ctx.Err() == nil {
				w.logger.Warn("stale sweep failed", slog.String("error", err.Error()))
			}
		} else if n > 0 {
			w.logger.Info("swept stale jobs", slog.Int("count", n))
		}

		job, err := w.queue.Dequeue(ctx, queue.TypeUploadVideos, w.dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("dequeue failed", slog.String("error", err.Error()))

			// pause so an unreachable queue does not spin the loop
			select {
			case <-time.After(w.dequeueTimeout):
			case <-ctx.Done():
				return
			case <-w.stopChan:
				return
			}
			continue
		}
		if job == nil {
			continue
		}

		select {
		case w.jobsChan <- job:
		case <-ctx.Done():
			w.handBack(job)
			return
		case <-w.stopChan:
			w.handBack(job)
			return
		}
	}
}

// handBack returns a popped job to the queue when no processor can take it
// anymore, so shutdown never swallows work.
func (w *Worker) handBack(job *queue.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := w.queue.Requeue(ctx, job); err != nil {
		w.logger.Error("failed to requeue job on shutdown",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}
