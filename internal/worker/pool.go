package worker

import (
	"context"
	"fmt"
	"log/slog"
)

// spawnWorkerPool spawns N processor goroutines based on concurrency
// configuration.
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}

	w.logger.Info("worker pool spawned", slog.Int("worker_count", w.concurrency))
}

// workerLoop is the main processing loop for each pool goroutine. It drains
// the jobs channel until the dispatcher closes it, so a job that was already
// handed over is always processed.
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	logger := w.logger.With(slog.String("worker", fmt.Sprintf("processor-%d", workerNum)))
	logger.Debug("worker goroutine started")

	for job := range w.jobsChan {
		logger.Info("worker received job",
			slog.String("job_id", job.ID),
			slog.String("type", job.Type),
			slog.Int("retry_count", job.RetryCount),
		)

		w.processJob(ctx, job)
	}

	logger.Debug("worker goroutine stopped")
}
