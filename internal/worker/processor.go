package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openreel/publisher-be/internal/queue"
)

// uploadPayload is the body of an upload_videos job: which owner's videos the
// pass should process.
type uploadPayload struct {
	Owner int64 `json:"owner"`
}

func parseOwner(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 {
		return 0, errors.New("payload is empty")
	}

	var p uploadPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return 0, err
	}
	if p.Owner == 0 {
		return 0, errors.New("payload carries no owner")
	}

	return p.Owner, nil
}

// processJob drives one job: honor the retry delay, claim it, run the upload
// pass and record the outcome. Destination failures are recorded on the
// videos by the pass itself and never fail the job; only infrastructure
// errors trigger the queue's retry chain.
func (w *Worker) processJob(ctx context.Context, job *queue.Job) {
	logger := w.logger.With(slog.String("job_id", job.ID))

	if job.Delayed(time.Now().UTC()) {
		wait := time.Until(*job.RetryAfter)
		logger.Info("job delayed, waiting for retry window", slog.Duration("wait", wait))

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			w.handBack(job)
			return
		case <-w.stopChan:
			w.handBack(job)
			return
		}
	}

	if err := w.queue.MarkProcessing(ctx, job.ID); err != nil {
		// metadata may have expired while the job sat delayed
		logger.Warn("failed to claim job", slog.String("error", err.Error()))
		return
	}

	owner, err := parseOwner(job.Payload)
	if err != nil {
		logger.Error("invalid job payload",
			slog.String("payload", string(job.Payload)),
			slog.String("error", err.Error()),
		)
		w.finishFailed(job, fmt.Sprintf("invalid payload: %v", err), false)
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	summary, err := w.runner.Run(jobCtx, owner)
	if err != nil {
		logger.Error("upload pass failed",
			slog.Int64("owner", owner),
			slog.String("error", err.Error()),
		)
		w.finishFailed(job, err.Error(), true)
		return
	}

	result, err := json.Marshal(summary)
	if err != nil {
		logger.Warn("failed to encode run summary", slog.String("error", err.Error()))
		result = nil
	}

	w.finishCompleted(job, result)
	logger.Info("job completed",
		slog.Int64("owner", owner),
		slog.Int("videos", summary.Videos),
		slog.Int("uploads", summary.Uploads),
		slog.Int("failures", summary.Failures),
		slog.Int("deferred", summary.Deferred),
	)
}

// markCtx returns a short independent context for terminal status writes, so
// outcomes are recorded even when the worker's root context is already gone.
func markCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

func (w *Worker) finishCompleted(job *queue.Job, result json.RawMessage) {
	ctx, cancel := markCtx()
	defer cancel()

	if err := w.queue.MarkCompleted(ctx, job.ID, result); err != nil {
		w.logger.Error("failed to mark job completed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (w *Worker) finishFailed(job *queue.Job, jobErr string, retry bool) {
	ctx, cancel := markCtx()
	defer cancel()

	newID, err := w.queue.MarkFailed(ctx, job.ID, jobErr, retry)
	if err != nil {
		w.logger.Error("failed to mark job failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	if newID != "" {
		w.logger.Info("retry scheduled",
			slog.String("job_id", job.ID),
			slog.String("new_job_id", newID),
		)
	}
}
