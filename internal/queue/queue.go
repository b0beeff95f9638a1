package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultMetadataTTL bounds how long job metadata outlives its last update
	DefaultMetadataTTL = 24 * time.Hour
	// DefaultMaxRetries is applied when enqueue is called without a limit
	DefaultMaxRetries = 3
)

// Config tunes queue behavior
type Config struct {
	MetadataTTL time.Duration
	MaxRetries  int
	Backoff     Backoff
}

// Queue is a durable FIFO-per-type job queue on Redis. Pending job ids live in
// a list per type, metadata in a TTL-bound hash per job, and in-flight ids in
// a set per type so crashed workers leave a sweepable trace. All multi-key
// mutations run as MULTI/EXEC transactions; multiple worker processes may
// operate on the same queue concurrently.
type Queue struct {
	rdb         *redis.Client
	logger      *slog.Logger
	metadataTTL time.Duration
	maxRetries  int
	backoff     Backoff
}

// New creates a Queue, substituting defaults for zero config values.
func New(rdb *redis.Client, cfg Config, logger *slog.Logger) *Queue {
	ttl := cfg.MetadataTTL
	if ttl <= 0 {
		ttl = DefaultMetadataTTL
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	return &Queue{
		rdb:         rdb,
		logger:      logger,
		metadataTTL: ttl,
		maxRetries:  maxRetries,
		backoff:     NewBackoff(cfg.Backoff.Base, cfg.Backoff.Cap),
	}
}

func pendingKey(jobType string) string { return "jobs:pending:" + jobType }

func inflightKey(jobType string) string { return "jobs:inflight:" + jobType }

func metaKey(id string) string { return "jobs:meta:" + id }

// Enqueue persists job metadata and pushes the id onto the type's pending
// list. Metadata and push commit in one transaction, so a dequeuer never
// observes an id whose metadata is not yet visible.
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload json.RawMessage, maxRetries int) (string, error) {
	if maxRetries <= 0 {
		maxRetries = q.maxRetries
	}

	job := &Job{
		ID:         uuid.NewString(),
		Type:       jobType,
		Payload:    payload,
		Status:     StatusPending,
		MaxRetries: maxRetries,
		CreatedAt:  time.Now().UTC(),
	}

	if err := q.push(ctx, job); err != nil {
		return "", err
	}

	q.logger.Info("job enqueued",
		slog.String("job_id", job.ID),
		slog.String("type", jobType),
	)

	return job.ID, nil
}

func (q *Queue) push(ctx context.Context, job *Job) error {
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, metaKey(job.ID), job.toMap())
		pipe.Expire(ctx, metaKey(job.ID), q.metadataTTL)
		pipe.LPush(ctx, pendingKey(job.Type), job.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}
	return nil
}

// Dequeue blocks up to timeout for the next pending job and loads its
// metadata. Returns (nil, nil) when the timeout elapses with no work, and
// likewise when the popped id's metadata has already expired.
func (q *Queue) Dequeue(ctx context.Context, jobType string, timeout time.Duration) (*Job, error) {
	vals, err := q.rdb.BRPop(ctx, timeout, pendingKey(jobType)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue %s job: %w", jobType, err)
	}
	if len(vals) < 2 {
		return nil, fmt.Errorf("unexpected BRPop reply: %v", vals)
	}

	job, err := q.Job(ctx, vals[1])
	if errors.Is(err, ErrJobNotFound) {
		q.logger.Warn("dequeued job id with expired metadata",
			slog.String("job_id", vals[1]),
			slog.String("type", jobType),
		)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return job, nil
}

// Requeue returns a dequeued job to the consuming end of its type's pending
// list without touching metadata, so it is the next job popped. Used when a
// worker pops a job it can no longer hand to its pool, typically during
// shutdown.
func (q *Queue) Requeue(ctx context.Context, job *Job) error {
	if err := q.rdb.RPush(ctx, pendingKey(job.Type), job.ID).Err(); err != nil {
		return fmt.Errorf("failed to requeue job %s: %w", job.ID, err)
	}

	q.logger.Info("job requeued",
		slog.String("job_id", job.ID),
		slog.String("type", job.Type),
	)

	return nil
}

// Job loads a job's metadata by id
func (q *Queue) Job(ctx context.Context, id string) (*Job, error) {
	m, err := q.rdb.HGetAll(ctx, metaKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	if len(m) == 0 {
		return nil, ErrJobNotFound
	}

	job, err := jobFromMap(m)
	if err != nil {
		return nil, fmt.Errorf("corrupt metadata for job %s: %w", id, err)
	}

	return job, nil
}

// MarkProcessing flips the job to processing, stamps started_at and adds the
// id to the type's in-flight set.
func (q *Queue) MarkProcessing(ctx context.Context, id string) error {
	job, err := q.Job(ctx, id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, metaKey(id), map[string]any{
			"status":     string(StatusProcessing),
			"started_at": now.Format(time.RFC3339Nano),
		})
		pipe.Expire(ctx, metaKey(id), q.metadataTTL)
		pipe.SAdd(ctx, inflightKey(job.Type), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mark job %s processing: %w", id, err)
	}

	return nil
}

// MarkCompleted records a successful run and removes the job from the
// in-flight set. The optional result is stored on the job metadata.
func (q *Queue) MarkCompleted(ctx context.Context, id string, result json.RawMessage) error {
	job, err := q.Job(ctx, id)
	if err != nil {
		return err
	}

	fields := map[string]any{
		"status":       string(StatusCompleted),
		"completed_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if len(result) > 0 {
		fields["result"] = string(result)
	}

	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, metaKey(id), fields)
		pipe.Expire(ctx, metaKey(id), q.metadataTTL)
		pipe.SRem(ctx, inflightKey(job.Type), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mark job %s completed: %w", id, err)
	}

	q.logger.Info("job completed",
		slog.String("job_id", id),
		slog.String("type", job.Type),
	)

	return nil
}

// MarkFailed records a failure. With retry=true and retries left it spawns a
// new pending job carrying retry_count+1 and a retry_after computed from the
// backoff schedule; the old job is left in status retrying and the new job id
// is returned. Otherwise the job fails terminally and the returned id is
// empty.
func (q *Queue) MarkFailed(ctx context.Context, id string, jobErr string, retry bool) (string, error) {
	job, err := q.Job(ctx, id)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()

	if retry && job.RetryCount < job.MaxRetries {
		next := &Job{
			ID:         uuid.NewString(),
			Type:       job.Type,
			Payload:    job.Payload,
			Status:     StatusPending,
			RetryCount: job.RetryCount + 1,
			MaxRetries: job.MaxRetries,
			CreatedAt:  now,
		}
		retryAt := now.Add(q.backoff.Delay(next.RetryCount))
		next.RetryAfter = &retryAt

		_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, metaKey(id), map[string]any{
				"status": string(StatusRetrying),
				"error":  jobErr,
			})
			pipe.Expire(ctx, metaKey(id), q.metadataTTL)
			pipe.SRem(ctx, inflightKey(job.Type), id)
			pipe.HSet(ctx, metaKey(next.ID), next.toMap())
			pipe.Expire(ctx, metaKey(next.ID), q.metadataTTL)
			pipe.LPush(ctx, pendingKey(next.Type), next.ID)
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("failed to schedule retry for job %s: %w", id, err)
		}

		q.logger.Info("job scheduled for retry",
			slog.String("job_id", id),
			slog.String("new_job_id", next.ID),
			slog.Int("retry_count", next.RetryCount),
			slog.Time("retry_after", retryAt),
			slog.String("error", jobErr),
		)

		return next.ID, nil
	}

	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, metaKey(id), map[string]any{
			"status":    string(StatusFailed),
			"error":     jobErr,
			"failed_at": now.Format(time.RFC3339Nano),
		})
		pipe.Expire(ctx, metaKey(id), q.metadataTTL)
		pipe.SRem(ctx, inflightKey(job.Type), id)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to mark job %s failed: %w", id, err)
	}

	q.logger.Warn("job failed terminally",
		slog.String("job_id", id),
		slog.String("type", job.Type),
		slog.Int("retry_count", job.RetryCount),
		slog.String("error", jobErr),
	)

	return "", nil
}

// Retry re-enqueues a copy of the job with retry_count reset to zero,
// independent of the automatic backoff chain. Returns the new job id.
func (q *Queue) Retry(ctx context.Context, id string) (string, error) {
	job, err := q.Job(ctx, id)
	if err != nil {
		return "", err
	}

	next := &Job{
		ID:         uuid.NewString(),
		Type:       job.Type,
		Payload:    job.Payload,
		Status:     StatusPending,
		MaxRetries: job.MaxRetries,
		CreatedAt:  time.Now().UTC(),
	}

	if err := q.push(ctx, next); err != nil {
		return "", err
	}

	q.logger.Info("job manually retried",
		slog.String("job_id", id),
		slog.String("new_job_id", next.ID),
	)

	return next.ID, nil
}

// SweepStale terminally fails every in-flight job of the given type whose
// started_at predates now-timeout. The SRem return value arbitrates between
// concurrent sweepers so each stale job is failed exactly once. Swept jobs
// are never auto-retried; recovery is a manual retry.
func (q *Queue) SweepStale(ctx context.Context, jobType string, timeout time.Duration) (int, error) {
	ids, err := q.rdb.SMembers(ctx, inflightKey(jobType)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list in-flight jobs: %w", err)
	}

	cutoff := time.Now().UTC().Add(-timeout)
	swept := 0

	for _, id := range ids {
		job, err := q.Job(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			q.rdb.SRem(ctx, inflightKey(jobType), id)
			continue
		}
		if err != nil {
			return swept, err
		}

		if job.Status != StatusProcessing || job.StartedAt == nil || !job.StartedAt.Before(cutoff) {
			continue
		}

		removed, err := q.rdb.SRem(ctx, inflightKey(jobType), id).Result()
		if err != nil {
			return swept, fmt.Errorf("failed to claim stale job %s: %w", id, err)
		}
		if removed == 0 {
			// another sweeper got there first
			continue
		}

		_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, metaKey(id), map[string]any{
				"status":    string(StatusFailed),
				"error":     "job exceeded processing timeout",
				"failed_at": time.Now().UTC().Format(time.RFC3339Nano),
			})
			pipe.Expire(ctx, metaKey(id), q.metadataTTL)
			return nil
		})
		if err != nil {
			return swept, fmt.Errorf("failed to fail stale job %s: %w", id, err)
		}

		q.logger.Warn("swept stale job",
			slog.String("job_id", id),
			slog.String("type", jobType),
			slog.Time("started_at", *job.StartedAt),
		)
		swept++
	}

	return swept, nil
}

// Stats reports queue depth for one job type
type Stats struct {
	Pending  int64 `json:"pending"`
	InFlight int64 `json:"in_flight"`
}

// Stats returns the pending list length and in-flight set cardinality.
func (q *Queue) Stats(ctx context.Context, jobType string) (Stats, error) {
	pending, err := q.rdb.LLen(ctx, pendingKey(jobType)).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read pending depth: %w", err)
	}

	inflight, err := q.rdb.SCard(ctx, inflightKey(jobType)).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read in-flight depth: %w", err)
	}

	return Stats{Pending: pending, InFlight: inflight}, nil
}
