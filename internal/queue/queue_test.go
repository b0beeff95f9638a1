package queue

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestQueue connects to a local Redis and skips the test when none is
// reachable, so the suite passes on machines without one.
func newTestQueue(t *testing.T) *Queue {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available at %s: %v", addr, err)
	}

	t.Cleanup(func() { rdb.Close() })

	return New(rdb, Config{
		MetadataTTL: time.Hour,
		MaxRetries:  3,
		Backoff:     Backoff{Base: 5 * time.Second, Cap: 10 * time.Minute},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// testJobType returns a unique type per test so parallel runs against a
// shared Redis never see each other's keys.
func testJobType(t *testing.T, q *Queue) string {
	t.Helper()

	jobType := "upload_videos_test_" + uuid.NewString()[:8]
	t.Cleanup(func() {
		q.rdb.Del(context.Background(), pendingKey(jobType), inflightKey(jobType))
	})
	return jobType
}

func TestQueue_EnqueueDequeue(t *testing.T) {
	q := newTestQueue(t)
	jobType := testJobType(t, q)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, jobType, json.RawMessage(`{"owner": 7}`), 0)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job, err := q.Dequeue(ctx, jobType, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)

	assert.Equal(t, id, job.ID)
	assert.Equal(t, jobType, job.Type)
	assert.JSONEq(t, `{"owner": 7}`, string(job.Payload))
	assert.Equal(t, StatusPending, job.Status)
	assert.Equal(t, 0, job.RetryCount)
	assert.Equal(t, 3, job.MaxRetries)
	assert.False(t, job.CreatedAt.IsZero())
	assert.Nil(t, job.RetryAfter)
}

func TestQueue_DequeueTimeout(t *testing.T) {
	q := newTestQueue(t)
	jobType := testJobType(t, q)

	job, err := q.Dequeue(context.Background(), jobType, time.Second)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestQueue_FIFOOrder(t *testing.T) {
	q := newTestQueue(t)
	jobType := testJobType(t, q)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, jobType, json.RawMessage(`{"owner": 1}`), 0)
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, jobType, json.RawMessage(`{"owner": 2}`), 0)
	require.NoError(t, err)

	job, err := q.Dequeue(ctx, jobType, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, first, job.ID)

	job, err = q.Dequeue(ctx, jobType, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, second, job.ID)
}

func TestQueue_RequeuePutsJobBackFirst(t *testing.T) {
	q := newTestQueue(t)
	jobType := testJobType(t, q)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, jobType, json.RawMessage(`{"owner": 1}`), 0)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, jobType, json.RawMessage(`{"owner": 2}`), 0)
	require.NoError(t, err)

	job, err := q.Dequeue(ctx, jobType, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, first, job.ID)

	require.NoError(t, q.Requeue(ctx, job))

	// the handed-back job is popped again before the one behind it
	job, err = q.Dequeue(ctx, jobType, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, first, job.ID)
	assert.Equal(t, StatusPending, job.Status)
}

func TestQueue_ProcessingLifecycle(t *testing.T) {
	q := newTestQueue(t)
	jobType := testJobType(t, q)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, jobType, json.RawMessage(`{"owner": 7}`), 0)
	require.NoError(t, err)

	_, err = q.Dequeue(ctx, jobType, time.Second)
	require.NoError(t, err)

	require.NoError(t, q.MarkProcessing(ctx, id))

	job, err := q.Job(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, job.Status)
	require.NotNil(t, job.StartedAt)
	assert.WithinDuration(t, time.Now().UTC(), *job.StartedAt, 5*time.Second)

	stats, err := q.Stats(ctx, jobType)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Pending)
	assert.Equal(t, int64(1), stats.InFlight)

	result := json.RawMessage(`{"videos_processed": 2}`)
	require.NoError(t, q.MarkCompleted(ctx, id, result))

	job, err = q.Job(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)
	require.NotNil(t, job.CompletedAt)
	assert.JSONEq(t, string(result), string(job.Result))

	stats, err = q.Stats(ctx, jobType)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.InFlight)
}

func TestQueue_MarkFailedSchedulesRetry(t *testing.T) {
	q := newTestQueue(t)
	jobType := testJobType(t, q)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, jobType, json.RawMessage(`{"owner": 7}`), 3)
	require.NoError(t, err)

	_, err = q.Dequeue(ctx, jobType, time.Second)
	require.NoError(t, err)
	require.NoError(t, q.MarkProcessing(ctx, id))

	before := time.Now().UTC()
	newID, err := q.MarkFailed(ctx, id, "boom", true)
	require.NoError(t, err)
	require.NotEmpty(t, newID)
	assert.NotEqual(t, id, newID)

	// old job is superseded, not terminal
	old, err := q.Job(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusRetrying, old.Status)
	assert.Equal(t, "boom", old.Error)

	next, err := q.Job(ctx, newID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, next.Status)
	assert.Equal(t, 1, next.RetryCount)
	assert.Equal(t, 3, next.MaxRetries)
	assert.JSONEq(t, `{"owner": 7}`, string(next.Payload))

	// first retry is delayed by base^1
	require.NotNil(t, next.RetryAfter)
	assert.WithinDuration(t, before.Add(5*time.Second), *next.RetryAfter, 2*time.Second)

	stats, err := q.Stats(ctx, jobType)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)
	assert.Equal(t, int64(0), stats.InFlight)
}

func TestQueue_MarkFailedExhaustsRetries(t *testing.T) {
	q := newTestQueue(t)
	jobType := testJobType(t, q)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, jobType, json.RawMessage(`{"owner": 7}`), 1)
	require.NoError(t, err)

	newID, err := q.MarkFailed(ctx, id, "first", true)
	require.NoError(t, err)
	require.NotEmpty(t, newID)

	// retry_count now equals max_retries, so the next failure is terminal
	finalID, err := q.MarkFailed(ctx, newID, "second", true)
	require.NoError(t, err)
	assert.Empty(t, finalID)

	job, err := q.Job(ctx, newID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, "second", job.Error)
	require.NotNil(t, job.FailedAt)

	// drain the scheduled retry so cleanup leaves nothing behind
	_, err = q.Dequeue(ctx, jobType, time.Second)
	require.NoError(t, err)
}

func TestQueue_MarkFailedNoRetry(t *testing.T) {
	q := newTestQueue(t)
	jobType := testJobType(t, q)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, jobType, json.RawMessage(`not even json`), 3)
	require.NoError(t, err)

	newID, err := q.MarkFailed(ctx, id, "invalid payload", false)
	require.NoError(t, err)
	assert.Empty(t, newID)

	job, err := q.Job(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, "invalid payload", job.Error)
}

func TestQueue_ManualRetryResetsCount(t *testing.T) {
	q := newTestQueue(t)
	jobType := testJobType(t, q)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, jobType, json.RawMessage(`{"owner": 7}`), 2)
	require.NoError(t, err)

	_, err = q.MarkFailed(ctx, id, "boom", false)
	require.NoError(t, err)

	newID, err := q.Retry(ctx, id)
	require.NoError(t, err)
	require.NotEmpty(t, newID)
	assert.NotEqual(t, id, newID)

	next, err := q.Job(ctx, newID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, next.Status)
	assert.Equal(t, 0, next.RetryCount)
	assert.Equal(t, 2, next.MaxRetries)
	assert.Nil(t, next.RetryAfter)
	assert.JSONEq(t, `{"owner": 7}`, string(next.Payload))
}

func TestQueue_ExpiredMetadataNoops(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	missing := uuid.NewString()

	_, err := q.Job(ctx, missing)
	assert.ErrorIs(t, err, ErrJobNotFound)

	err = q.MarkProcessing(ctx, missing)
	assert.ErrorIs(t, err, ErrJobNotFound)

	err = q.MarkCompleted(ctx, missing, nil)
	assert.ErrorIs(t, err, ErrJobNotFound)

	_, err = q.MarkFailed(ctx, missing, "boom", true)
	assert.ErrorIs(t, err, ErrJobNotFound)

	_, err = q.Retry(ctx, missing)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestQueue_SweepStale(t *testing.T) {
	q := newTestQueue(t)
	jobType := testJobType(t, q)
	ctx := context.Background()

	staleID, err := q.Enqueue(ctx, jobType, json.RawMessage(`{"owner": 7}`), 0)
	require.NoError(t, err)
	freshID, err := q.Enqueue(ctx, jobType, json.RawMessage(`{"owner": 8}`), 0)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = q.Dequeue(ctx, jobType, time.Second)
		require.NoError(t, err)
	}

	require.NoError(t, q.MarkProcessing(ctx, staleID))
	require.NoError(t, q.MarkProcessing(ctx, freshID))

	// backdate the stale job past the sweep cutoff
	backdated := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339Nano)
	require.NoError(t, q.rdb.HSet(ctx, metaKey(staleID), "started_at", backdated).Err())

	swept, err := q.SweepStale(ctx, jobType, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	stale, err := q.Job(ctx, staleID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stale.Status)
	assert.Contains(t, stale.Error, "timeout")
	require.NotNil(t, stale.FailedAt)

	fresh, err := q.Job(ctx, freshID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, fresh.Status)

	stats, err := q.Stats(ctx, jobType)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.InFlight)

	// a second sweep finds nothing
	swept, err = q.SweepStale(ctx, jobType, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, swept)
}

func TestJobFromMap(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		retryAt := started.Add(25 * time.Second)
		job := &Job{
			ID:         uuid.NewString(),
			Type:       TypeUploadVideos,
			Payload:    json.RawMessage(`{"owner": 7}`),
			Status:     StatusProcessing,
			RetryCount: 2,
			MaxRetries: 3,
			CreatedAt:  started.Add(-time.Minute),
			StartedAt:  &started,
			Error:      "previous transient failure",
			RetryAfter: &retryAt,
		}

		m := make(map[string]string, len(job.toMap()))
		for k, v := range job.toMap() {
			m[k] = v.(string)
		}

		got, err := jobFromMap(m)
		require.NoError(t, err)
		assert.Equal(t, job.ID, got.ID)
		assert.Equal(t, job.Status, got.Status)
		assert.Equal(t, job.RetryCount, got.RetryCount)
		assert.True(t, job.StartedAt.Equal(*got.StartedAt))
		assert.True(t, job.RetryAfter.Equal(*got.RetryAfter))
	})

	t.Run("missing id", func(t *testing.T) {
		_, err := jobFromMap(map[string]string{"type": TypeUploadVideos})
		require.Error(t, err)
	})

	t.Run("corrupt retry count", func(t *testing.T) {
		_, err := jobFromMap(map[string]string{
			"id":          "x",
			"retry_count": "two",
			"max_retries": "3",
			"created_at":  time.Now().UTC().Format(time.RFC3339Nano),
		})
		require.Error(t, err)
	})
}

func TestJob_Delayed(t *testing.T) {
	now := time.Now().UTC()

	job := &Job{}
	assert.False(t, job.Delayed(now))

	future := now.Add(time.Minute)
	job.RetryAfter = &future
	assert.True(t, job.Delayed(now))

	past := now.Add(-time.Minute)
	job.RetryAfter = &past
	assert.False(t, job.Delayed(now))
}
