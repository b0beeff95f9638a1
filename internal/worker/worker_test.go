package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openreel/publisher-be/internal/orchestrator"
	"github.com/openreel/publisher-be/internal/queue"
)

type fakeQueue struct {
	mu         sync.Mutex
	pending    []*queue.Job
	processing []string
	completed  map[string]json.RawMessage
	failed     map[string]string
	retryFlags map[string]bool
	requeued   []string
	sweeps     int
	claimErr   error
}

func newFakeQueue(jobs ...*queue.Job) *fakeQueue {
	return &fakeQueue{
		pending:    jobs,
		completed:  make(map[string]json.RawMessage),
		failed:     make(map[string]string),
		retryFlags: make(map[string]bool),
	}
}

func (f *fakeQueue) Dequeue(_ context.Context, _ string, _ time.Duration) (*queue.Job, error) {
	f.mu.Lock()
	if len(f.pending) > 0 {
		job := f.pending[0]
		f.pending = f.pending[1:]
		f.mu.Unlock()
		return job, nil
	}
	f.mu.Unlock()

	// stand-in for the blocking pop
	time.Sleep(10 * time.Millisecond)
	return nil, nil
}

func (f *fakeQueue) Requeue(_ context.Context, job *queue.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requeued = append(f.requeued, job.ID)
	return nil
}

func (f *fakeQueue) MarkProcessing(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return f.claimErr
	}
	f.processing = append(f.processing, id)
	return nil
}

func (f *fakeQueue) MarkCompleted(_ context.Context, id string, result json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[id] = result
	return nil
}

func (f *fakeQueue) MarkFailed(_ context.Context, id string, jobErr string, retry bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] = jobErr
	f.retryFlags[id] = retry
	if retry {
		return uuid.NewString(), nil
	}
	return "", nil
}

func (f *fakeQueue) SweepStale(_ context.Context, _ string, _ time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return 0, nil
}

func (f *fakeQueue) completedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.completed)
}

func (f *fakeQueue) failedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.failed)
}

func (f *fakeQueue) requeuedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requeued...)
}

type fakeRunner struct {
	mu     sync.Mutex
	owners []int64
	err    error
}

func (f *fakeRunner) Run(_ context.Context, owner int64) (*orchestrator.RunSummary, error) {
	f.mu.Lock()
	f.owners = append(f.owners, owner)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	return &orchestrator.RunSummary{Owner: owner, Videos: 1, Uploads: 2}, nil
}

func (f *fakeRunner) ownersSeen() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.owners...)
}

func newTestWorker(q JobQueue, r Runner) *Worker {
	return NewWorker(&Config{
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		Queue:          q,
		Runner:         r,
		Concurrency:    2,
		JobTimeout:     time.Second,
		DequeueTimeout: 20 * time.Millisecond,
		StaleTimeout:   time.Minute,
	})
}

func testJob(payload string) *queue.Job {
	return &queue.Job{
		ID:         uuid.NewString(),
		Type:       queue.TypeUploadVideos,
		Payload:    json.RawMessage(payload),
		Status:     queue.StatusPending,
		MaxRetries: 3,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestWorker_ProcessesJobsFromQueue(t *testing.T) {
	first := testJob(`{"owner": 7}`)
	second := testJob(`{"owner": 8}`)
	fq := newFakeQueue(first, second)
	fr := &fakeRunner{}
	w := newTestWorker(fq, fr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, w.Start(context.Background()))
	}()

	require.Eventually(t, func() bool { return fq.completedCount() == 2 }, 2*time.Second, 10*time.Millisecond)
	w.Stop()
	<-done

	assert.ElementsMatch(t, []int64{7, 8}, fr.ownersSeen())
	assert.ElementsMatch(t, []string{first.ID, second.ID}, fq.processing)
	assert.Greater(t, fq.sweeps, 0, "every dispatch iteration sweeps stale jobs")

	// the run summary is persisted as the job result
	result, ok := fq.completed[first.ID]
	require.True(t, ok)
	var summary orchestrator.RunSummary
	require.NoError(t, json.Unmarshal(result, &summary))
	assert.Equal(t, int64(7), summary.Owner)
	assert.Equal(t, 2, summary.Uploads)
}

func TestWorker_PassFailureSchedulesRetry(t *testing.T) {
	job := testJob(`{"owner": 7}`)
	fq := newFakeQueue(job)
	fr := &fakeRunner{err: errors.New("dial tcp: connection refused")}
	w := newTestWorker(fq, fr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, w.Start(context.Background()))
	}()

	require.Eventually(t, func() bool { return fq.failedCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	w.Stop()
	<-done

	assert.Contains(t, fq.failed[job.ID], "connection refused")
	assert.True(t, fq.retryFlags[job.ID], "infrastructure failures re-enter the retry chain")
	assert.Empty(t, fq.completed)
}

func TestWorker_MalformedPayloadNotRetried(t *testing.T) {
	job := testJob(`{"owner": "seven"}`)
	fq := newFakeQueue(job)
	fr := &fakeRunner{}
	w := newTestWorker(fq, fr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, w.Start(context.Background()))
	}()

	require.Eventually(t, func() bool { return fq.failedCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	w.Stop()
	<-done

	assert.Contains(t, fq.failed[job.ID], "invalid payload")
	assert.False(t, fq.retryFlags[job.ID], "a payload that cannot parse never parses; no retry")
	assert.Empty(t, fr.ownersSeen())
}

func TestProcessJob_EmptyPayloadNotRetried(t *testing.T) {
	job := testJob(``)
	fq := newFakeQueue()
	fr := &fakeRunner{}
	w := newTestWorker(fq, fr)

	w.processJob(context.Background(), job)

	assert.Contains(t, fq.failed[job.ID], "invalid payload")
	assert.False(t, fq.retryFlags[job.ID])
	assert.Empty(t, fr.ownersSeen())
}

func TestProcessJob_DelayedJobWaitsForRetryWindow(t *testing.T) {
	job := testJob(`{"owner": 7}`)
	at := time.Now().UTC().Add(80 * time.Millisecond)
	job.RetryAfter = &at
	job.RetryCount = 1

	fq := newFakeQueue()
	fr := &fakeRunner{}
	w := newTestWorker(fq, fr)

	start := time.Now()
	w.processJob(context.Background(), job)

	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Equal(t, []int64{7}, fr.ownersSeen())
	assert.Contains(t, fq.completed, job.ID)
}

func TestProcessJob_StopDuringDelayHandsJobBack(t *testing.T) {
	job := testJob(`{"owner": 7}`)
	at := time.Now().UTC().Add(time.Hour)
	job.RetryAfter = &at

	fq := newFakeQueue()
	fr := &fakeRunner{}
	w := newTestWorker(fq, fr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.processJob(context.Background(), job)
	}()

	time.Sleep(20 * time.Millisecond)
	w.Stop()
	<-done

	assert.Equal(t, []string{job.ID}, fq.requeuedIDs())
	assert.Empty(t, fr.ownersSeen())
	assert.Empty(t, fq.processing, "an unclaimed job stays unclaimed")
}

func TestProcessJob_ClaimFailureSkipsJob(t *testing.T) {
	job := testJob(`{"owner": 7}`)
	fq := newFakeQueue()
	fq.claimErr = queue.ErrJobNotFound
	fr := &fakeRunner{}
	w := newTestWorker(fq, fr)

	w.processJob(context.Background(), job)

	assert.Empty(t, fr.ownersSeen())
	assert.Empty(t, fq.completed)
	assert.Empty(t, fq.failed)
}

func TestParseOwner(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		owner   int64
		wantErr bool
	}{
		{"valid owner", `{"owner": 42}`, 42, false},
		{"extra fields ignored", `{"owner": 7, "source": "api"}`, 7, false},
		{"empty payload", ``, 0, true},
		{"owner missing", `{}`, 0, true},
		{"owner zero", `{"owner": 0}`, 0, true},
		{"owner wrong type", `{"owner": "seven"}`, 0, true},
		{"not json", `owner=7`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner, err := parseOwner(json.RawMessage(tt.payload))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.owner, owner)
		})
	}
}
