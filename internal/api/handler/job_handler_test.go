package handler_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openreel/publisher-be/internal/api/handler"
	"github.com/openreel/publisher-be/internal/queue"
)

func TestEnqueueJob(t *testing.T) {
	fq := newStubQueue()
	r := newTestServer(&handler.Dependencies{Queue: fq})

	w := doRequest(t, r, http.MethodPost, "/api/v1/jobs", map[string]any{"owner": 7})
	require.Equal(t, http.StatusAccepted, w.Code)

	body := decodeBody(t, w)
	assert.NotEmpty(t, body["job_id"])
	assert.Equal(t, "pending", body["status"])

	require.Len(t, fq.enqueued, 1)
	call := fq.enqueued[0]
	assert.Equal(t, queue.TypeUploadVideos, call.jobType)
	assert.JSONEq(t, `{"owner": 7}`, string(call.payload))
	assert.Equal(t, 3, call.maxRetries)
}

func TestEnqueueJob_RetryBudgetOverride(t *testing.T) {
	fq := newStubQueue()
	r := newTestServer(&handler.Dependencies{Queue: fq})

	w := doRequest(t, r, http.MethodPost, "/api/v1/jobs", map[string]any{"owner": 7, "max_retries": 1})
	require.Equal(t, http.StatusAccepted, w.Code)

	require.Len(t, fq.enqueued, 1)
	assert.Equal(t, 1, fq.enqueued[0].maxRetries)
}

func TestEnqueueJob_InvalidBody(t *testing.T) {
	fq := newStubQueue()
	r := newTestServer(&handler.Dependencies{Queue: fq})

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing owner", map[string]any{}},
		{"zero owner", map[string]any{"owner": 0}},
		{"negative owner", map[string]any{"owner": -4}},
		{"wrong type", map[string]any{"owner": "seven"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, r, http.MethodPost, "/api/v1/jobs", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}

	assert.Empty(t, fq.enqueued)
}

func TestGetJob(t *testing.T) {
	fq := newStubQueue()
	job := &queue.Job{
		ID:         uuid.NewString(),
		Type:       queue.TypeUploadVideos,
		Status:     queue.StatusCompleted,
		RetryCount: 1,
		MaxRetries: 3,
		CreatedAt:  time.Now().UTC(),
	}
	fq.jobs[job.ID] = job
	r := newTestServer(&handler.Dependencies{Queue: fq})

	w := doRequest(t, r, http.MethodGet, "/api/v1/jobs/"+job.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, job.ID, body["job_id"])
	assert.Equal(t, "completed", body["status"])
	assert.EqualValues(t, 1, body["retry_count"])
	assert.EqualValues(t, 3, body["max_retries"])
}

func TestGetJob_NotFound(t *testing.T) {
	r := newTestServer(&handler.Dependencies{Queue: newStubQueue()})

	w := doRequest(t, r, http.MethodGet, "/api/v1/jobs/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetJob_MalformedID(t *testing.T) {
	r := newTestServer(&handler.Dependencies{Queue: newStubQueue()})

	w := doRequest(t, r, http.MethodGet, "/api/v1/jobs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRetryJob(t *testing.T) {
	fq := newStubQueue()
	job := &queue.Job{ID: uuid.NewString(), Type: queue.TypeUploadVideos, Status: queue.StatusFailed}
	fq.jobs[job.ID] = job
	r := newTestServer(&handler.Dependencies{Queue: fq})

	w := doRequest(t, r, http.MethodPost, "/api/v1/jobs/"+job.ID+"/retry", nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, fq.retried[job.ID], body["job_id"])
	assert.Equal(t, job.ID, body["retried_of"])
	assert.Equal(t, "pending", body["status"])
}

func TestRetryJob_NotFound(t *testing.T) {
	r := newTestServer(&handler.Dependencies{Queue: newStubQueue()})

	w := doRequest(t, r, http.MethodPost, "/api/v1/jobs/"+uuid.NewString()+"/retry", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
