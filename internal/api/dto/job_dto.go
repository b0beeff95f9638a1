package dto

import (
	"encoding/json"
	"time"

	"github.com/openreel/publisher-be/internal/queue"
)

type EnqueueJobRequest struct {
	Owner      int64 `json:"owner" binding:"required,gt=0"`
	MaxRetries *int  `json:"max_retries,omitempty" binding:"omitempty,gte=0"`
}

type EnqueueJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type JobResponse struct {
	JobID       string          `json:"job_id"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	RetryCount  int             `json:"retry_count"`
	MaxRetries  int             `json:"max_retries"`
	Error       string          `json:"error,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	FailedAt    *time.Time      `json:"failed_at,omitempty"`
	RetryAfter  *time.Time      `json:"retry_after,omitempty"`
}

// NewJobResponse maps queue metadata onto the wire shape.
func NewJobResponse(job *queue.Job) JobResponse {
	return JobResponse{
		JobID:       job.ID,
		Type:        job.Type,
		Status:      string(job.Status),
		Payload:     job.Payload,
		RetryCount:  job.RetryCount,
		MaxRetries:  job.MaxRetries,
		Error:       job.Error,
		Result:      job.Result,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		FailedAt:    job.FailedAt,
		RetryAfter:  job.RetryAfter,
	}
}
