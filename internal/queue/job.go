package queue

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// TypeUploadVideos is the single registered job type. The payload carries the
// owner whose videos the worker should process.
const TypeUploadVideos = "upload_videos"

// Status represents the lifecycle state of a job
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusRetrying   Status = "retrying"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Job is the persisted metadata of one queued unit of work. A retried job is a
// new Job with its own id; the failed predecessor is left in status retrying.
type Job struct {
	ID          string
	Type        string
	Payload     json.RawMessage
	Status      Status
	RetryCount  int
	MaxRetries  int
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	FailedAt    *time.Time
	Error       string
	Result      json.RawMessage
	RetryAfter  *time.Time
}

// Delayed reports whether the job carries a retry_after in the future.
func (j *Job) Delayed(now time.Time) bool {
	return j.RetryAfter != nil && j.RetryAfter.After(now)
}

func (j *Job) toMap() map[string]any {
	m := map[string]any{
		"id":          j.ID,
		"type":        j.Type,
		"payload":     string(j.Payload),
		"status":      string(j.Status),
		"retry_count": strconv.Itoa(j.RetryCount),
		"max_retries": strconv.Itoa(j.MaxRetries),
		"created_at":  j.CreatedAt.UTC().Format(time.RFC3339Nano),
	}

	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.UTC().Format(time.RFC3339Nano)
	}
	if j.CompletedAt != nil {
		m["completed_at"] = j.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	if j.FailedAt != nil {
		m["failed_at"] = j.FailedAt.UTC().Format(time.RFC3339Nano)
	}
	if j.Error != "" {
		m["error"] = j.Error
	}
	if len(j.Result) > 0 {
		m["result"] = string(j.Result)
	}
	if j.RetryAfter != nil {
		m["retry_after"] = j.RetryAfter.UTC().Format(time.RFC3339Nano)
	}

	return m
}

func jobFromMap(m map[string]string) (*Job, error) {
	if m["id"] == "" {
		return nil, fmt.Errorf("job metadata missing id field")
	}

	job := &Job{
		ID:     m["id"],
		Type:   m["type"],
		Status: Status(m["status"]),
		Error:  m["error"],
	}

	if p := m["payload"]; p != "" {
		job.Payload = json.RawMessage(p)
	}
	if r := m["result"]; r != "" {
		job.Result = json.RawMessage(r)
	}

	var err error
	if job.RetryCount, err = strconv.Atoi(m["retry_count"]); err != nil {
		return nil, fmt.Errorf("invalid retry_count %q: %w", m["retry_count"], err)
	}
	if job.MaxRetries, err = strconv.Atoi(m["max_retries"]); err != nil {
		return nil, fmt.Errorf("invalid max_retries %q: %w", m["max_retries"], err)
	}

	if job.CreatedAt, err = time.Parse(time.RFC3339Nano, m["created_at"]); err != nil {
		return nil, fmt.Errorf("invalid created_at %q: %w", m["created_at"], err)
	}

	for field, dst := range map[string]**time.Time{
		"started_at":   &job.StartedAt,
		"completed_at": &job.CompletedAt,
		"failed_at":    &job.FailedAt,
		"retry_after":  &job.RetryAfter,
	} {
		if v := m[field]; v != "" {
			ts, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return nil, fmt.Errorf("invalid %s %q: %w", field, v, err)
			}
			*dst = &ts
		}
	}

	return job, nil
}
