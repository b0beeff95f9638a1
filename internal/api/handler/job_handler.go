package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/openreel/publisher-be/internal/api/dto"
	"github.com/openreel/publisher-be/internal/queue"
)

// EnqueueJob handles POST /api/v1/jobs
// Enqueues an upload pass for one owner's videos.
func (h *JobHandler) EnqueueJob(c *gin.Context) {
	var req dto.EnqueueJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid enqueue request", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid request body",
		})
		return
	}

	maxRetries := h.retries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}

	payload, err := json.Marshal(map[string]int64{"owner": req.Owner})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to encode payload",
		})
		return
	}

	jobID, err := h.queue.Enqueue(c.Request.Context(), queue.TypeUploadVideos, payload, maxRetries)
	if err != nil {
		h.logger.Error("failed to enqueue job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to enqueue job",
		})
		return
	}

	c.JSON(http.StatusAccepted, dto.EnqueueJobResponse{
		JobID:  jobID,
		Status: string(queue.StatusPending),
	})
}

// GetJob handles GET /api/v1/jobs/:job_id
// Retrieves the queue metadata of a single job.
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.queue.Job(c.Request.Context(), jobID)
	if errors.Is(err, queue.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "job not found",
		})
		return
	}
	if err != nil {
		h.logger.Error("failed to get job", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, dto.NewJobResponse(job))
}

// RetryJob handles POST /api/v1/jobs/:job_id/retry
// Re-enqueues a copy of the job with a fresh retry budget.
func (h *JobHandler) RetryJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	newID, err := h.queue.Retry(c.Request.Context(), jobID)
	if errors.Is(err, queue.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "job not found",
		})
		return
	}
	if err != nil {
		h.logger.Error("failed to retry job", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to retry job",
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":     newID,
		"retried_of": jobID,
		"status":     string(queue.StatusPending),
	})
}
