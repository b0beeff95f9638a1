package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/openreel/publisher-be/internal/api/dto"
	"github.com/openreel/publisher-be/internal/video"
)

// CreateVideos handles POST /api/v1/videos
// Registers one or more videos for the owner, each with a pending status row
// per requested destination. A schedule block spreads the batch over computed
// slots; videos carrying their own scheduled_time keep it.
func (h *VideoHandler) CreateVideos(c *gin.Context) {
	var req dto.CreateVideosRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid create request", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid request body",
		})
		return
	}

	destinations := make([]video.Destination, 0, len(req.Destinations))
	for _, name := range req.Destinations {
		dest := video.Destination(name)
		if !dest.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "unknown destination: " + name,
			})
			return
		}
		destinations = append(destinations, dest)
	}

	times := make([]*time.Time, len(req.Videos))
	for i := range req.Videos {
		times[i] = req.Videos[i].ScheduledTime
	}

	if req.Schedule != nil {
		if err := h.fillScheduleSlots(req.Schedule, times); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
			return
		}
	}

	now := time.Now().UTC()
	created := make([]*video.Video, 0, len(req.Videos))

	for i, nv := range req.Videos {
		v := &video.Video{
			ID:              uuid.NewString(),
			Owner:           req.Owner,
			Title:           nv.Title,
			FileSizeBytes:   nv.FileSizeBytes,
			Status:          video.StatusPending,
			CreditsRequired: h.pricing.Calculate(nv.FileSizeBytes),
			Settings:        nv.Settings,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if times[i] != nil {
			v.ScheduledTime = times[i]
			v.Status = video.StatusScheduled
		}

		if err := h.store.Create(c.Request.Context(), v, destinations); err != nil {
			h.logger.Error("failed to create video",
				slog.Int64("owner", req.Owner),
				slog.String("title", nv.Title),
				slog.String("error", err.Error()),
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "failed to create video",
				"created": len(created),
			})
			return
		}

		v.Destinations = make(map[video.Destination]video.DestinationStatus, len(destinations))
		for _, dest := range destinations {
			v.Destinations[dest] = video.DestinationStatus{Status: video.DestPending, UpdatedAt: now}
		}
		created = append(created, v)
	}

	h.logger.Info("videos created",
		slog.Int64("owner", req.Owner),
		slog.Int("count", len(created)),
		slog.Int("destinations", len(destinations)),
	)

	c.JSON(http.StatusCreated, dto.CreateVideosResponse{Videos: created})
}

// fillScheduleSlots assigns a computed slot to every video without an
// explicit time. Explicit times count as occupied slots.
func (h *VideoHandler) fillScheduleSlots(req *dto.SchedulePlan, times []*time.Time) error {
	plan := h.schedule
	if req.IntervalMinutes > 0 {
		plan = video.Plan{Interval: time.Duration(req.IntervalMinutes) * time.Minute}
	}
	if req.DailyAt != "" {
		plan = video.Plan{DailyAt: req.DailyAt}
	}

	start := time.Now().UTC()
	if req.Start != nil {
		start = req.Start.UTC()
	}

	var taken []time.Time
	need := 0
	for _, ts := range times {
		if ts != nil {
			taken = append(taken, *ts)
			continue
		}
		need++
	}

	slots, err := video.PlanBatch(plan, start, need, taken)
	if err != nil {
		return err
	}

	next := 0
	for i := range times {
		if times[i] == nil {
			slot := slots[next]
			times[i] = &slot
			next++
		}
	}

	return nil
}

// GetVideo handles GET /api/v1/videos/:video_id
func (h *VideoHandler) GetVideo(c *gin.Context) {
	videoID := c.Param("video_id")
	if _, err := uuid.Parse(videoID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "video_id must be a valid UUID",
		})
		return
	}

	v, err := h.store.Get(c.Request.Context(), videoID)
	if errors.Is(err, video.ErrVideoNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "video not found",
		})
		return
	}
	if err != nil {
		h.logger.Error("failed to get video", slog.String("video_id", videoID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to get video",
		})
		return
	}

	c.JSON(http.StatusOK, v)
}

// ListVideos handles GET /api/v1/videos
// Lists an owner's videos newest first with keyset pagination.
func (h *VideoHandler) ListVideos(c *gin.Context) {
	var req dto.ListVideosRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "owner query parameter is required",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeVideoCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid cursor",
		})
		return
	}

	videos, err := h.store.ListPage(c.Request.Context(), video.ListFilter{
		Owner:    req.Owner,
		Status:   video.Status(req.Status),
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("failed to list videos", slog.Int64("owner", req.Owner), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to list videos",
		})
		return
	}

	var nextCursor string
	if len(videos) > req.PageSize {
		videos = videos[:req.PageSize]
		last := videos[len(videos)-1]
		nextCursor = EncodeVideoCursor(&video.ListCursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}

	c.JSON(http.StatusOK, dto.ListVideosResponse{
		Videos:     videos,
		NextCursor: nextCursor,
	})
}

// CancelVideo handles POST /api/v1/videos/:video_id/cancel
func (h *VideoHandler) CancelVideo(c *gin.Context) {
	videoID := c.Param("video_id")
	if _, err := uuid.Parse(videoID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "video_id must be a valid UUID",
		})
		return
	}

	v, err := h.control.Cancel(c.Request.Context(), videoID)
	switch {
	case errors.Is(err, video.ErrVideoNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "video not found",
		})
		return
	case errors.Is(err, video.ErrNotCancellable):
		c.JSON(http.StatusConflict, gin.H{
			"error": err.Error(),
		})
		return
	case err != nil:
		h.logger.Error("failed to cancel video", slog.String("video_id", videoID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to cancel video",
		})
		return
	}

	c.JSON(http.StatusOK, v)
}

// RetryDestination handles POST /api/v1/videos/:video_id/destinations/:destination/retry
func (h *VideoHandler) RetryDestination(c *gin.Context) {
	videoID := c.Param("video_id")
	if _, err := uuid.Parse(videoID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "video_id must be a valid UUID",
		})
		return
	}

	dest := video.Destination(c.Param("destination"))
	if !dest.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "unknown destination: " + c.Param("destination"),
		})
		return
	}

	v, err := h.control.RetryDestination(c.Request.Context(), videoID, dest)
	switch {
	case errors.Is(err, video.ErrVideoNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "video not found",
		})
		return
	case errors.Is(err, video.ErrDestinationNotRetryable):
		c.JSON(http.StatusConflict, gin.H{
			"error": err.Error(),
		})
		return
	case err != nil:
		h.logger.Error("failed to retry destination",
			slog.String("video_id", videoID),
			slog.String("destination", string(dest)),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to retry destination",
		})
		return
	}

	c.JSON(http.StatusOK, v)
}

// RemoteDestinationStatus handles GET /api/v1/videos/:video_id/destinations/:destination/status
// Asks the platform itself how an accepted upload is doing.
func (h *VideoHandler) RemoteDestinationStatus(c *gin.Context) {
	videoID := c.Param("video_id")
	if _, err := uuid.Parse(videoID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "video_id must be a valid UUID",
		})
		return
	}

	dest := video.Destination(c.Param("destination"))
	if !dest.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "unknown destination: " + c.Param("destination"),
		})
		return
	}

	v, err := h.store.Get(c.Request.Context(), videoID)
	if errors.Is(err, video.ErrVideoNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "video not found",
		})
		return
	}
	if err != nil {
		h.logger.Error("failed to get video", slog.String("video_id", videoID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to get video",
		})
		return
	}

	ds, ok := v.Destinations[dest]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "video does not target " + string(dest),
		})
		return
	}
	if ds.ExternalID == "" {
		c.JSON(http.StatusConflict, gin.H{
			"error": "no accepted upload to query for " + string(dest),
		})
		return
	}

	prober, ok := h.probers[dest]
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "status probe not configured for " + string(dest),
		})
		return
	}

	remote, err := prober.RemoteStatus(c.Request.Context(), v.Owner, ds.ExternalID)
	if err != nil {
		h.logger.Warn("remote status probe failed",
			slog.String("video_id", videoID),
			slog.String("destination", string(dest)),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "platform status query failed",
		})
		return
	}

	c.JSON(http.StatusOK, dto.RemoteStatusResponse{
		Destination:  string(dest),
		ExternalID:   ds.ExternalID,
		RemoteStatus: remote,
		Local:        ds,
	})
}
