package dto

import (
	"encoding/json"
	"time"

	"github.com/openreel/publisher-be/internal/video"
)

type CreateVideosRequest struct {
	Owner        int64         `json:"owner" binding:"required,gt=0"`
	Destinations []string      `json:"destinations" binding:"required,min=1"`
	Videos       []NewVideo    `json:"videos" binding:"required,min=1,dive"`
	Schedule     *SchedulePlan `json:"schedule,omitempty"`
}

type NewVideo struct {
	Title         string          `json:"title" binding:"required"`
	FileSizeBytes int64           `json:"file_size_bytes" binding:"required,gt=0"`
	Settings      json.RawMessage `json:"settings,omitempty"`
	ScheduledTime *time.Time      `json:"scheduled_time,omitempty"`
}

// SchedulePlan asks for batch scheduling. Videos without an explicit
// scheduled_time get successive computed slots; explicitly timed ones keep
// their time and block their slot. Empty interval and daily_at fall back to
// the service's configured defaults.
type SchedulePlan struct {
	Start           *time.Time `json:"start,omitempty"`
	IntervalMinutes int        `json:"interval_minutes,omitempty" binding:"omitempty,gte=0"`
	DailyAt         string     `json:"daily_at,omitempty"`
}

type CreateVideosResponse struct {
	Videos []*video.Video `json:"videos"`
}

type ListVideosRequest struct {
	Owner    int64  `form:"owner" binding:"required,gt=0"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListVideosResponse struct {
	Videos     []*video.Video `json:"videos"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type SetDestinationRequest struct {
	Owner   int64 `json:"owner" binding:"required,gt=0"`
	Enabled *bool `json:"enabled" binding:"required"`
}

type DestinationConfigsResponse struct {
	Destinations []video.DestinationConfig `json:"destinations"`
}

// RemoteStatusResponse pairs the platform's own processing state with the
// locally tracked destination status.
type RemoteStatusResponse struct {
	Destination  string                  `json:"destination"`
	ExternalID   string                  `json:"external_id"`
	RemoteStatus string                  `json:"remote_status"`
	Local        video.DestinationStatus `json:"local"`
}
