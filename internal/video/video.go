package video

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrVideoNotFound is returned when a video id resolves to nothing
	ErrVideoNotFound = errors.New("video not found")
	// ErrNotCancellable is returned when cancellation is requested outside the
	// uploading/pending aggregate states
	ErrNotCancellable = errors.New("video is not in a cancellable state")
	// ErrDestinationNotRetryable is returned when a manual destination retry
	// targets a destination that is not terminally failed
	ErrDestinationNotRetryable = errors.New("destination is not in a failed state")
)

// Status is the aggregate video-level status
type Status string

const (
	StatusPending   Status = "pending"
	StatusScheduled Status = "scheduled"
	StatusUploading Status = "uploading"
	StatusUploaded  Status = "uploaded"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Destination identifies one external publishing target. The set is closed:
// adding a destination means adding a constant here and an uploader variant.
type Destination string

const (
	DestYouTube   Destination = "youtube"
	DestTikTok    Destination = "tiktok"
	DestInstagram Destination = "instagram"
)

// Destinations returns the closed destination set in declaration order.
func Destinations() []Destination {
	return []Destination{DestYouTube, DestTikTok, DestInstagram}
}

// Valid reports whether d is a member of the closed destination set.
func (d Destination) Valid() bool {
	switch d {
	case DestYouTube, DestTikTok, DestInstagram:
		return true
	}
	return false
}

// DestinationState is the per-destination lifecycle state
type DestinationState string

const (
	DestPending   DestinationState = "pending"
	DestUploading DestinationState = "uploading"
	DestSuccess   DestinationState = "success"
	DestFailed    DestinationState = "failed"
	DestCancelled DestinationState = "cancelled"
)

// DestinationStatus is the tracked state of one destination for one video
type DestinationStatus struct {
	Status     DestinationState `json:"status" db:"status"`
	Error      string           `json:"error,omitempty" db:"error"`
	ExternalID string           `json:"external_id,omitempty" db:"external_id"`
	UpdatedAt  time.Time        `json:"updated_at" db:"updated_at"`
}

// Video is one user-owned video file tracked across destinations
type Video struct {
	ID              string          `json:"id" db:"id"`
	Owner           int64           `json:"owner" db:"owner_id"`
	Title           string          `json:"title" db:"title"`
	FileSizeBytes   int64           `json:"file_size_bytes" db:"file_size_bytes"`
	Status          Status          `json:"status" db:"status"`
	CreditsRequired int64           `json:"credits_required" db:"credits_required"`
	CreditsConsumed int64           `json:"credits_consumed" db:"credits_consumed"`
	ScheduledTime   *time.Time      `json:"scheduled_time,omitempty" db:"scheduled_time"`
	CancelRequested bool            `json:"cancel_requested" db:"cancel_requested"`
	Settings        json.RawMessage `json:"settings,omitempty" db:"settings"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`

	// Destinations holds the per-destination statuses, loaded alongside the row
	Destinations map[Destination]DestinationStatus `json:"destinations" db:"-"`
}

// Charged reports whether credits were already consumed for this video.
func (v *Video) Charged() bool {
	return v.CreditsConsumed > 0
}

// Cancellable reports whether a cancellation request is valid for the
// current aggregate status.
func (v *Video) Cancellable() bool {
	return v.Status == StatusUploading || v.Status == StatusPending
}
