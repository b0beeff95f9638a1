package orchestrator

import (
	"context"
	"fmt"

	"github.com/openreel/publisher-be/internal/video"
)

// Cancel marks a video as cancelled. Destinations still waiting flip to
// cancelled immediately; a destination currently uploading keeps running and
// the worker settles it when its attempt resolves.
func (o *Orchestrator) Cancel(ctx context.Context, videoID string) (*video.Video, error) {
	v, err := o.store.Get(ctx, videoID)
	if err != nil {
		return nil, err
	}

	if !v.Cancellable() {
		return nil, fmt.Errorf("video %s in status %s: %w", v.ID, v.Status, video.ErrNotCancellable)
	}

	if err := o.store.RequestCancel(ctx, v.ID); err != nil {
		return nil, err
	}

	flipped, err := o.store.CancelPendingDestinations(ctx, v.ID)
	if err != nil {
		return nil, err
	}

	uploading, err := o.anyUploading(ctx, v.ID)
	if err != nil {
		return nil, err
	}
	if !uploading {
		if err := o.store.UpdateStatus(ctx, v.ID, video.StatusCancelled); err != nil {
			return nil, err
		}
	}

	o.logger.Info("cancellation requested",
		"video_id", v.ID,
		"owner", v.Owner,
		"destinations_cancelled", flipped,
		"uploads_in_flight", uploading,
	)

	o.publishState(ctx, v.ID)
	return o.store.Get(ctx, v.ID)
}

// RetryDestination resets one failed destination back to pending and returns
// the video to the eligible pool. The next pass retries only that
// destination; already succeeded ones are untouched.
func (o *Orchestrator) RetryDestination(ctx context.Context, videoID string, dest video.Destination) (*video.Video, error) {
	if !dest.Valid() {
		return nil, fmt.Errorf("unknown destination %q", dest)
	}

	if err := o.store.ResetFailedDestination(ctx, videoID, dest); err != nil {
		return nil, err
	}

	// a previously cancelled video becomes eligible again
	if err := o.store.ClearCancelRequest(ctx, videoID); err != nil {
		return nil, err
	}

	if err := o.store.UpdateStatus(ctx, videoID, video.StatusPending); err != nil {
		return nil, err
	}

	o.logger.Info("destination retry requested", "video_id", videoID, "destination", dest)

	o.publishState(ctx, videoID)
	return o.store.Get(ctx, videoID)
}

func (o *Orchestrator) anyUploading(ctx context.Context, videoID string) (bool, error) {
	statuses, err := o.store.DestinationStatuses(ctx, videoID)
	if err != nil {
		return false, err
	}

	for _, ds := range statuses {
		if ds.Status == video.DestUploading {
			return true, nil
		}
	}
	return false, nil
}
