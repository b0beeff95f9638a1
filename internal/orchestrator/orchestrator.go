package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openreel/publisher-be/internal/credits"
	"github.com/openreel/publisher-be/internal/destination"
	"github.com/openreel/publisher-be/internal/events"
	"github.com/openreel/publisher-be/internal/video"
)

// VideoStore is the persistence surface an orchestration pass needs.
type VideoStore interface {
	Get(ctx context.Context, id string) (*video.Video, error)
	EligibleForUpload(ctx context.Context, owner int64, now time.Time) ([]*video.Video, error)
	UpdateStatus(ctx context.Context, id string, status video.Status) error
	DestinationStatuses(ctx context.Context, videoID string) (map[video.Destination]video.DestinationStatus, error)
	SetDestinationState(ctx context.Context, videoID string, dest video.Destination, state video.DestinationState, errMsg, externalID string) error
	ClaimCharge(ctx context.Context, videoID string, amount int64) (bool, error)
	ReleaseCharge(ctx context.Context, videoID string) error
	RequestCancel(ctx context.Context, videoID string) error
	ClearCancelRequest(ctx context.Context, videoID string) error
	CancelRequested(ctx context.Context, videoID string) (bool, error)
	CancelPendingDestinations(ctx context.Context, videoID string) (int64, error)
	ResetFailedDestination(ctx context.Context, videoID string, dest video.Destination) error
	EnabledDestinations(ctx context.Context, owner int64) ([]video.Destination, error)
}

// Ledger is the credit surface an orchestration pass needs.
type Ledger interface {
	Balance(ctx context.Context, owner int64) (*credits.Balance, error)
	Debit(ctx context.Context, owner int64, amount int64, videoRef string, metadata map[string]any) (*credits.Transaction, error)
}

// Uploader publishes videos to one destination.
type Uploader interface {
	Kind() video.Destination
	Upload(ctx context.Context, owner int64, v *video.Video) (string, error)
	ValidateCredentials(ctx context.Context, owner int64) error
	Classify(err error) destination.Class
}

const defaultCancelPollInterval = 2 * time.Second

// Config holds orchestrator tuning.
type Config struct {
	// CancelPollInterval is how often an in-flight pass re-reads the video's
	// cancellation flag while upload attempts are running.
	CancelPollInterval time.Duration
}

// Orchestrator runs upload passes: per owner it gathers usable destinations
// and eligible videos, drives the per-destination attempts, derives the
// aggregate status and charges credits once per processed video.
type Orchestrator struct {
	store      VideoStore
	ledger     Ledger
	uploaders  map[video.Destination]Uploader
	publisher  events.Publisher
	logger     *slog.Logger
	cancelPoll time.Duration
}

func New(store VideoStore, ledger Ledger, uploaders map[video.Destination]Uploader, publisher events.Publisher, logger *slog.Logger, config Config) *Orchestrator {
	poll := config.CancelPollInterval
	if poll <= 0 {
		poll = defaultCancelPollInterval
	}

	return &Orchestrator{
		store:      store,
		ledger:     ledger,
		uploaders:  uploaders,
		publisher:  publisher,
		logger:     logger,
		cancelPoll: poll,
	}
}

// RunSummary is the outcome of one orchestration pass, persisted as the
// job's result.
type RunSummary struct {
	Owner               int64     `json:"owner"`
	StartedAt           time.Time `json:"started_at"`
	FinishedAt          time.Time `json:"finished_at"`
	Videos              int       `json:"videos"`
	Uploads             int       `json:"uploads"`
	Failures            int       `json:"failures"`
	Deferred            int       `json:"deferred"`
	CancelledVideos     int       `json:"cancelled_videos"`
	CreditsCharged      int64     `json:"credits_charged"`
	SkippedDestinations []string  `json:"skipped_destinations,omitempty"`
	InsufficientCredit  []string  `json:"insufficient_credit,omitempty"`
}

// Run executes one upload pass for the owner. Destination failures are
// recorded on the videos, never returned; an error here means the pass
// itself could not proceed.
func (o *Orchestrator) Run(ctx context.Context, owner int64) (*RunSummary, error) {
	summary := &RunSummary{
		Owner:     owner,
		StartedAt: time.Now().UTC(),
	}

	enabled, uploaders, skipped, err := o.gatherUploaders(ctx, owner)
	if err != nil {
		return nil, err
	}
	summary.SkippedDestinations = skipped

	if len(uploaders) == 0 {
		o.logger.Info("no usable destinations, nothing to do", "owner", owner)
		summary.FinishedAt = time.Now().UTC()
		return summary, nil
	}

	videos, err := o.store.EligibleForUpload(ctx, owner, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible videos for owner %d: %w", owner, err)
	}

	for _, v := range videos {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		if err := o.processVideo(ctx, v, enabled, uploaders, summary); err != nil {
			return summary, err
		}
		summary.Videos++
	}

	summary.FinishedAt = time.Now().UTC()
	o.logger.Info("upload pass finished",
		"owner", owner,
		"videos", summary.Videos,
		"uploads", summary.Uploads,
		"failures", summary.Failures,
		"deferred", summary.Deferred,
		"credits_charged", summary.CreditsCharged,
	)

	return summary, nil
}

// gatherUploaders resolves the owner's enabled destinations to uploaders
// holding a usable credential. Destinations that cannot be served are
// reported, not fatal; they stay in the enabled set so the aggregate still
// accounts for them.
func (o *Orchestrator) gatherUploaders(ctx context.Context, owner int64) ([]video.Destination, []Uploader, []string, error) {
	enabled, err := o.store.EnabledDestinations(ctx, owner)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to list enabled destinations for owner %d: %w", owner, err)
	}

	var uploaders []Uploader
	var skipped []string
	for _, kind := range enabled {
		up, ok := o.uploaders[kind]
		if !ok {
			o.logger.Warn("no uploader registered for destination", "owner", owner, "destination", kind)
			skipped = append(skipped, string(kind))
			continue
		}

		if err := up.ValidateCredentials(ctx, owner); err != nil {
			o.logger.Warn("destination excluded from pass", "owner", owner, "destination", kind, "error", err)
			skipped = append(skipped, string(kind))
			continue
		}

		uploaders = append(uploaders, up)
	}

	return enabled, uploaders, skipped, nil
}

// processVideo drives one video through a pass: the credit precheck, the
// concurrent destination attempts, the aggregate update and the one-time
// charge.
func (o *Orchestrator) processVideo(ctx context.Context, v *video.Video, enabled []video.Destination, uploaders []Uploader, summary *RunSummary) error {
	logger := o.logger.With("owner", v.Owner, "video_id", v.ID)

	attempts := attemptable(v, uploaders)
	if len(attempts) == 0 {
		// every serveable destination already resolved; settle the aggregate
		return o.refreshAggregate(ctx, v.ID, enabled)
	}

	if !v.Charged() && v.CreditsRequired > 0 {
		enough, err := o.hasCredits(ctx, v.Owner, v.CreditsRequired)
		if err != nil {
			return err
		}
		if !enough {
			logger.Warn("insufficient credits, video failed", "credits_required", v.CreditsRequired)
			if err := o.store.UpdateStatus(ctx, v.ID, video.StatusFailed); err != nil {
				return err
			}
			o.publishState(ctx, v.ID)
			summary.InsufficientCredit = append(summary.InsufficientCredit, v.ID)
			return nil
		}
	}

	cancelled, err := o.store.CancelRequested(ctx, v.ID)
	if err != nil {
		return err
	}

	var launched int
	if !cancelled {
		launched, err = o.runAttempts(ctx, v, attempts, enabled, summary)
		if err != nil {
			return err
		}

		// the flag may have been raised while attempts were in flight
		if cancelled, err = o.store.CancelRequested(ctx, v.ID); err != nil {
			return err
		}
	}

	if cancelled {
		if _, err := o.store.CancelPendingDestinations(ctx, v.ID); err != nil {
			return err
		}
		if err := o.store.UpdateStatus(ctx, v.ID, video.StatusCancelled); err != nil {
			return err
		}
		o.publishState(ctx, v.ID)
		summary.CancelledVideos++
		logger.Info("video cancelled during pass")
	} else if err := o.refreshAggregate(ctx, v.ID, enabled); err != nil {
		return err
	}

	if launched > 0 {
		if err := o.chargeOnce(ctx, v, summary); err != nil {
			return err
		}
	}

	return nil
}

// attemptable filters the pass uploaders down to the ones whose destination
// has not already resolved for this video. A destination without a status
// row counts as pending.
func attemptable(v *video.Video, uploaders []Uploader) []Uploader {
	var out []Uploader
	for _, up := range uploaders {
		if ds, ok := v.Destinations[up.Kind()]; ok {
			if ds.Status == video.DestSuccess || ds.Status == video.DestCancelled {
				continue
			}
		}
		out = append(out, up)
	}
	return out
}

// runAttempts launches one concurrent upload attempt per destination and
// waits for all of them. A watcher polls the cancellation flag and aborts
// in-flight attempts cooperatively through their context.
func (o *Orchestrator) runAttempts(ctx context.Context, v *video.Video, attempts []Uploader, enabled []video.Destination, summary *RunSummary) (int, error) {
	attemptCtx, abort := context.WithCancel(ctx)
	defer abort()

	watchDone := make(chan struct{})
	var cancelSeen atomic.Bool
	go func() {
		defer close(watchDone)
		ticker := time.NewTicker(o.cancelPoll)
		defer ticker.Stop()
		for {
			select {
			case <-attemptCtx.Done():
				return
			case <-ticker.C:
				requested, err := o.store.CancelRequested(ctx, v.ID)
				if err == nil && requested {
					cancelSeen.Store(true)
					abort()
					return
				}
			}
		}
	}()

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
		launched int
	)

	// bookkeeping for one resolved attempt; uploads run concurrently but
	// status writes and events are serialized per video
	resolve := func(fn func() error) error {
		mu.Lock()
		defer mu.Unlock()
		err := fn()
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return err
	}

	for _, up := range attempts {
		up := up
		if cancelSeen.Load() {
			break
		}

		kind := up.Kind()

		err := resolve(func() error {
			if err := o.store.SetDestinationState(ctx, v.ID, kind, video.DestUploading, "", ""); err != nil {
				return err
			}
			return o.refreshAggregate(ctx, v.ID, enabled)
		})
		if err != nil {
			break
		}

		launched++
		wg.Add(1)
		go func() {
			defer wg.Done()

			externalID, uploadErr := up.Upload(attemptCtx, v.Owner, v)
			if uploadErr == nil {
				resolve(func() error {
					summary.Uploads++
					o.logger.Info("destination upload succeeded", "video_id", v.ID, "destination", kind, "external_id", externalID)
					if err := o.store.SetDestinationState(ctx, v.ID, kind, video.DestSuccess, "", externalID); err != nil {
						return err
					}
					return o.refreshAggregate(ctx, v.ID, enabled)
				})
				return
			}

			class := up.Classify(uploadErr)
			resolve(func() error {
				state := video.DestFailed
				if class == destination.ClassTransient {
					// left pending for the next scheduled retry
					state = video.DestPending
					summary.Deferred++
				} else {
					summary.Failures++
				}

				o.logger.Warn("destination upload failed",
					"video_id", v.ID,
					"owner", v.Owner,
					"destination", kind,
					"class", class.String(),
					"error", uploadErr,
				)

				if err := o.store.SetDestinationState(ctx, v.ID, kind, state, uploadErr.Error(), ""); err != nil {
					return err
				}
				return o.refreshAggregate(ctx, v.ID, enabled)
			})
		}()
	}

	wg.Wait()
	abort()
	<-watchDone

	return launched, firstErr
}

// hasCredits reports whether the owner's balance covers the amount. A
// missing balance row counts as zero.
func (o *Orchestrator) hasCredits(ctx context.Context, owner int64, amount int64) (bool, error) {
	balance, err := o.ledger.Balance(ctx, owner)
	if errors.Is(err, credits.ErrBalanceNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read balance for owner %d: %w", owner, err)
	}

	return balance.CreditsRemaining >= amount, nil
}

// chargeOnce debits the video's captured credit price exactly once per
// video. The claim on the video row is the idempotency gate; if the debit
// then fails the claim is released so a later pass can charge.
func (o *Orchestrator) chargeOnce(ctx context.Context, v *video.Video, summary *RunSummary) error {
	if v.Charged() || v.CreditsRequired <= 0 {
		return nil
	}

	won, err := o.store.ClaimCharge(ctx, v.ID, v.CreditsRequired)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	_, err = o.ledger.Debit(ctx, v.Owner, v.CreditsRequired, v.ID, map[string]any{
		"title":      v.Title,
		"size_bytes": v.FileSizeBytes,
	})
	if err != nil {
		if releaseErr := o.store.ReleaseCharge(ctx, v.ID); releaseErr != nil {
			o.logger.Error("failed to release unpaid charge claim", "video_id", v.ID, "error", releaseErr)
		}
		if errors.Is(err, credits.ErrInsufficientCredits) {
			o.logger.Warn("balance exhausted before charge", "video_id", v.ID, "owner", v.Owner)
			summary.InsufficientCredit = append(summary.InsufficientCredit, v.ID)
			return nil
		}
		return fmt.Errorf("failed to debit owner %d for video %s: %w", v.Owner, v.ID, err)
	}

	summary.CreditsCharged += v.CreditsRequired
	o.logger.Info("credits charged", "video_id", v.ID, "owner", v.Owner, "amount", v.CreditsRequired)
	return nil
}

// aggregateFor derives the aggregate status over the pass destinations from
// the stored per-destination states.
func (o *Orchestrator) aggregateFor(ctx context.Context, videoID string, kinds []video.Destination) (video.Status, error) {
	statuses, err := o.store.DestinationStatuses(ctx, videoID)
	if err != nil {
		return "", err
	}

	states := make([]video.DestinationState, 0, len(kinds))
	for _, kind := range kinds {
		if ds, ok := statuses[kind]; ok {
			states = append(states, ds.Status)
		} else {
			states = append(states, video.DestPending)
		}
	}

	return video.Aggregate(states), nil
}

// refreshAggregate recomputes and stores the aggregate, then publishes the
// video's full state.
func (o *Orchestrator) refreshAggregate(ctx context.Context, videoID string, kinds []video.Destination) error {
	status, err := o.aggregateFor(ctx, videoID, kinds)
	if err != nil {
		return err
	}

	if err := o.store.UpdateStatus(ctx, videoID, status); err != nil {
		return err
	}

	o.publishState(ctx, videoID)
	return nil
}

// publishState emits the video's current representation. Publishing is best
// effort; a broker outage never fails a pass.
func (o *Orchestrator) publishState(ctx context.Context, videoID string) {
	v, err := o.store.Get(ctx, videoID)
	if err != nil {
		o.logger.Warn("failed to load video for event", "video_id", videoID, "error", err)
		return
	}

	if err := events.PublishVideoStatus(ctx, o.publisher, v); err != nil {
		o.logger.Warn("failed to publish video status", "video_id", videoID, "error", err)
	}
}
