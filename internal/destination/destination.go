package destination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/openreel/publisher-be/internal/credentials"
	"github.com/openreel/publisher-be/internal/video"
)

// ErrRefreshUnavailable is returned by NoRefresh for deployments where tokens
// are renewed out of band and written straight into the credential store.
var ErrRefreshUnavailable = errors.New("credential refresh unavailable")

// UploadRequest is the destination-neutral description of one upload handed
// to the wire client. Fields carries the platform-specific values a variant
// mapped out of the video's settings.
type UploadRequest struct {
	VideoID   string
	Title     string
	SizeBytes int64
	Fields    map[string]string
}

// Client is the wire-level API of one platform's upload gateway.
type Client interface {
	Upload(ctx context.Context, accessToken string, req *UploadRequest) (string, error)
	Status(ctx context.Context, accessToken, externalID string) (string, error)
}

// CredentialStore is the slice of the credential store an uploader needs.
type CredentialStore interface {
	Get(owner int64, dest video.Destination) (*credentials.Credential, error)
	Save(cred *credentials.Credential) error
}

// Refresher exchanges an expired credential for a fresh one. The handshake
// itself lives outside this service.
type Refresher interface {
	Refresh(ctx context.Context, cred *credentials.Credential) (*credentials.Credential, error)
}

// RefresherFunc adapts a function to the Refresher interface.
type RefresherFunc func(ctx context.Context, cred *credentials.Credential) (*credentials.Credential, error)

func (f RefresherFunc) Refresh(ctx context.Context, cred *credentials.Credential) (*credentials.Credential, error) {
	return f(ctx, cred)
}

// NoRefresh always fails with ErrRefreshUnavailable.
var NoRefresh Refresher = RefresherFunc(func(ctx context.Context, cred *credentials.Credential) (*credentials.Credential, error) {
	return nil, ErrRefreshUnavailable
})

// profile is what distinguishes one destination variant from another: its
// identity, its error hint lists and its settings mapping.
type profile struct {
	kind           video.Destination
	transientHints []string
	authHints      []string
	buildFields    func(v *video.Video) (map[string]string, error)
}

// Uploader drives uploads to one destination: it throttles, resolves the
// owner's credential, maps settings to platform fields and calls the wire
// client, refreshing the credential and retrying once when the token is
// rejected.
type Uploader struct {
	profile   profile
	client    Client
	creds     CredentialStore
	refresher Refresher
	limiter   *rate.Limiter
	logger    *slog.Logger
}

func newUploader(p profile, client Client, creds CredentialStore, refresher Refresher, logger *slog.Logger, limit rate.Limit, burst int) *Uploader {
	if limit <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}

	return &Uploader{
		profile:   p,
		client:    client,
		creds:     creds,
		refresher: refresher,
		limiter:   rate.NewLimiter(limit, burst),
		logger:    logger.With("destination", p.kind),
	}
}

// Kind returns the destination this uploader serves.
func (u *Uploader) Kind() video.Destination {
	return u.profile.kind
}

// Classify maps an upload error to its failure class using this
// destination's hint lists.
func (u *Uploader) Classify(err error) Class {
	return classify(err, u.profile.transientHints, u.profile.authHints)
}

// ValidateCredentials reports whether the owner holds a credential this
// destination can use right now.
func (u *Uploader) ValidateCredentials(ctx context.Context, owner int64) error {
	cred, err := u.creds.Get(owner, u.profile.kind)
	if err != nil {
		return fmt.Errorf("no %s credential for owner %d: %w", u.profile.kind, owner, err)
	}

	if !cred.Usable(time.Now().UTC()) {
		return fmt.Errorf("%s credential for owner %d is expired and not refreshable", u.profile.kind, owner)
	}

	return nil
}

// Upload publishes the video to this destination and returns the platform's
// native id. A token rejection triggers one credential refresh and retry;
// every other failure is returned for the caller to classify.
func (u *Uploader) Upload(ctx context.Context, owner int64, v *video.Video) (string, error) {
	fields, err := u.profile.buildFields(v)
	if err != nil {
		return "", fmt.Errorf("invalid settings for %s: %w", u.profile.kind, err)
	}

	req := &UploadRequest{
		VideoID:   v.ID,
		Title:     v.Title,
		SizeBytes: v.FileSizeBytes,
		Fields:    fields,
	}

	if err := u.limiter.Wait(ctx); err != nil {
		return "", err
	}

	cred, err := u.creds.Get(owner, u.profile.kind)
	if err != nil {
		return "", fmt.Errorf("no %s credential for owner %d: %w", u.profile.kind, owner, err)
	}

	if cred.Expired(time.Now().UTC()) {
		if cred, err = u.refresh(ctx, cred); err != nil {
			return "", err
		}
	}

	externalID, err := u.client.Upload(ctx, cred.AccessToken, req)
	if err == nil {
		u.logger.Info("upload accepted", "video_id", v.ID, "external_id", externalID)
		return externalID, nil
	}
	if u.Classify(err) != ClassAuth {
		return "", err
	}

	// the platform rejected the token; refresh once and retry
	cred, rerr := u.refresh(ctx, cred)
	if rerr != nil {
		return "", fmt.Errorf("credential refresh failed (%v) after: %w", rerr, err)
	}

	externalID, err = u.client.Upload(ctx, cred.AccessToken, req)
	if err != nil {
		return "", err
	}

	u.logger.Info("upload accepted after credential refresh", "video_id", v.ID, "external_id", externalID)
	return externalID, nil
}

// RemoteStatus asks the platform for the processing state of an upload it
// already accepted, identified by the platform's native id.
func (u *Uploader) RemoteStatus(ctx context.Context, owner int64, externalID string) (string, error) {
	if externalID == "" {
		return "", fmt.Errorf("no %s upload id to query", u.profile.kind)
	}

	cred, err := u.creds.Get(owner, u.profile.kind)
	if err != nil {
		return "", fmt.Errorf("no %s credential for owner %d: %w", u.profile.kind, owner, err)
	}

	if cred.Expired(time.Now().UTC()) {
		if cred, err = u.refresh(ctx, cred); err != nil {
			return "", err
		}
	}

	return u.client.Status(ctx, cred.AccessToken, externalID)
}

func (u *Uploader) refresh(ctx context.Context, cred *credentials.Credential) (*credentials.Credential, error) {
	if !cred.Refreshable() {
		return nil, fmt.Errorf("%s credential for owner %d has no refresh token", u.profile.kind, cred.Owner)
	}

	refreshed, err := u.refresher.Refresh(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh %s credential for owner %d: %w", u.profile.kind, cred.Owner, err)
	}

	if err := u.creds.Save(refreshed); err != nil {
		return nil, fmt.Errorf("failed to store refreshed credential: %w", err)
	}

	u.logger.Info("credential refreshed", "owner", cred.Owner)
	return refreshed, nil
}

func decodeSettings(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, into)
}
