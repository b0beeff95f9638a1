package video

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openreel/publisher-be/shared/postgresql"
)

// Storage persists videos, their per-destination statuses and the owner's
// destination configuration.
type Storage struct {
	db *sqlx.DB
}

func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{
		db: pg.GetDB(),
	}
}

type videoRow struct {
	ID              string         `db:"id"`
	OwnerID         int64          `db:"owner_id"`
	Title           string         `db:"title"`
	FileSizeBytes   int64          `db:"file_size_bytes"`
	Status          Status         `db:"status"`
	CreditsRequired int64          `db:"credits_required"`
	CreditsConsumed int64          `db:"credits_consumed"`
	ScheduledTime   *time.Time     `db:"scheduled_time"`
	CancelRequested bool           `db:"cancel_requested"`
	Settings        []byte         `db:"settings"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (r *videoRow) toVideo() *Video {
	return &Video{
		ID:              r.ID,
		Owner:           r.OwnerID,
		Title:           r.Title,
		FileSizeBytes:   r.FileSizeBytes,
		Status:          r.Status,
		CreditsRequired: r.CreditsRequired,
		CreditsConsumed: r.CreditsConsumed,
		ScheduledTime:   r.ScheduledTime,
		CancelRequested: r.CancelRequested,
		Settings:        r.Settings,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

const videoColumns = `
	id, owner_id, title, file_size_bytes, status,
	credits_required, credits_consumed, scheduled_time,
	cancel_requested, settings, created_at, updated_at
`

// Create inserts the video together with a pending destination status row for
// each of the owner's enabled destinations.
func (s *Storage) Create(ctx context.Context, v *Video, destinations []Destination) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO videos (
			id, owner_id, title, file_size_bytes, status,
			credits_required, credits_consumed, scheduled_time,
			cancel_requested, settings, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11, $12
		)
	`

	_, err = tx.ExecContext(
		ctx,
		query,
		v.ID,
		v.Owner,
		v.Title,
		v.FileSizeBytes,
		v.Status,
		v.CreditsRequired,
		v.CreditsConsumed,
		v.ScheduledTime,
		v.CancelRequested,
		nullBytes(v.Settings),
		v.CreatedAt,
		v.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create video: %w", err)
	}

	for _, dest := range destinations {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO video_destinations (video_id, destination, status, updated_at)
			VALUES ($1, $2, $3, $4)
		`, v.ID, dest, DestPending, v.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to create destination status for %s: %w", dest, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit video creation: %w", err)
	}

	return nil
}

// Get loads one video with its destination statuses attached.
func (s *Storage) Get(ctx context.Context, id string) (*Video, error) {
	var row videoRow
	query := `SELECT ` + videoColumns + ` FROM videos WHERE id = $1`

	err := s.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrVideoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}

	v := row.toVideo()
	if v.Destinations, err = s.DestinationStatuses(ctx, v.ID); err != nil {
		return nil, err
	}

	return v, nil
}

// ListFilter narrows a video listing. PageSize bounds the result; the query
// fetches one extra row so the caller can tell whether more pages exist.
type ListFilter struct {
	Owner    int64
	Status   Status
	PageSize int
	Cursor   *ListCursor
}

// ListCursor is a keyset position in the (created_at DESC, id DESC) ordering.
type ListCursor struct {
	CreatedAt time.Time
	ID        string
}

// ListPage loads one page of an owner's videos, newest first, with destination
// statuses attached. Returns up to PageSize+1 rows.
func (s *Storage) ListPage(ctx context.Context, filter ListFilter) ([]*Video, error) {
	query := `SELECT ` + videoColumns + ` FROM videos WHERE owner_id = $1`
	args := []any{filter.Owner}
	argIdx := 2

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.ID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var rows []videoRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}

	videos := make([]*Video, 0, len(rows))
	for i := range rows {
		v := rows[i].toVideo()
		statuses, err := s.DestinationStatuses(ctx, v.ID)
		if err != nil {
			return nil, err
		}
		v.Destinations = statuses
		videos = append(videos, v)
	}

	return videos, nil
}

// EligibleForUpload returns the owner's videos an orchestration pass should
// process: pending, or scheduled and due, and not flagged for cancellation.
func (s *Storage) EligibleForUpload(ctx context.Context, owner int64, now time.Time) ([]*Video, error) {
	var rows []videoRow
	query := `
		SELECT ` + videoColumns + `
		FROM videos
		WHERE owner_id = $1
		  AND cancel_requested = FALSE
		  AND (status = $2 OR (status = $3 AND scheduled_time <= $4))
		ORDER BY created_at ASC, id ASC
	`

	err := s.db.SelectContext(ctx, &rows, query, owner, StatusPending, StatusScheduled, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible videos: %w", err)
	}

	videos := make([]*Video, 0, len(rows))
	for i := range rows {
		v := rows[i].toVideo()
		statuses, err := s.DestinationStatuses(ctx, v.ID)
		if err != nil {
			return nil, err
		}
		v.Destinations = statuses
		videos = append(videos, v)
	}

	return videos, nil
}

// UpdateStatus sets the aggregate status.
func (s *Storage) UpdateStatus(ctx context.Context, id string, status Status) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE videos SET status = $2, updated_at = $3 WHERE id = $1
	`, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update video status: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrVideoNotFound
	}

	return nil
}

type destinationRow struct {
	Destination Destination      `db:"destination"`
	Status      DestinationState `db:"status"`
	Error       sql.NullString   `db:"error"`
	ExternalID  sql.NullString   `db:"external_id"`
	UpdatedAt   time.Time        `db:"updated_at"`
}

// DestinationStatuses loads the per-destination status map for one video.
func (s *Storage) DestinationStatuses(ctx context.Context, videoID string) (map[Destination]DestinationStatus, error) {
	var rows []destinationRow
	query := `
		SELECT destination, status, error, external_id, updated_at
		FROM video_destinations
		WHERE video_id = $1
	`

	if err := s.db.SelectContext(ctx, &rows, query, videoID); err != nil {
		return nil, fmt.Errorf("failed to load destination statuses: %w", err)
	}

	statuses := make(map[Destination]DestinationStatus, len(rows))
	for _, r := range rows {
		statuses[r.Destination] = DestinationStatus{
			Status:     r.Status,
			Error:      r.Error.String,
			ExternalID: r.ExternalID.String,
			UpdatedAt:  r.UpdatedAt,
		}
	}

	return statuses, nil
}

// SetDestinationState upserts one destination's status for a video.
func (s *Storage) SetDestinationState(ctx context.Context, videoID string, dest Destination, state DestinationState, errMsg, externalID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO video_destinations (video_id, destination, status, error, external_id, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6)
		ON CONFLICT (video_id, destination) DO UPDATE SET
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			external_id = EXCLUDED.external_id,
			updated_at = EXCLUDED.updated_at
	`, videoID, dest, state, errMsg, externalID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set destination status: %w", err)
	}

	return nil
}

// ClaimCharge atomically records the consumed credits if and only if nothing
// was consumed before. The boolean reports whether this caller won the claim;
// a concurrent or repeated pass loses and must not debit again.
func (s *Storage) ClaimCharge(ctx context.Context, videoID string, amount int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE videos
		SET credits_consumed = $2, updated_at = $3
		WHERE id = $1 AND credits_consumed = 0
	`, videoID, amount, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to claim charge: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result: %w", err)
	}

	return n > 0, nil
}

// ReleaseCharge zeroes the consumed credits again after a claim whose debit
// could not be completed, so a later pass can charge the video.
func (s *Storage) ReleaseCharge(ctx context.Context, videoID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE videos SET credits_consumed = 0, updated_at = $2 WHERE id = $1
	`, videoID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to release charge: %w", err)
	}

	return nil
}

// RequestCancel flags the video for cancellation.
func (s *Storage) RequestCancel(ctx context.Context, videoID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE videos SET cancel_requested = TRUE, updated_at = $2 WHERE id = $1
	`, videoID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to request cancellation: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrVideoNotFound
	}

	return nil
}

// ClearCancelRequest lifts the cancellation flag so the video can re-enter
// the eligible pool after a manual retry.
func (s *Storage) ClearCancelRequest(ctx context.Context, videoID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE videos SET cancel_requested = FALSE, updated_at = $2 WHERE id = $1
	`, videoID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to clear cancellation flag: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrVideoNotFound
	}

	return nil
}

// CancelRequested reads the cancellation flag.
func (s *Storage) CancelRequested(ctx context.Context, videoID string) (bool, error) {
	var requested bool
	err := s.db.GetContext(ctx, &requested, `SELECT cancel_requested FROM videos WHERE id = $1`, videoID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrVideoNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cancellation flag: %w", err)
	}

	return requested, nil
}

// CancelPendingDestinations flips every still-pending destination of the video
// to cancelled and returns how many were affected. In-flight (uploading)
// destinations are left to resolve on their own.
func (s *Storage) CancelPendingDestinations(ctx context.Context, videoID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE video_destinations
		SET status = $3, updated_at = $4
		WHERE video_id = $1 AND status = $2
	`, videoID, DestPending, DestCancelled, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to cancel pending destinations: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read cancel result: %w", err)
	}

	return n, nil
}

// ResetFailedDestination flips one terminally failed destination back to
// pending for a manual retry.
func (s *Storage) ResetFailedDestination(ctx context.Context, videoID string, dest Destination) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE video_destinations
		SET status = $3, error = NULL, updated_at = $4
		WHERE video_id = $1 AND destination = $2 AND status = $5
	`, videoID, dest, DestPending, time.Now().UTC(), DestFailed)
	if err != nil {
		return fmt.Errorf("failed to reset destination: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDestinationNotRetryable
	}

	return nil
}

// DestinationConfig is one owner-level destination toggle
type DestinationConfig struct {
	Destination Destination `json:"destination" db:"destination"`
	Enabled     bool        `json:"enabled" db:"enabled"`
}

// EnabledDestinations returns the destinations the owner has switched on.
func (s *Storage) EnabledDestinations(ctx context.Context, owner int64) ([]Destination, error) {
	var destinations []Destination
	query := `
		SELECT destination FROM owner_destinations
		WHERE owner_id = $1 AND enabled = TRUE
		ORDER BY destination
	`

	if err := s.db.SelectContext(ctx, &destinations, query, owner); err != nil {
		return nil, fmt.Errorf("failed to list enabled destinations: %w", err)
	}

	return destinations, nil
}

// ListDestinationConfigs returns all destination toggles for an owner.
func (s *Storage) ListDestinationConfigs(ctx context.Context, owner int64) ([]DestinationConfig, error) {
	var configs []DestinationConfig
	query := `
		SELECT destination, enabled FROM owner_destinations
		WHERE owner_id = $1
		ORDER BY destination
	`

	if err := s.db.SelectContext(ctx, &configs, query, owner); err != nil {
		return nil, fmt.Errorf("failed to list destination configs: %w", err)
	}

	return configs, nil
}

// SetDestinationEnabled upserts one owner-level destination toggle.
func (s *Storage) SetDestinationEnabled(ctx context.Context, owner int64, dest Destination, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO owner_destinations (owner_id, destination, enabled, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner_id, destination) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			updated_at = EXCLUDED.updated_at
	`, owner, dest, enabled, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set destination toggle: %w", err)
	}

	return nil
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
