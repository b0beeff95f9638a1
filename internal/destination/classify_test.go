package destination

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestClassify_BaseHints(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Class
	}{
		{"nil", nil, ClassTerminal},
		{"too many requests", errors.New("HTTP 429 Too Many Requests"), ClassTransient},
		{"rate limit", errors.New("rate limit reached, retry later"), ClassTransient},
		{"timeout", errors.New("request timed out"), ClassTransient},
		{"connection reset", errors.New("read tcp: connection reset by peer"), ClassTransient},
		{"service unavailable", errors.New("503 Service Unavailable"), ClassTransient},
		{"unauthorized", errors.New("401 Unauthorized"), ClassAuth},
		{"invalid grant", errors.New("oauth2: \"invalid_grant\" \"Token has been expired or revoked.\""), ClassAuth},
		{"unsupported codec", errors.New("unsupported video codec"), ClassTerminal},
		{"file too large", errors.New("file exceeds the maximum size"), ClassTerminal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, classify(tt.err, nil, nil))
		})
	}
}

func TestClassify_TypedErrorsWin(t *testing.T) {
	// the wrapper decides even when the text reads like another class
	transient := &TransientError{Err: errors.New("401 Unauthorized")}
	assert.Equal(t, ClassTransient, classify(transient, nil, nil))

	auth := &AuthError{Err: errors.New("please retry later")}
	assert.Equal(t, ClassAuth, classify(auth, nil, nil))

	wrapped := fmt.Errorf("upload failed: %w", &TransientError{Err: errors.New("gateway busy")})
	assert.Equal(t, ClassTransient, classify(wrapped, nil, nil))
}

func TestClassify_ContextErrors(t *testing.T) {
	assert.Equal(t, ClassTransient, classify(context.Canceled, nil, nil))
	assert.Equal(t, ClassTransient, classify(context.DeadlineExceeded, nil, nil))
	assert.Equal(t, ClassTransient, classify(fmt.Errorf("upload aborted: %w", context.Canceled), nil, nil))
}

func TestClassify_DestinationHints(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := newFakeStore()

	yt := NewYouTube(&fakeClient{}, store, NoRefresh, logger, rate.Inf, 1)
	tests := []struct {
		name     string
		uploader *Uploader
		err      error
		expected Class
	}{
		{
			name:     "youtube quota",
			uploader: yt,
			err:      errors.New("googleapi: Error 403: quotaExceeded"),
			expected: ClassTransient,
		},
		{
			name:     "youtube backend error",
			uploader: yt,
			err:      errors.New("googleapi: Error 500: backendError"),
			expected: ClassTransient,
		},
		{
			name:     "youtube auth error reason",
			uploader: yt,
			err:      errors.New("googleapi: Error 403: authError"),
			expected: ClassAuth,
		},
		{
			name:     "youtube rejected upload",
			uploader: yt,
			err:      errors.New("googleapi: Error 400: invalidTitle"),
			expected: ClassTerminal,
		},
		{
			name:     "tiktok rate limit",
			uploader: NewTikTok(&fakeClient{}, store, NoRefresh, logger, rate.Inf, 1),
			err:      errors.New("tiktok: rate_limit_exceeded"),
			expected: ClassTransient,
		},
		{
			name:     "tiktok invalid token",
			uploader: NewTikTok(&fakeClient{}, store, NoRefresh, logger, rate.Inf, 1),
			err:      errors.New("tiktok: access_token_invalid"),
			expected: ClassAuth,
		},
		{
			name:     "tiktok rejected post",
			uploader: NewTikTok(&fakeClient{}, store, NoRefresh, logger, rate.Inf, 1),
			err:      errors.New("tiktok: video_pull_failed"),
			expected: ClassTerminal,
		},
		{
			name:     "instagram request limit",
			uploader: NewInstagram(&fakeClient{}, store, NoRefresh, logger, rate.Inf, 1),
			err:      errors.New("(#4) Application request limit reached"),
			expected: ClassTransient,
		},
		{
			name:     "instagram invalid session",
			uploader: NewInstagram(&fakeClient{}, store, NoRefresh, logger, rate.Inf, 1),
			err:      errors.New("Error validating access token: Session has expired"),
			expected: ClassAuth,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.uploader.Classify(tt.err))
		})
	}
}

func TestClass_String(t *testing.T) {
	assert.Equal(t, "terminal", ClassTerminal.String())
	assert.Equal(t, "transient", ClassTransient.String())
	assert.Equal(t, "auth", ClassAuth.String())
}
