package handler_test

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openreel/publisher-be/internal/api/handler"
	"github.com/openreel/publisher-be/internal/video"
)

func TestVideoCursorRoundTrip(t *testing.T) {
	in := &video.ListCursor{
		CreatedAt: time.Date(2026, 5, 2, 18, 4, 9, 120000000, time.UTC),
		ID:        "9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d",
	}

	out, err := handler.DecodeVideoCursor(handler.EncodeVideoCursor(in))
	require.NoError(t, err)
	assert.True(t, out.CreatedAt.Equal(in.CreatedAt))
	assert.Equal(t, in.ID, out.ID)
}

func TestDecodeVideoCursor_Empty(t *testing.T) {
	out, err := handler.DecodeVideoCursor("")
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestDecodeVideoCursor_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		cursor string
	}{
		{"not base64", "!!!"},
		{"missing separator", base64.StdEncoding.EncodeToString([]byte("1748000000000000000"))},
		{"non-numeric timestamp", base64.StdEncoding.EncodeToString([]byte("soon|some-id"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := handler.DecodeVideoCursor(tt.cursor)
			assert.Error(t, err)
		})
	}
}
