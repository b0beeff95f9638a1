package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/openreel/publisher-be/internal/video"
)

// DecodeVideoCursor parses an opaque listing cursor. An empty string means
// the first page.
func DecodeVideoCursor(cursorStr string) (*video.ListCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	parts := strings.Split(string(decoded), "|")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var createdAt int64
	if _, err := fmt.Sscanf(parts[0], "%d", &createdAt); err != nil {
		return nil, fmt.Errorf("invalid timestamp in cursor: %w", err)
	}

	return &video.ListCursor{
		CreatedAt: time.Unix(0, createdAt).UTC(),
		ID:        parts[1],
	}, nil
}

// EncodeVideoCursor renders a keyset position as an opaque string.
func EncodeVideoCursor(cursor *video.ListCursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.CreatedAt.UnixNano(), cursor.ID)
	return base64.StdEncoding.EncodeToString([]byte(cs))
}
