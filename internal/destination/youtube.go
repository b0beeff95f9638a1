package destination

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/openreel/publisher-be/internal/video"
)

// NewYouTube builds the YouTube uploader.
func NewYouTube(client Client, creds CredentialStore, refresher Refresher, logger *slog.Logger, limit rate.Limit, burst int) *Uploader {
	return newUploader(profile{
		kind: video.DestYouTube,
		transientHints: []string{
			"ratelimitexceeded",
			"quotaexceeded",
			"backenderror",
			"internalerror",
		},
		authHints: []string{
			"autherror",
			"invalid_grant",
		},
		buildFields: youtubeFields,
	}, client, creds, refresher, logger, limit, burst)
}

type youtubeSettings struct {
	Visibility  string   `json:"visibility"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	YouTube     struct {
		CategoryID  string `json:"category_id"`
		MadeForKids bool   `json:"made_for_kids"`
	} `json:"youtube"`
}

func youtubeFields(v *video.Video) (map[string]string, error) {
	var s youtubeSettings
	if err := decodeSettings(v.Settings, &s); err != nil {
		return nil, err
	}

	var privacy string
	switch s.Visibility {
	case "", "private":
		privacy = "private"
	case "public":
		privacy = "public"
	case "unlisted":
		privacy = "unlisted"
	default:
		return nil, fmt.Errorf("unknown visibility %q", s.Visibility)
	}

	fields := map[string]string{
		"privacy_status": privacy,
	}
	if s.Description != "" {
		fields["description"] = s.Description
	}
	if len(s.Tags) > 0 {
		fields["tags"] = strings.Join(s.Tags, ",")
	}
	if s.YouTube.CategoryID != "" {
		fields["category_id"] = s.YouTube.CategoryID
	}
	if s.YouTube.MadeForKids {
		fields["made_for_kids"] = strconv.FormatBool(s.YouTube.MadeForKids)
	}

	return fields, nil
}
