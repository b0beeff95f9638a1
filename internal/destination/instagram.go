package destination

import (
	"log/slog"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/openreel/publisher-be/internal/video"
)

// NewInstagram builds the Instagram uploader. Instagram publishes everything
// as a reel; visibility settings do not apply.
func NewInstagram(client Client, creds CredentialStore, refresher Refresher, logger *slog.Logger, limit rate.Limit, burst int) *Uploader {
	return newUploader(profile{
		kind: video.DestInstagram,
		transientHints: []string{
			"application request limit reached",
			"unknown error occurred",
		},
		authHints: []string{
			"error validating access token",
			"session has expired",
		},
		buildFields: instagramFields,
	}, client, creds, refresher, logger, limit, burst)
}

type instagramSettings struct {
	Description string `json:"description"`
	Instagram   struct {
		ShareToFeed bool   `json:"share_to_feed"`
		CoverURL    string `json:"cover_url"`
	} `json:"instagram"`
}

func instagramFields(v *video.Video) (map[string]string, error) {
	var s instagramSettings
	if err := decodeSettings(v.Settings, &s); err != nil {
		return nil, err
	}

	caption := v.Title
	if s.Description != "" {
		caption += "\n\n" + s.Description
	}

	fields := map[string]string{
		"media_type": "REELS",
		"caption":    caption,
	}
	if s.Instagram.ShareToFeed {
		fields["share_to_feed"] = strconv.FormatBool(s.Instagram.ShareToFeed)
	}
	if s.Instagram.CoverURL != "" {
		fields["cover_url"] = s.Instagram.CoverURL
	}

	return fields, nil
}
