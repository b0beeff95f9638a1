package destination

import (
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/openreel/publisher-be/internal/video"
)

// NewTikTok builds the TikTok uploader.
func NewTikTok(client Client, creds CredentialStore, refresher Refresher, logger *slog.Logger, limit rate.Limit, burst int) *Uploader {
	return newUploader(profile{
		kind: video.DestTikTok,
		transientHints: []string{
			"rate_limit_exceeded",
			"spam_risk",
			"internal_error",
		},
		authHints: []string{
			"access_token_invalid",
			"token_expired",
		},
		buildFields: tiktokFields,
	}, client, creds, refresher, logger, limit, burst)
}

type tiktokSettings struct {
	Visibility string `json:"visibility"`
	TikTok     struct {
		DisableComments bool `json:"disable_comments"`
		DisableDuet     bool `json:"disable_duet"`
		DisableStitch   bool `json:"disable_stitch"`
	} `json:"tiktok"`
}

func tiktokFields(v *video.Video) (map[string]string, error) {
	var s tiktokSettings
	if err := decodeSettings(v.Settings, &s); err != nil {
		return nil, err
	}

	var privacy string
	switch s.Visibility {
	case "", "private":
		privacy = "SELF_ONLY"
	case "public":
		privacy = "PUBLIC_TO_EVERYONE"
	case "unlisted":
		privacy = "FOLLOWER_OF_CREATOR"
	default:
		return nil, fmt.Errorf("unknown visibility %q", s.Visibility)
	}

	fields := map[string]string{
		"privacy_level": privacy,
	}
	if s.TikTok.DisableComments {
		fields["disable_comment"] = strconv.FormatBool(s.TikTok.DisableComments)
	}
	if s.TikTok.DisableDuet {
		fields["disable_duet"] = strconv.FormatBool(s.TikTok.DisableDuet)
	}
	if s.TikTok.DisableStitch {
		fields["disable_stitch"] = strconv.FormatBool(s.TikTok.DisableStitch)
	}

	return fields, nil
}
