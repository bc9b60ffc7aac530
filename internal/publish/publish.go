package publish

import (
	"context"
	"errors"
	"time"
)

// Channel is a social destination for a rendered video.
type Channel string

const (
	TikTok         Channel = "tiktok"
	InstagramReels Channel = "instagram_reels"
)

// ParseChannel validates a channel name.
func ParseChannel(s string) (Channel, error) {
	switch Channel(s) {
	case TikTok, InstagramReels:
		return Channel(s), nil
	default:
		return "", errors.New("channel must be tiktok or instagram_reels")
	}
}

// ScheduleRequest describes one post.
type ScheduleRequest struct {
	Channel      Channel
	MediaURL     string
	Caption      string
	ScheduledFor time.Time
}

// ScheduleResult is returned by a successful Schedule call. Raw holds the
// provider's response body for auditing.
type ScheduleResult struct {
	ExternalPostID string
	Status         string
	Raw            map[string]any
}

// Scheduler hands posts to an external social scheduling service.
type Scheduler interface {
	Schedule(ctx context.Context, req ScheduleRequest) (ScheduleResult, error)
	CheckStatus(ctx context.Context, externalID string) (string, error)
}
