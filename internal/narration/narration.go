package narration

import (
	"context"
	"fmt"

	"github.com/jo-hoe/reelforge/internal/config"
	"github.com/jo-hoe/reelforge/internal/narration/elevenlabs"
	"github.com/jo-hoe/reelforge/internal/narration/mock"
	"github.com/jo-hoe/reelforge/internal/storage"
)

// Synthesizer turns text into spoken audio. key is the blob key the audio is
// stored under; the returned string is the URL of the stored audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, voiceID, text, key string) (string, error)
}

// New returns the configured synthesizer, or nil when narration is disabled.
func New(cfg config.NarrationConfig, blobs storage.Blob) (Synthesizer, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "elevenlabs":
		return elevenlabs.New(cfg.ElevenLabs, blobs), nil
	case "mock":
		return mock.New(cfg.Mock, blobs), nil
	default:
		return nil, fmt.Errorf("unknown narration provider %q", cfg.Provider)
	}
}
