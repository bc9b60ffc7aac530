package mock

import (
	"context"
	"time"

	"github.com/jo-hoe/reelforge/internal/common"
	"github.com/jo-hoe/reelforge/internal/config"
	"github.com/jo-hoe/reelforge/internal/storage"
)

// silentFrame is a single MPEG-1 Layer III frame header followed by padding.
var silentFrame = append([]byte{0xFF, 0xFB, 0x90, 0x64}, make([]byte, 413)...)

// Synthesizer stores a short silent mp3 for any input.
type Synthesizer struct {
	delay time.Duration
	blobs storage.Blob
}

func New(cfg config.MockNarrationConfig, blobs storage.Blob) *Synthesizer {
	if blobs == nil {
		blobs = storage.Inline{}
	}
	return &Synthesizer{delay: cfg.Delay, blobs: blobs}
}

func (s *Synthesizer) Synthesize(ctx context.Context, _ string, _ string, key string) (string, error) {
	if s.delay > 0 {
		t := time.NewTimer(s.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.C:
		}
	}
	return s.blobs.Put(ctx, key, common.ContentTypeMPEG, silentFrame)
}
