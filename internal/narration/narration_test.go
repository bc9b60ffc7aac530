package narration

import (
	"testing"

	"github.com/jo-hoe/reelforge/internal/config"
)

func TestNew_SelectsProvider(t *testing.T) {
	for _, p := range []string{"", "none"} {
		s, err := New(config.NarrationConfig{Provider: p}, nil)
		if err != nil || s != nil {
			t.Fatalf("provider %q: expected disabled, got %v %v", p, s, err)
		}
	}
	for _, p := range []string{"elevenlabs", "mock"} {
		s, err := New(config.NarrationConfig{Provider: p}, nil)
		if err != nil || s == nil {
			t.Fatalf("provider %q: %v %v", p, s, err)
		}
	}
	if _, err := New(config.NarrationConfig{Provider: "polly"}, nil); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}
