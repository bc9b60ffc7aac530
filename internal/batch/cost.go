package batch

import (
	"fmt"
	"math"

	"github.com/jo-hoe/reelforge/internal/jobs"
)

// Preset bounds spend per output and per batch.
type Preset struct {
	Name            string
	MaxPerOutputUSD float64
	MaxBatchUSD     float64
	DefaultProvider string
}

var presets = map[string]Preset{
	"cheap":       {Name: "cheap", MaxPerOutputUSD: 0.08, MaxBatchUSD: 4, DefaultProvider: "openai"},
	"balanced":    {Name: "balanced", MaxPerOutputUSD: 0.2, MaxBatchUSD: 12, DefaultProvider: "auto"},
	"max_quality": {Name: "max_quality", MaxPerOutputUSD: 0.6, MaxBatchUSD: 30, DefaultProvider: "gemini"},
}

// LookupPreset returns the named cost preset.
func LookupPreset(name string) (Preset, error) {
	p, ok := presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("unknown cost preset %q", name)
	}
	return p, nil
}

// Presets lists the available presets, cheapest first.
func Presets() []Preset {
	return []Preset{presets["cheap"], presets["balanced"], presets["max_quality"]}
}

func roundUSD(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// EstimateItemCost approximates generation spend for one item in USD.
func EstimateItemCost(mode jobs.Mode, c jobs.Concept) float64 {
	hookLen := float64(len(c.Hook()))
	if mode == jobs.ModeA {
		return roundUSD(0.002 + hookLen*0.00001)
	}
	seconds := math.Min(math.Max(float64(c.DurationSeconds(10)), 4), 12)
	return roundUSD(seconds*0.015 + 0.003 + hookLen*0.00001)
}

// EstimateVoiceoverCost approximates narration spend for text in USD.
func EstimateVoiceoverCost(text string) float64 {
	return roundUSD(0.00008*float64(len(text)) + 0.0015)
}
