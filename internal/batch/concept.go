package batch

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jo-hoe/reelforge/internal/jobs"
)

var hooks = []string{
	"POV: your side hustle just outran your 9-5",
	"3 moves that instantly lift retention",
	"Why your edits feel slow (fix in 30s)",
	"The $0 workflow that fakes a production team",
	"This one framing tweak doubles watch time",
}

// angles give each variant of a base concept a distinct creative direction.
var angles = []string{"direct", "contrarian", "story", "listicle", "question", "challenge"}

const redacted = "[redacted]"

// Brand carries optional brand constraints captured by value into each concept.
type Brand struct {
	Claims      []string `json:"claims,omitempty"`
	DefaultCTA  string   `json:"defaultCta,omitempty"`
	Tone        string   `json:"tone,omitempty"`
	BannedWords []string `json:"bannedWords,omitempty"`
}

// Trend is an optional trend signal snapshot.
type Trend struct {
	Title     string `json:"title,omitempty"`
	HookStyle string `json:"hookStyle,omitempty"`
}

// Candidate is a scored title or thumbnail prompt suggestion.
type Candidate struct {
	Text      string `json:"text"`
	Score     int    `json:"score"`
	Rationale string `json:"rationale"`
}

type conceptInput struct {
	index        int
	mode         jobs.Mode
	variantIndex int
	variantCount int
	parentID     string
	provider     string
	brand        *Brand
	trend        *Trend
}

func generateConcept(in conceptInput) jobs.Concept {
	hook := hooks[in.index%len(hooks)]
	c := jobs.Concept{
		"hook":            hook,
		"mode":            string(in.mode),
		"variantIndex":    in.variantIndex,
		"variantCount":    in.variantCount,
		"angle":           angles[in.variantIndex%len(angles)],
		"parentConceptId": in.parentID,
		"videoProvider":   in.provider,
	}
	if in.mode == jobs.ModeA {
		c["format"] = "editpack"
		c["structure"] = []string{"hook", "problem", "proof", "cta"}
		c["durationSeconds"] = 28
		c["overlays"] = []string{"subtitle", "stat-callout", "arrow-annotation"}
	} else {
		c["format"] = "prompt_to_video"
		c["style"] = "fast-cut UGC"
		c["durationSeconds"] = 10
		c["camera"] = "handheld vertical"
		c["cta"] = `Comment "BLUEPRINT"`
	}
	if in.trend != nil && in.trend.Title != "" {
		c["trend"] = map[string]any{"title": in.trend.Title, "hookStyle": in.trend.HookStyle}
	}
	if b := in.brand; b != nil {
		if b.DefaultCTA != "" {
			c["cta"] = b.DefaultCTA
		}
		if b.Tone != "" {
			c["tone"] = b.Tone
		}
		if len(b.Claims) > 0 {
			c["proofPoints"] = append([]string(nil), b.Claims...)
		}
		c["hook"] = redact(c.Hook(), b.BannedWords)
	}
	c["titleCandidates"] = titleCandidates(c.Hook(), c.String("cta"))
	c["thumbnailPromptCandidates"] = thumbnailCandidates(c.Hook())
	return c
}

// redact replaces whole-word, case-insensitive matches of banned words.
func redact(s string, banned []string) string {
	for _, w := range banned {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(w) + `\b`)
		s = re.ReplaceAllString(s, redacted)
	}
	return s
}

var digit = regexp.MustCompile(`\d`)

func scoreTitle(title string) int {
	score := 45
	if digit.MatchString(title) {
		score += 18
	}
	if len(title) <= 55 {
		score += 12
	}
	if strings.Contains(strings.ToLower(title), "how") {
		score += 8
	}
	if strings.Contains(title, "?") {
		score += 6
	}
	return clamp(float64(score))
}

func titleCandidates(hook, cta string) []Candidate {
	texts := []string{
		"How to " + strings.ToLower(hook),
		hook + " (without burning out)",
		"Stop scrolling: " + hook,
		hook + " | " + cta,
	}
	out := make([]Candidate, len(texts))
	for i, t := range texts {
		out[i] = Candidate{Text: t, Score: scoreTitle(t), Rationale: "High-clarity short title with curiosity and direct value."}
	}
	return out
}

func thumbnailCandidates(hook string) []Candidate {
	texts := []string{
		fmt.Sprintf("Vertical thumbnail, high contrast text %q, creator pointing at chart, bright teal accents", hook),
		fmt.Sprintf("Close-up face reaction with bold text %q, clean background, red arrow annotation", hook),
		fmt.Sprintf("Split-screen: problem on left, outcome on right, text overlay %q", hook),
	}
	out := make([]Candidate, len(texts))
	for i, t := range texts {
		out[i] = Candidate{Text: t, Score: clamp(float64(70 - i*6)), Rationale: "Readable mobile-first composition with a clear hook."}
	}
	return out
}
