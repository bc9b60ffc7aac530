package batch

import (
	"math"
	"strings"

	"github.com/jo-hoe/reelforge/internal/jobs"
)

// Quality is a heuristic 0..100 score breakdown for a concept.
type Quality struct {
	Hook      int `json:"hook"`
	Clarity   int `json:"clarity"`
	Proof     int `json:"proof"`
	CTA       int `json:"cta"`
	VisualFit int `json:"visualFit"`
	Total     int `json:"total"`
}

func (q Quality) asMap() map[string]any {
	return map[string]any{
		"hook":      q.Hook,
		"clarity":   q.Clarity,
		"proof":     q.Proof,
		"cta":       q.CTA,
		"visualFit": q.VisualFit,
		"total":     q.Total,
	}
}

func clamp(v float64) int {
	return int(math.Max(0, math.Min(100, math.Round(v))))
}

// ScoreConcept rates a concept on hook length, structure, proof cues and CTA.
func ScoreConcept(c jobs.Concept) Quality {
	hook := c.Hook()
	lower := strings.ToLower(hook)
	cta := c.String("cta")

	q := Quality{
		Hook:    clamp(45 + float64(min(len(hook), 80))*0.6),
		Clarity: clamp(40 + float64(c.Len("structure"))*12 + float64(c.Len("overlays"))*5),
		CTA:     clamp(35 + float64(min(len(cta), 40))*1.2),
	}
	proof := 35.0
	if strings.Contains(lower, "$") {
		proof += 15
	}
	if strings.Contains(lower, "proof") || c.Len("proofPoints") > 0 {
		proof += 20
	}
	q.Proof = clamp(proof)
	visual := 50.0
	if _, ok := c["trend"]; ok {
		visual += 18
	}
	q.VisualFit = clamp(visual)
	q.Total = clamp(float64(q.Hook+q.Clarity+q.Proof+q.CTA+q.VisualFit) / 5)
	return q
}
