package batch

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/jo-hoe/reelforge/internal/config"
	"github.com/jo-hoe/reelforge/internal/jobs"
)

const (
	minVariants = 1
	maxVariants = 6

	downgradeSeconds = 4
	downgradeNote    = "Adjusted by hard per-output budget cap."
)

// Request describes a batch to create. Zero counts fall back to the configured
// default split; empty enums fall back to configured defaults.
type Request struct {
	Count          int    `json:"count"`
	ACount         int    `json:"aCount"`
	BCount         int    `json:"bCount"`
	WorkflowMode   string `json:"workflowMode,omitempty"`
	VoiceProfileID string `json:"voiceProfileId,omitempty"`
	VideoProvider  string `json:"videoProvider,omitempty"`
	VariantCount   int    `json:"variantCount,omitempty"`
	CostPreset     string `json:"costPreset,omitempty"`
	Brand          *Brand `json:"brand,omitempty"`
	Trend          *Trend `json:"trend,omitempty"`
}

// Result reports what Create wrote. Created may be lower than Requested when the
// batch budget stopped creation early.
type Result struct {
	JobID     string `json:"jobId"`
	Requested int    `json:"requested"`
	Created   int    `json:"created"`
	Truncated bool   `json:"truncated"`
}

// Factory turns batch requests into a job and its items.
type Factory struct {
	Log   *slog.Logger
	Cfg   config.BatchConfig
	Store jobs.Store
	// NewID is used for job, item and parent concept ids; defaults to uuid.NewString.
	NewID func() string
}

func New(log *slog.Logger, cfg config.BatchConfig, store jobs.Store) *Factory {
	return &Factory{Log: log, Cfg: cfg, Store: store, NewID: uuid.NewString}
}

type plan struct {
	aCount, bCount int
	workflow       jobs.WorkflowMode
	provider       string
	variants       int
	preset         Preset
	voiceID        *string
}

// Create validates req, builds all concepts and writes the job and items in one
// transaction. Nothing is written when validation fails.
func (f *Factory) Create(ctx context.Context, req Request) (Result, error) {
	p, err := f.resolve(ctx, req)
	if err != nil {
		return Result{}, err
	}

	jobID := f.NewID()
	job := &jobs.Job{
		ID:             jobID,
		Status:         jobs.JobQueued,
		RequestedCount: p.aCount + p.bCount,
		ACount:         p.aCount,
		BCount:         p.bCount,
		WorkflowMode:   p.workflow,
		VoiceProfileID: p.voiceID,
		Settings: map[string]any{
			"workflowMode":       string(p.workflow),
			"voiceProfileId":     p.voiceID,
			"videoProvider":      p.provider,
			"variantCount":       p.variants,
			"costPreset":         p.preset.Name,
			"trendSnapshotTitle": trendTitle(req.Trend),
		},
	}

	initial, approval := jobs.ItemQueued, jobs.ApprovalNotRequired
	if p.workflow == jobs.WorkflowApproval {
		initial, approval = jobs.ItemAwaitingApproval, jobs.ApprovalPending
	}

	res := Result{JobID: jobID, Requested: (p.aCount + p.bCount) * p.variants}
	var items []*jobs.Item
	total := 0.0

	// The budget ceiling applies to the whole batch: once exceeded, no further
	// items of either mode are created.
build:
	for _, group := range []struct {
		mode  jobs.Mode
		count int
	}{{jobs.ModeA, p.aCount}, {jobs.ModeB, p.bCount}} {
		for i := 0; i < group.count; i++ {
			parentID := f.NewID()
			for v := 0; v < p.variants; v++ {
				concept := generateConcept(conceptInput{
					index:        i,
					mode:         group.mode,
					variantIndex: v,
					variantCount: p.variants,
					parentID:     parentID,
					provider:     p.provider,
					brand:        req.Brand,
					trend:        req.Trend,
				})
				quality := ScoreConcept(concept)
				cost := EstimateItemCost(group.mode, concept)
				if group.mode == jobs.ModeB && cost > p.preset.MaxPerOutputUSD {
					concept["durationSeconds"] = downgradeSeconds
					concept["videoProvider"] = p.preset.DefaultProvider
					concept["optimizerNote"] = downgradeNote
					cost = EstimateItemCost(group.mode, concept)
				}
				total += cost
				if total > p.preset.MaxBatchUSD {
					break build
				}
				score := float64(quality.Total)
				itemCost := cost
				items = append(items, &jobs.Item{
					ID:               f.NewID(),
					JobID:            jobID,
					Mode:             group.mode,
					Status:           initial,
					Concept:          concept,
					ApprovalStatus:   approval,
					QualityScore:     &score,
					Quality:          quality.asMap(),
					EstimatedCostUSD: &itemCost,
				})
			}
		}
	}

	if err := f.Store.CreateBatch(ctx, job, items); err != nil {
		return Result{}, err
	}
	res.Created = len(items)
	res.Truncated = res.Created < res.Requested
	if res.Created == 0 {
		// nothing will ever refresh an empty job otherwise
		if _, err := f.Store.RefreshJobStatus(ctx, jobID); err != nil {
			return Result{}, err
		}
	}
	f.Log.Info("batch created", "job_id", jobID, "requested", res.Requested, "created", res.Created,
		"workflow_mode", p.workflow, "cost_preset", p.preset.Name, "estimated_usd", roundUSD(total))
	return res, nil
}

func (f *Factory) resolve(ctx context.Context, req Request) (plan, error) {
	var p plan
	count, a, b := req.Count, req.ACount, req.BCount
	if count == 0 && a == 0 && b == 0 {
		a, b = f.Cfg.DefaultACount, f.Cfg.DefaultBCount
		count = a + b
	}
	if a < 0 || b < 0 {
		return p, jobs.Invalid("split", "counts must not be negative")
	}
	if count <= 0 {
		return p, jobs.Invalid("count", "must be positive, got %d", count)
	}
	if a+b != count {
		return p, jobs.Invalid("split", "split must sum to count: a (%d) + b (%d) != %d", a, b, count)
	}
	p.aCount, p.bCount = a, b

	wf := strings.TrimSpace(req.WorkflowMode)
	if wf == "" {
		wf = f.Cfg.DefaultWorkflowMode
	}
	switch jobs.WorkflowMode(wf) {
	case jobs.WorkflowAutonomous, jobs.WorkflowApproval:
		p.workflow = jobs.WorkflowMode(wf)
	case "":
		p.workflow = jobs.WorkflowAutonomous
	default:
		return p, jobs.Invalid("workflow_mode", "unknown value %q", wf)
	}

	presetName := strings.TrimSpace(req.CostPreset)
	if presetName == "" {
		presetName = f.Cfg.DefaultCostPreset
	}
	if presetName == "" {
		presetName = "balanced"
	}
	preset, err := LookupPreset(presetName)
	if err != nil {
		return p, jobs.Invalid("cost_preset", "unknown value %q", presetName)
	}
	p.preset = preset

	switch prov := strings.ToLower(strings.TrimSpace(req.VideoProvider)); prov {
	case "":
		p.provider = preset.DefaultProvider
	case "auto", "openai", "gemini", "mock":
		p.provider = prov
	default:
		return p, jobs.Invalid("video_provider", "unknown value %q", req.VideoProvider)
	}

	p.variants = req.VariantCount
	if p.variants == 0 {
		p.variants = f.Cfg.DefaultVariantCount
	}
	p.variants = max(minVariants, min(maxVariants, p.variants))

	if id := strings.TrimSpace(req.VoiceProfileID); id != "" {
		vp, err := f.Store.GetVoiceProfile(ctx, id)
		if errors.Is(err, jobs.ErrNotFound) {
			return p, jobs.Invalid("voice_profile_id", "unknown voice profile %q", id)
		}
		if err != nil {
			return p, err
		}
		p.voiceID = &vp.ID
	} else {
		vp, err := f.Store.GetDefaultVoiceProfile(ctx)
		switch {
		case err == nil:
			p.voiceID = &vp.ID
		case !errors.Is(err, jobs.ErrNotFound):
			return p, err
		}
	}
	return p, nil
}

func trendTitle(t *Trend) any {
	if t == nil || t.Title == "" {
		return nil
	}
	return t.Title
}
