package server

import (
	"time"

	"github.com/jo-hoe/reelforge/internal/jobs"
)

type jobView struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	RequestedCount int            `json:"requestedCount"`
	ACount         int            `json:"aCount"`
	BCount         int            `json:"bCount"`
	WorkflowMode   string         `json:"workflowMode"`
	VoiceProfileID *string        `json:"voiceProfileId"`
	Settings       map[string]any `json:"settings"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

type itemView struct {
	ID               string         `json:"id"`
	Mode             string         `json:"mode"`
	Status           string         `json:"status"`
	Concept          map[string]any `json:"concept"`
	RemoteTaskID     *string        `json:"remoteTaskId"`
	ApprovalStatus   string         `json:"approvalStatus"`
	ApprovalNote     *string        `json:"approvalNote"`
	QualityScore     *float64       `json:"qualityScore"`
	Quality          map[string]any `json:"quality"`
	EstimatedCostUSD *float64       `json:"estimatedCostUsd"`
	Error            *string        `json:"error"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

type outputView struct {
	ID        string         `json:"id"`
	ItemID    string         `json:"itemId"`
	Type      string         `json:"type"`
	URL       string         `json:"url"`
	Meta      map[string]any `json:"meta"`
	CreatedAt time.Time      `json:"createdAt"`
}

type groupsView struct {
	AEditpack  []string `json:"aEditpack"`
	AVoiceover []string `json:"aVoiceover"`
	AMp4       []string `json:"aMp4"`
	BMp4       []string `json:"bMp4"`
}

type jobDetailsView struct {
	Job     jobView      `json:"job"`
	Items   []itemView   `json:"items"`
	Outputs []outputView `json:"outputs"`
	Groups  groupsView   `json:"groups"`
}

type voiceProfileView struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Provider        string         `json:"provider"`
	ExternalVoiceID string         `json:"externalVoiceId"`
	IsDefault       bool           `json:"isDefault"`
	Settings        map[string]any `json:"settings"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

type publishEntryView struct {
	ID             string    `json:"id"`
	OutputID       string    `json:"outputId"`
	Channel        string    `json:"channel"`
	ScheduledFor   time.Time `json:"scheduledFor"`
	Status         string    `json:"status"`
	ExternalPostID *string   `json:"externalPostId"`
	Error          *string   `json:"error"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func detailsToView(d *jobs.JobDetails) jobDetailsView {
	j := d.Job
	out := jobDetailsView{
		Job: jobView{
			ID:             j.ID,
			Status:         string(j.Status),
			RequestedCount: j.RequestedCount,
			ACount:         j.ACount,
			BCount:         j.BCount,
			WorkflowMode:   string(j.WorkflowMode),
			VoiceProfileID: j.VoiceProfileID,
			Settings:       j.Settings,
			CreatedAt:      j.CreatedAt,
			UpdatedAt:      j.UpdatedAt,
		},
		Items:   make([]itemView, 0, len(d.Items)),
		Outputs: make([]outputView, 0, len(d.Outputs)),
	}
	for _, it := range d.Items {
		out.Items = append(out.Items, itemView{
			ID:               it.ID,
			Mode:             string(it.Mode),
			Status:           string(it.Status),
			Concept:          it.Concept,
			RemoteTaskID:     it.RemoteTaskID,
			ApprovalStatus:   string(it.ApprovalStatus),
			ApprovalNote:     it.ApprovalNote,
			QualityScore:     it.QualityScore,
			Quality:          it.Quality,
			EstimatedCostUSD: it.EstimatedCostUSD,
			Error:            it.Error,
			CreatedAt:        it.CreatedAt,
			UpdatedAt:        it.UpdatedAt,
		})
	}
	for _, o := range d.Outputs {
		out.Outputs = append(out.Outputs, outputView{
			ID: o.ID, ItemID: o.ItemID, Type: string(o.Type), URL: o.URL, Meta: o.Meta, CreatedAt: o.CreatedAt,
		})
	}
	g := d.OutputsByType()
	out.Groups = groupsView{
		AEditpack:  g[jobs.OutputEditPack],
		AVoiceover: g[jobs.OutputVoiceover],
		AMp4:       g[jobs.OutputRenderedA],
		BMp4:       g[jobs.OutputVideo],
	}
	return out
}

func voiceToView(p *jobs.VoiceProfile) voiceProfileView {
	return voiceProfileView{
		ID:              p.ID,
		Name:            p.Name,
		Provider:        p.Provider,
		ExternalVoiceID: p.ExternalVoiceID,
		IsDefault:       p.IsDefault,
		Settings:        p.Settings,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

func publishToView(e *jobs.PublishEntry) publishEntryView {
	return publishEntryView{
		ID:             e.ID,
		OutputID:       e.OutputID,
		Channel:        e.Channel,
		ScheduledFor:   e.ScheduledFor,
		Status:         e.Status,
		ExternalPostID: e.ExternalPostID,
		Error:          e.Error,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

type presetView struct {
	Name            string  `json:"name"`
	MaxPerOutputUSD float64 `json:"maxPerOutputUsd"`
	MaxBatchUSD     float64 `json:"maxBatchUsd"`
	DefaultProvider string  `json:"defaultProvider"`
}

type costPresetsView struct {
	DefaultPreset       string       `json:"defaultPreset"`
	DefaultWorkflowMode string       `json:"defaultWorkflowMode"`
	Presets             []presetView `json:"presets"`
}
