package jobs

import "strings"

func validateJob(job *Job) error {
	if job == nil {
		return Invalid("job", "is nil")
	}
	if strings.TrimSpace(job.ID) == "" {
		return Invalid("id", "is required")
	}
	if job.RequestedCount <= 0 {
		return Invalid("requested_count", "must be positive, got %d", job.RequestedCount)
	}
	if job.ACount < 0 || job.BCount < 0 {
		return Invalid("split", "counts must not be negative")
	}
	if job.ACount+job.BCount != job.RequestedCount {
		return Invalid("split", "a (%d) + b (%d) must equal count (%d)", job.ACount, job.BCount, job.RequestedCount)
	}
	switch job.WorkflowMode {
	case WorkflowAutonomous, WorkflowApproval:
	case "":
		job.WorkflowMode = WorkflowAutonomous
	default:
		return Invalid("workflow_mode", "unknown value %q", job.WorkflowMode)
	}
	if job.Status == "" {
		job.Status = JobQueued
	}
	return nil
}

func validateItem(item *Item) error {
	if item == nil {
		return Invalid("item", "is nil")
	}
	if strings.TrimSpace(item.ID) == "" {
		return Invalid("id", "is required")
	}
	if strings.TrimSpace(item.JobID) == "" {
		return Invalid("job_id", "is required")
	}
	if item.Mode != ModeA && item.Mode != ModeB {
		return Invalid("mode", "unknown value %q", item.Mode)
	}
	switch item.Status {
	case ItemAwaitingApproval, ItemQueued:
	default:
		return Invalid("status", "items must start queued or awaiting_approval, got %q", item.Status)
	}
	if item.ApprovalStatus == "" {
		item.ApprovalStatus = ApprovalNotRequired
	}
	if item.Concept == nil {
		item.Concept = Concept{}
	}
	return nil
}
