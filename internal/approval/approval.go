package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jo-hoe/reelforge/internal/jobs"
)

// ErrNotPending is returned when an item is not waiting for a decision.
var ErrNotPending = jobs.ErrNotPending

// Action is an operator decision on a pending item.
type Action string

const (
	Approve Action = "approve"
	Reject  Action = "reject"
)

// Decision targets one item. JobID is optional; when set the item must belong to it.
type Decision struct {
	JobID  string
	ItemID string
	Action Action
	Note   string
}

// Gate applies approval decisions to items awaiting a human.
type Gate struct {
	Log   *slog.Logger
	Store jobs.Store
}

func New(log *slog.Logger, store jobs.Store) *Gate {
	return &Gate{Log: log, Store: store}
}

// Decide approves (item becomes queued) or rejects (item becomes skipped) a
// pending item, then recomputes the job status. Repeating the decision already
// taken is accepted and changes nothing, even after the item moved on. The write
// is conditional, so a racing decision or a claim in between yields ErrNotPending.
func (g *Gate) Decide(ctx context.Context, d Decision) (jobs.JobStatus, error) {
	var approval jobs.ApprovalStatus
	var status jobs.ItemStatus
	switch Action(strings.ToLower(string(d.Action))) {
	case Approve:
		approval, status = jobs.ApprovalApproved, jobs.ItemQueued
	case Reject:
		approval, status = jobs.ApprovalRejected, jobs.ItemSkipped
	default:
		return "", jobs.Invalid("action", "must be approve or reject, got %q", d.Action)
	}
	if strings.TrimSpace(d.ItemID) == "" {
		return "", jobs.Invalid("item_id", "is required")
	}

	item, err := g.Store.GetJobItem(ctx, d.ItemID)
	if err != nil {
		return "", err
	}
	if d.JobID != "" && item.JobID != d.JobID {
		return "", fmt.Errorf("job item %s in job %s: %w", d.ItemID, d.JobID, jobs.ErrNotFound)
	}

	switch {
	case item.ApprovalStatus == approval:
		g.Log.Debug("approval decision repeated", "job_id", item.JobID, "item_id", item.ID, "action", d.Action)
	case item.ApprovalStatus == jobs.ApprovalPending && item.Status == jobs.ItemAwaitingApproval:
		var note *string
		if n := strings.TrimSpace(d.Note); n != "" {
			note = &n
		}
		err := g.Store.SetJobItemApproval(ctx, item.ID, approval, status, note)
		switch {
		case errors.Is(err, jobs.ErrNotPending):
			if err := g.settled(ctx, item.ID, approval, err); err != nil {
				return "", err
			}
		case err != nil:
			return "", fmt.Errorf("set approval: %w", err)
		default:
			g.Log.Info("item decided", "job_id", item.JobID, "item_id", item.ID, "approval", approval)
		}
	default:
		return "", fmt.Errorf("job item %s is %s/%s: %w", item.ID, item.Status, item.ApprovalStatus, ErrNotPending)
	}

	js, err := g.Store.RefreshJobStatus(ctx, item.JobID)
	if err != nil {
		return "", fmt.Errorf("refresh job status: %w", err)
	}
	return js, nil
}

// settled turns a lost conditional write into a repeat when the winning decision
// was the same one.
func (g *Gate) settled(ctx context.Context, id string, approval jobs.ApprovalStatus, lost error) error {
	cur, err := g.Store.GetJobItem(ctx, id)
	if err != nil {
		return err
	}
	if cur.ApprovalStatus == approval {
		return nil
	}
	return fmt.Errorf("job item %s is %s/%s: %w", cur.ID, cur.Status, cur.ApprovalStatus, lost)
}
